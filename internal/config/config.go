// Package config provides configuration for the batch update orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Host supervisor settings
	SupervisorURL   string
	SupervisorToken string
	HostControl     bool

	// Timeouts
	ItemTimeout   time.Duration
	BackupTimeout time.Duration
	PollInterval  time.Duration

	// Log retention
	MaxLogEntries int
	LogTrimTarget int

	// Admission policy
	PolicyPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", "file:batchupd.db?cache=shared&mode=rwc"),
		SupervisorURL:   getEnv("SUPERVISOR_URL", "http://localhost:8099"),
		SupervisorToken: getEnv("SUPERVISOR_TOKEN", ""),
		HostControl:     getEnvBool("HOST_CONTROL", true),
		ItemTimeout:     time.Duration(getEnvInt("ITEM_TIMEOUT_MS", 1800000)) * time.Millisecond,
		BackupTimeout:   time.Duration(getEnvInt("BACKUP_TIMEOUT_MS", 1200000)) * time.Millisecond,
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		MaxLogEntries:   getEnvInt("MAX_LOG_ENTRIES", 1000),
		LogTrimTarget:   getEnvInt("LOG_TRIM_TARGET", 700),
		PolicyPath:      getEnv("BATCH_POLICY_PATH", ""),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
