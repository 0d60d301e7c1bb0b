package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/upbatch/orchestrator/internal/config"
	"github.com/upbatch/orchestrator/internal/platform/supervisor"
	"github.com/upbatch/orchestrator/internal/service"
	"github.com/upbatch/orchestrator/internal/store"
	v1 "github.com/upbatch/orchestrator/internal/transport/http/v1"
	"github.com/upbatch/orchestrator/internal/transport/ws"
	"github.com/upbatch/orchestrator/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting batch update orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Supervisor: %s", cfg.SupervisorURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL, cfg.MaxLogEntries, cfg.LogTrimTarget)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize supervisor client
	platformClient := supervisor.NewClient(cfg.SupervisorURL, cfg.SupervisorToken, cfg.HostControl)

	// Initialize admission policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize event feed hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize service
	svc := service.New(db, platformClient, hub, policyEngine, cfg)

	// Initialize handlers
	h := v1.NewHandler(svc)
	wsServer := ws.NewServer(hub)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Control surface started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
