// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/upbatch/orchestrator/internal/domain"
)

// Store defines the interface for data persistence. The batch journal is
// append-only and size-bounded; entries are never mutated after append.
type Store interface {
	// Journal operations
	AppendLogEntry(ctx context.Context, entry *domain.LogEntry) error
	GetLog(ctx context.Context, limit int) ([]domain.LogEntry, error)
	ClearLog(ctx context.Context) error
	CountLogEntries(ctx context.Context) (int, error)

	// Batch run history
	CreateBatchRun(ctx context.Context, run *domain.BatchRun) error
	UpdateBatchRun(ctx context.Context, run *domain.BatchRun) error
	GetBatchRun(ctx context.Context, runID string) (*domain.BatchRun, error)
	ListBatchRuns(ctx context.Context, limit int) ([]domain.BatchRun, error)

	// Lifecycle
	Close() error
}
