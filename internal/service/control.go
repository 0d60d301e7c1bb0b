package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/platform"
)

// GetLog returns journal entries in insertion order. It goes straight to the
// store and never touches the run lock, so it stays responsive mid-run.
func (s *Service) GetLog(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit < 0 {
		return nil, domain.ErrInvalidLogLimit
	}
	return s.store.GetLog(ctx, limit)
}

// ClearLog empties the journal. Irreversible; does not affect the run state.
func (s *Service) ClearLog(ctx context.Context) error {
	return s.store.ClearLog(ctx)
}

// CurrentRun returns a snapshot of the current run state. When no run has
// been accepted yet, the state is idle.
func (s *Service) CurrentRun() *domain.BatchRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return &domain.BatchRun{Status: domain.RunStatusIdle, StoppedReason: domain.StopReasonNone}
	}
	return copyRun(s.run)
}

// ListRuns returns historical batch runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.BatchRun, error) {
	return s.store.ListBatchRuns(ctx, limit)
}

// ListUpdates returns the pending update items from a fresh snapshot.
func (s *Service) ListUpdates(ctx context.Context) ([]domain.UpdateItem, error) {
	snapshot, err := s.platform.SnapshotItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read update snapshot: %w", err)
	}

	var pending []domain.UpdateItem
	for _, item := range snapshot {
		if item.Pending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// RebootNow invokes the host restart capability. Restarting is a deliberate,
// separate operator action; finishing a batch never triggers it implicitly.
// Repeated calls while a restart is underway are the capability's concern.
func (s *Service) RebootNow(ctx context.Context) error {
	if !s.platform.SupportsHostRestart() {
		return domain.ErrRestartNotSupported
	}
	if err := s.platform.RestartHost(ctx); err != nil {
		if errors.Is(err, platform.ErrRestartNotSupported) {
			return domain.ErrRestartNotSupported
		}
		return fmt.Errorf("failed to restart host: %w", err)
	}
	return nil
}
