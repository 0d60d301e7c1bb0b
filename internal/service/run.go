package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/plan"
	"github.com/upbatch/orchestrator/policy"
)

var (
	errItemTimeout   = errors.New("timed out waiting for item to complete")
	errSnapshotFault = errors.New("snapshot read failed")
	errJournalFault  = errors.New("journal write failed")
)

// StartRun validates a run request and, on acceptance, starts processing the
// plan in the background. All validation happens under the run lock, so two
// racing callers cannot both be accepted.
func (s *Service) StartRun(ctx context.Context, req domain.RunRequest) (*domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil && s.run.Status == domain.RunStatusRunning {
		return nil, domain.ErrAlreadyRunning
	}
	if len(req.SelectedIDs) == 0 {
		return nil, domain.ErrEmptySelection
	}

	snapshot, err := s.platform.SnapshotItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read update snapshot: %w", err)
	}

	pending := make(map[string]domain.UpdateItem, len(snapshot))
	for _, item := range snapshot {
		if item.Pending {
			pending[item.ID] = item
		}
	}

	// Selection is a set: duplicates collapse.
	seen := make(map[string]bool, len(req.SelectedIDs))
	var selected []domain.UpdateItem
	for _, id := range req.SelectedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		item, ok := pending[id]
		if !ok {
			return nil, &domain.UnknownItemError{ID: id}
		}
		selected = append(selected, item)
	}

	if s.policy != nil {
		input := policy.Input{Backup: req.BackupBeforeEach}
		for _, item := range selected {
			input.IDs = append(input.IDs, item.ID)
			input.Categories = append(input.Categories, string(item.Category))
		}
		decision, reason, err := s.policy.Evaluate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate admission policy: %w", err)
		}
		if decision == "block" {
			if reason == "" {
				reason = "blocked by admission policy"
			}
			return nil, &domain.PolicyBlockedError{Reason: reason}
		}
	}

	ordered := plan.Order(selected)
	names := make(map[string]string, len(selected))
	for _, item := range selected {
		names[item.ID] = item.DisplayName
	}

	run := &domain.BatchRun{
		RunID:            "run_" + uuid.New().String()[:8],
		Status:           domain.RunStatusRunning,
		Plan:             ordered,
		BackupBeforeEach: req.BackupBeforeEach,
		StoppedReason:    domain.StopReasonNone,
		StartedAt:        time.Now().UTC(),
	}

	if err := s.store.CreateBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist batch run: %w", err)
	}

	// One run-level entry opens every accepted batch.
	entry := &domain.LogEntry{
		RunID:  run.RunID,
		Kind:   domain.EventKindStarted,
		Detail: fmt.Sprintf("batch of %d item(s), backup=%v", len(ordered), req.BackupBeforeEach),
	}
	if err := s.store.AppendLogEntry(ctx, entry); err != nil {
		// The journal is the audit trail; a run that cannot be journaled is
		// not started. Close out the orphaned record.
		ended := time.Now().UTC()
		run.Status = domain.RunStatusFinished
		run.StoppedReason = domain.StopReasonItemFailure
		run.EndedAt = &ended
		if uerr := s.store.UpdateBatchRun(ctx, run); uerr != nil {
			log.Printf("ERROR: failed to close orphaned run %s: %v", run.RunID, uerr)
		}
		return nil, fmt.Errorf("failed to open batch journal: %w", err)
	}

	s.run = run

	s.publish(domain.FeedEvent{
		Type:     domain.FeedEventRunAccepted,
		Ts:       time.Now().UnixMilli(),
		RunID:    run.RunID,
		PlanSize: len(ordered),
	})

	go s.processRun(run, names)

	return copyRun(run), nil
}

// processRun drives the plan sequentially: one item fully resolved before the
// next begins, halting the batch on the first backup, install, or journal
// failure.
func (s *Service) processRun(run *domain.BatchRun, names map[string]string) {
	ctx := context.Background()

	for i, itemID := range run.Plan {
		s.advance(ctx, run, i)
		name := names[itemID]

		if run.BackupBeforeEach {
			if err := s.backupItem(ctx, run, itemID, name); err != nil {
				stop := domain.StopReasonBackupFailure
				if errors.Is(err, errJournalFault) {
					stop = domain.StopReasonItemFailure
				}
				s.finishRun(ctx, run, stop)
				return
			}
		}

		if err := s.installItem(ctx, run, i, itemID, name); err != nil {
			s.finishRun(ctx, run, domain.StopReasonItemFailure)
			return
		}
	}

	s.finishRun(ctx, run, domain.StopReasonNone)
}

// backupItem performs the pre-update backup for one item. A non-nil return
// halts the batch. A failed backup leaves completed items in their new state
// and the remainder untouched; no rollback is attempted.
func (s *Service) backupItem(ctx context.Context, run *domain.BatchRun, itemID, name string) error {
	// Journal before acting: an action that cannot be journaled is not taken.
	if err := s.appendLog(ctx, &domain.LogEntry{
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Kind:        domain.EventKindBackupStarted,
		Detail:      "scope=" + itemID,
	}); err != nil {
		return err
	}
	s.publish(domain.FeedEvent{
		Type:        domain.FeedEventBackupStarted,
		Ts:          time.Now().UnixMilli(),
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
	})

	bctx, cancel := context.WithTimeout(ctx, s.config.BackupTimeout)
	defer cancel()

	err := s.platform.Backup(bctx, itemID)
	if err == nil {
		return nil
	}

	reason := "backup_error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	s.appendLog(ctx, &domain.LogEntry{
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Kind:        domain.EventKindBackupFailed,
		Reason:      reason,
		Detail:      err.Error(),
	})
	s.publish(domain.FeedEvent{
		Type:        domain.FeedEventBackupFailed,
		Ts:          time.Now().UnixMilli(),
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Reason:      reason,
	})
	return fmt.Errorf("backup of %s failed: %w", itemID, err)
}

// installItem kicks off one install and waits for its outcome. A non-nil
// return halts the batch. Every failure path appends exactly one entry.
func (s *Service) installItem(ctx context.Context, run *domain.BatchRun, index int, itemID, name string) error {
	kctx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
	err := s.platform.Install(kctx, itemID)
	cancel()
	if err != nil {
		s.failItem(ctx, run, itemID, name, "install_error", err)
		return err
	}

	if aerr := s.appendLog(ctx, &domain.LogEntry{
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Kind:        domain.EventKindStarted,
	}); aerr != nil {
		return aerr
	}
	s.publish(domain.FeedEvent{
		Type:        domain.FeedEventItemStarted,
		Ts:          time.Now().UnixMilli(),
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Index:       index,
		PlanSize:    len(run.Plan),
	})

	if err := s.awaitItem(ctx, itemID); err != nil {
		reason := "install_error"
		switch {
		case errors.Is(err, errItemTimeout):
			reason = "timeout"
		case errors.Is(err, errSnapshotFault):
			reason = "snapshot_error"
		}
		s.failItem(ctx, run, itemID, name, reason, err)
		return err
	}

	if aerr := s.appendLog(ctx, &domain.LogEntry{
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Kind:        domain.EventKindSuccess,
	}); aerr != nil {
		return aerr
	}
	s.publish(domain.FeedEvent{
		Type:        domain.FeedEventItemSucceeded,
		Ts:          time.Now().UnixMilli(),
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Index:       index,
		PlanSize:    len(run.Plan),
	})
	return nil
}

// awaitItem polls the snapshot until the item reaches a terminal state or the
// per-item timeout elapses. A snapshot read failure is fatal: continuing
// without a reliable view of item state risks double-invoking an install.
func (s *Service) awaitItem(ctx context.Context, itemID string) error {
	wctx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
	defer cancel()
	sawProgress := false

	for {
		snapshot, err := s.platform.SnapshotItems(wctx)
		if err != nil {
			if wctx.Err() != nil {
				return fmt.Errorf("%w: %s", errItemTimeout, itemID)
			}
			return fmt.Errorf("%w: %v", errSnapshotFault, err)
		}

		var current *domain.UpdateItem
		for i := range snapshot {
			if snapshot[i].ID == itemID {
				current = &snapshot[i]
				break
			}
		}
		if current == nil {
			return fmt.Errorf("item %s disappeared from snapshot", itemID)
		}

		if current.InProgress {
			sawProgress = true
		} else {
			if !current.Pending {
				return nil
			}
			if sawProgress {
				// The platform finished the install attempt but the item is
				// still pending: a platform-reported failure.
				return fmt.Errorf("install of %s ended without completing", itemID)
			}
		}

		select {
		case <-wctx.Done():
			if errors.Is(wctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", errItemTimeout, itemID)
			}
			return wctx.Err()
		case <-time.After(s.config.PollInterval):
		}
	}
}

func (s *Service) failItem(ctx context.Context, run *domain.BatchRun, itemID, name, reason string, err error) {
	s.appendLog(ctx, &domain.LogEntry{
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Kind:        domain.EventKindFailed,
		Reason:      reason,
		Detail:      err.Error(),
	})
	s.publish(domain.FeedEvent{
		Type:        domain.FeedEventItemFailed,
		Ts:          time.Now().UnixMilli(),
		RunID:       run.RunID,
		ItemID:      itemID,
		DisplayName: name,
		Reason:      reason,
	})
}

func (s *Service) advance(ctx context.Context, run *domain.BatchRun, index int) {
	s.mu.Lock()
	run.CurrentIndex = index
	s.mu.Unlock()

	if err := s.store.UpdateBatchRun(ctx, run); err != nil {
		log.Printf("WARN: failed to persist run progress: %v", err)
	}
}

func (s *Service) finishRun(ctx context.Context, run *domain.BatchRun, reason domain.StopReason) {
	ended := time.Now().UTC()

	s.mu.Lock()
	run.Status = domain.RunStatusFinished
	run.StoppedReason = reason
	run.EndedAt = &ended
	s.mu.Unlock()

	if err := s.store.UpdateBatchRun(ctx, run); err != nil {
		log.Printf("ERROR: failed to persist finished run %s: %v", run.RunID, err)
	}

	s.publish(domain.FeedEvent{
		Type:       domain.FeedEventRunFinished,
		Ts:         time.Now().UnixMilli(),
		RunID:      run.RunID,
		StopReason: reason,
	})
}

// appendLog appends one journal entry. The journal is the audit trail: a
// write failure is fatal to the current run, so callers on the happy path
// must stop on a non-nil return.
func (s *Service) appendLog(ctx context.Context, entry *domain.LogEntry) error {
	if err := s.store.AppendLogEntry(ctx, entry); err != nil {
		log.Printf("ERROR: failed to append log entry (%s %s): %v", entry.Kind, entry.ItemID, err)
		return fmt.Errorf("%w: %v", errJournalFault, err)
	}
	return nil
}

func copyRun(run *domain.BatchRun) *domain.BatchRun {
	out := *run
	out.Plan = append([]string(nil), run.Plan...)
	return &out
}
