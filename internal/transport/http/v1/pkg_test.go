package v1

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/upbatch/orchestrator/internal/config"
	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/service"
	"github.com/upbatch/orchestrator/internal/store"
	"github.com/upbatch/orchestrator/tests/helpers"
)

// stubPlatform is a minimal platform for handler tests: installs complete on
// the next snapshot unless held open.
type stubPlatform struct {
	mu              sync.Mutex
	items           []domain.UpdateItem
	hold            map[string]bool
	supportsRestart bool
	restartCalls    int
}

func newStubPlatform(items ...domain.UpdateItem) *stubPlatform {
	return &stubPlatform{
		items:           items,
		hold:            map[string]bool{},
		supportsRestart: true,
	}
}

func (s *stubPlatform) SnapshotItems(ctx context.Context) ([]domain.UpdateItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UpdateItem(nil), s.items...), nil
}

func (s *stubPlatform) Install(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			if s.hold[itemID] {
				s.items[i].InProgress = true
			} else {
				s.items[i].Pending = false
			}
		}
	}
	return nil
}

func (s *stubPlatform) Backup(ctx context.Context, scope string) error {
	return nil
}

func (s *stubPlatform) RestartHost(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartCalls++
	return nil
}

func (s *stubPlatform) SupportsHostRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supportsRestart
}

func pendingItem(id, name string, cat domain.ItemCategory) domain.UpdateItem {
	return domain.UpdateItem{
		ID:          id,
		DisplayName: name,
		Pending:     true,
		Category:    cat,
	}
}

func newTestHandler(t *testing.T, pf *stubPlatform) (*Handler, *store.SQLiteStore) {
	t.Helper()

	st := helpers.NewTestStore(t)
	cfg := &config.Config{
		ItemTimeout:   time.Second,
		BackupTimeout: time.Second,
		PollInterval:  time.Millisecond,
	}
	svc := service.New(st, pf, nil, nil, cfg)
	return NewHandler(svc), st
}
