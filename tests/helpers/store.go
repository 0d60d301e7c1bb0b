// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/upbatch/orchestrator/internal/store"
)

// NewTestStore creates an in-memory SQLite store with the default retention
// bounds, closed automatically when the test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", 1000, 700)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
