package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upbatch/orchestrator/internal/config"
	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/store"
	"github.com/upbatch/orchestrator/policy"
	"github.com/upbatch/orchestrator/tests/helpers"
)

// faultyStore passes journal appends through to a real store until the
// allowance is used up, then fails every append.
type faultyStore struct {
	store.Store

	mu      sync.Mutex
	allowed int
	appends int
}

func (f *faultyStore) AppendLogEntry(ctx context.Context, entry *domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appends >= f.allowed {
		return errors.New("disk I/O error")
	}
	f.appends++
	return f.Store.AppendLogEntry(ctx, entry)
}

// fakePlatform scripts the host supervisor. After Install is kicked, the item
// shows in_progress for one snapshot and then reaches its scripted terminal
// state, unless held open with hold.
type fakePlatform struct {
	mu sync.Mutex

	items []domain.UpdateItem

	installKickErr map[string]error
	installFails   map[string]bool // install ends without completing
	hold           map[string]bool // install stays in progress
	backupErrs     map[string]error
	snapshotErr    error

	supportsRestart bool
	restartCalls    int
	installCalls    []string
	backupCalls     []string
	progress        map[string]int
}

func newFakePlatform(items ...domain.UpdateItem) *fakePlatform {
	return &fakePlatform{
		items:           items,
		installKickErr:  map[string]error{},
		installFails:    map[string]bool{},
		hold:            map[string]bool{},
		backupErrs:      map[string]error{},
		progress:        map[string]int{},
		supportsRestart: true,
	}
}

func (f *fakePlatform) SnapshotItems(ctx context.Context) ([]domain.UpdateItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}

	out := make([]domain.UpdateItem, len(f.items))
	for i, item := range f.items {
		if _, kicked := f.progress[item.ID]; kicked {
			p := f.progress[item.ID]
			f.progress[item.ID] = p + 1
			switch {
			case p == 0 || f.hold[item.ID]:
				item.InProgress = true
			case f.installFails[item.ID]:
				item.InProgress = false
			default:
				item.InProgress = false
				item.Pending = false
			}
			f.items[i] = item
		}
		out[i] = item
	}
	return out, nil
}

func (f *fakePlatform) Install(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.installCalls = append(f.installCalls, itemID)
	if err := f.installKickErr[itemID]; err != nil {
		return err
	}
	f.progress[itemID] = 0
	return nil
}

func (f *fakePlatform) Backup(ctx context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.backupCalls = append(f.backupCalls, scope)
	return f.backupErrs[scope]
}

func (f *fakePlatform) RestartHost(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restartCalls++
	return nil
}

func (f *fakePlatform) SupportsHostRestart() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supportsRestart
}

func (f *fakePlatform) release(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hold, itemID)
}

func (f *fakePlatform) installed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.installCalls...)
}

func pendingItem(id, name string, cat domain.ItemCategory) domain.UpdateItem {
	return domain.UpdateItem{
		ID:               id,
		DisplayName:      name,
		InstalledVersion: "1.0.0",
		LatestVersion:    "1.1.0",
		Pending:          true,
		Category:         cat,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		ItemTimeout:   200 * time.Millisecond,
		BackupTimeout: 100 * time.Millisecond,
		PollInterval:  time.Millisecond,
		MaxLogEntries: 1000,
		LogTrimTarget: 700,
	}
}

func newTestService(t *testing.T, pf *fakePlatform) *Service {
	t.Helper()
	return New(helpers.NewTestStore(t), pf, nil, nil, testConfig())
}

func waitFinished(t *testing.T, svc *Service) *domain.BatchRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run := svc.CurrentRun()
		if run.Status == domain.RunStatusFinished {
			return run
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return nil
}

func kinds(entries []domain.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Kind)
		if e.ItemID != "" {
			out[i] += ":" + e.ItemID
		}
	}
	return out
}

func TestRunBothItemsSucceedCriticalLast(t *testing.T) {
	// Scenario: one add-on plus the core update, no backups; the core update
	// runs last and the batch finishes clean.
	pf := newFakePlatform(
		pendingItem("update.core_update", "Home Assistant Core", domain.CategoryCore),
		pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal),
	)
	svc := newTestService(t, pf)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs: []string{"update.core_update", "update.addon_foo"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"update.addon_foo", "update.core_update"}, run.Plan)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonNone, finished.StoppedReason)
	assert.Equal(t, []string{"update.addon_foo", "update.core_update"}, pf.installed())

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"started",
		"started:update.addon_foo",
		"success:update.addon_foo",
		"started:update.core_update",
		"success:update.core_update",
	}, kinds(entries))
}

func TestRunBackupFailureHaltsBatch(t *testing.T) {
	// Scenario: two add-ons with backup enabled; the first backup fails, the
	// second item is never touched.
	pf := newFakePlatform(
		pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal),
		pendingItem("update.addon_bar", "addon.bar", domain.CategoryNormal),
	)
	pf.backupErrs["update.addon_bar"] = errors.New("no space left on device")
	svc := newTestService(t, pf)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs:      []string{"update.addon_foo", "update.addon_bar"},
		BackupBeforeEach: true,
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"update.addon_bar", "update.addon_foo"}, run.Plan)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonBackupFailure, finished.StoppedReason)
	assert.Empty(t, pf.installed())

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"started",
		"backup_started:update.addon_bar",
		"backup_failed:update.addon_bar",
	}, kinds(entries))
	assert.Equal(t, "backup_error", entries[2].Reason)
}

func TestRunEmptySelectionRejected(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptySelection)

	assert.Equal(t, domain.RunStatusIdle, svc.CurrentRun().Status)
	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunUnknownItemRejected(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	svc := newTestService(t, pf)

	_, err := svc.StartRun(context.Background(), domain.RunRequest{
		SelectedIDs: []string{"update.addon_foo", "update.addon_ghost"},
	})

	var unknown *domain.UnknownItemError
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "update.addon_ghost", unknown.ID)
	assert.Equal(t, domain.RunStatusIdle, svc.CurrentRun().Status)
}

func TestRunNonPendingItemRejected(t *testing.T) {
	item := pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal)
	item.Pending = false
	pf := newFakePlatform(item)
	svc := newTestService(t, pf)

	_, err := svc.StartRun(context.Background(), domain.RunRequest{
		SelectedIDs: []string{"update.addon_foo"},
	})

	var unknown *domain.UnknownItemError
	assert.ErrorAs(t, err, &unknown)
}

func TestRunSecondStartRejectedWhileRunning(t *testing.T) {
	pf := newFakePlatform(
		pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal),
		pendingItem("update.addon_bar", "addon.bar", domain.CategoryNormal),
	)
	pf.hold["update.addon_foo"] = true
	svc := newTestService(t, pf)
	ctx := context.Background()

	first, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_foo"}})
	assert.NoError(t, err)

	_, err = svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_bar"}})
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	// The in-flight run is unaffected by the rejected start.
	assert.Equal(t, first.RunID, svc.CurrentRun().RunID)
	assert.Equal(t, domain.RunStatusRunning, svc.CurrentRun().Status)

	pf.release("update.addon_foo")
	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonNone, finished.StoppedReason)

	// Once finished, a new run is accepted again.
	second, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_bar"}})
	assert.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	waitFinished(t, svc)
}

func TestRunItemFailureStopsRemainingPlan(t *testing.T) {
	pf := newFakePlatform(
		pendingItem("update.addon_a", "A", domain.CategoryNormal),
		pendingItem("update.addon_b", "B", domain.CategoryNormal),
		pendingItem("update.addon_c", "C", domain.CategoryNormal),
	)
	pf.installFails["update.addon_b"] = true
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs: []string{"update.addon_a", "update.addon_b", "update.addon_c"},
	})
	assert.NoError(t, err)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)
	assert.Equal(t, []string{"update.addon_a", "update.addon_b"}, pf.installed())

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"started",
		"started:update.addon_a",
		"success:update.addon_a",
		"started:update.addon_b",
		"failed:update.addon_b",
	}, kinds(entries))
	// No entry of any kind for the item after the failure.
	for _, e := range entries {
		assert.NotEqual(t, "update.addon_c", e.ItemID)
	}
}

func TestRunInstallTimeoutRecordedAsFailure(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_slow", "Slow", domain.CategoryNormal))
	pf.hold["update.addon_slow"] = true
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_slow"}})
	assert.NoError(t, err)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.EventKindFailed, last.Kind)
	assert.Equal(t, "timeout", last.Reason)
}

func TestRunInstallKickFailureRecorded(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	pf.installKickErr["update.addon_foo"] = errors.New("supervisor returned 500")
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_foo"}})
	assert.NoError(t, err)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"started", "failed:update.addon_foo"}, kinds(entries))
	assert.Equal(t, "install_error", entries[1].Reason)
}

func TestRunJournalFaultHaltsBatch(t *testing.T) {
	// The run-level entry lands; every later journal write fails. The batch
	// must finish with a failure marker before touching the second item.
	pf := newFakePlatform(
		pendingItem("update.addon_a", "A", domain.CategoryNormal),
		pendingItem("update.addon_b", "B", domain.CategoryNormal),
	)
	st := &faultyStore{Store: helpers.NewTestStore(t), allowed: 1}
	svc := New(st, pf, nil, nil, testConfig())
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs: []string{"update.addon_a", "update.addon_b"},
	})
	assert.NoError(t, err)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)
	assert.NotContains(t, pf.installed(), "update.addon_b")

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"started"}, kinds(entries))
}

func TestRunJournalFaultBeforeBackupHaltsBatch(t *testing.T) {
	// With backups on, a journal fault halts the batch before the backup is
	// even attempted.
	pf := newFakePlatform(pendingItem("update.addon_a", "A", domain.CategoryNormal))
	st := &faultyStore{Store: helpers.NewTestStore(t), allowed: 1}
	svc := New(st, pf, nil, nil, testConfig())
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs:      []string{"update.addon_a"},
		BackupBeforeEach: true,
	})
	assert.NoError(t, err)

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)
	assert.Empty(t, pf.installed())

	pf.mu.Lock()
	defer pf.mu.Unlock()
	assert.Empty(t, pf.backupCalls)
}

func TestRunSnapshotFaultFinishesRun(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	pf.hold["update.addon_foo"] = true
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_foo"}})
	assert.NoError(t, err)

	pf.mu.Lock()
	pf.snapshotErr = errors.New("supervisor unreachable")
	pf.mu.Unlock()

	finished := waitFinished(t, svc)
	assert.Equal(t, domain.StopReasonItemFailure, finished.StoppedReason)

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.EventKindFailed, last.Kind)
	assert.Equal(t, "snapshot_error", last.Reason)
}

func TestLogResponsiveWhileRunning(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	pf.hold["update.addon_foo"] = true
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_foo"}})
	assert.NoError(t, err)

	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, entries)

	assert.NoError(t, svc.ClearLog(ctx))
	entries, err = svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, entries)

	pf.release("update.addon_foo")
	waitFinished(t, svc)
}

func TestRunDuplicateSelectionCollapses(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	svc := newTestService(t, pf)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs: []string{"update.addon_foo", "update.addon_foo"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"update.addon_foo"}, run.Plan)

	waitFinished(t, svc)
	assert.Equal(t, []string{"update.addon_foo"}, pf.installed())
}

func TestRunPersistsHistory(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	svc := newTestService(t, pf)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.addon_foo"}})
	assert.NoError(t, err)
	waitFinished(t, svc)

	runs, err := svc.ListRuns(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, domain.RunStatusFinished, runs[0].Status)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestRunBlockedByAdmissionPolicy(t *testing.T) {
	const strict = `
package batch_policy

default decision := "allow"

decision := {"decision": "block", "reason": "os updates require backup"} if {
	"os" in input.categories
	not input.backup
}
`
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, strict)
	require.NoError(t, err)

	pf := newFakePlatform(pendingItem("update.os_update", "Operating System", domain.CategoryOS))
	svc := New(helpers.NewTestStore(t), pf, nil, engine, testConfig())

	_, err = svc.StartRun(ctx, domain.RunRequest{SelectedIDs: []string{"update.os_update"}})
	var blocked *domain.PolicyBlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, "os updates require backup", blocked.Reason)
	assert.Equal(t, domain.RunStatusIdle, svc.CurrentRun().Status)

	// The same selection with backup enabled is admitted.
	_, err = svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs:      []string{"update.os_update"},
		BackupBeforeEach: true,
	})
	assert.NoError(t, err)
	waitFinished(t, svc)
}

func TestRebootNowNotApplicable(t *testing.T) {
	pf := newFakePlatform()
	pf.supportsRestart = false
	svc := newTestService(t, pf)
	ctx := context.Background()

	err := svc.RebootNow(ctx)
	assert.ErrorIs(t, err, domain.ErrRestartNotSupported)

	// Restart is outside the batch journal's scope.
	entries, err := svc.GetLog(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRebootNowInvokesRestart(t *testing.T) {
	pf := newFakePlatform()
	svc := newTestService(t, pf)

	assert.NoError(t, svc.RebootNow(context.Background()))

	pf.mu.Lock()
	defer pf.mu.Unlock()
	assert.Equal(t, 1, pf.restartCalls)
}

func TestListUpdatesFiltersPending(t *testing.T) {
	installed := pendingItem("update.addon_done", "Done", domain.CategoryNormal)
	installed.Pending = false
	pf := newFakePlatform(
		pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal),
		installed,
	)
	svc := newTestService(t, pf)

	items, err := svc.ListUpdates(context.Background())
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "update.addon_foo", items[0].ID)
}

func TestGetLogRejectsNegativeLimit(t *testing.T) {
	svc := newTestService(t, newFakePlatform())

	_, err := svc.GetLog(context.Background(), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidLogLimit)
}

func TestGetLogLimitKeepsInsertionOrder(t *testing.T) {
	pf := newFakePlatform(
		pendingItem("update.addon_a", "A", domain.CategoryNormal),
		pendingItem("update.addon_b", "B", domain.CategoryNormal),
	)
	svc := newTestService(t, pf)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.RunRequest{
		SelectedIDs: []string{"update.addon_a", "update.addon_b"},
	})
	assert.NoError(t, err)
	waitFinished(t, svc)

	entries, err := svc.GetLog(ctx, 2)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"started:update.addon_b",
		"success:update.addon_b",
	}, kinds(entries))
}

func TestRunStateReportsProgress(t *testing.T) {
	pf := newFakePlatform(pendingItem("update.addon_foo", "addon.foo", domain.CategoryNormal))
	pf.hold["update.addon_foo"] = true
	svc := newTestService(t, pf)

	run, err := svc.StartRun(context.Background(), domain.RunRequest{
		SelectedIDs: []string{"update.addon_foo"},
	})
	assert.NoError(t, err)

	state := svc.CurrentRun()
	assert.Equal(t, run.RunID, state.RunID)
	assert.Equal(t, domain.RunStatusRunning, state.Status)
	assert.Equal(t, []string{"update.addon_foo"}, state.Plan)

	pf.release("update.addon_foo")
	waitFinished(t, svc)
}
