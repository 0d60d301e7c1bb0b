package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/upbatch/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	trimTarget int
}

// NewSQLiteStore creates a new SQLite store. maxEntries bounds the journal;
// once exceeded, the oldest entries are discarded until trimTarget remain.
func NewSQLiteStore(dsn string, maxEntries, trimTarget int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if trimTarget <= 0 || trimTarget > maxEntries {
		trimTarget = maxEntries
	}

	store := &SQLiteStore{db: db, maxEntries: maxEntries, trimTarget: trimTarget}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS log_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS batch_runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			plan TEXT NOT NULL,
			current_index INTEGER NOT NULL DEFAULT 0,
			backup_before_each INTEGER NOT NULL DEFAULT 0,
			stopped_reason TEXT NOT NULL DEFAULT 'none',
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// AppendLogEntry appends one journal entry and assigns its sequence number.
// When the journal exceeds its bound, the oldest entries are pruned.
func (s *SQLiteStore) AppendLogEntry(ctx context.Context, entry *domain.LogEntry) error {
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (ts, run_id, item_id, display_name, kind, reason, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Ts.UTC(), entry.RunID, entry.ItemID, entry.DisplayName,
		string(entry.Kind), entry.Reason, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read log sequence: %w", err)
	}
	entry.Seq = seq

	return s.pruneLog(ctx)
}

// pruneLog enforces the retention bound, discarding oldest entries first.
func (s *SQLiteStore) pruneLog(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}

	count, err := s.CountLogEntries(ctx)
	if err != nil {
		return err
	}
	if count <= s.maxEntries {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM log_entries WHERE seq NOT IN (
			SELECT seq FROM log_entries ORDER BY seq DESC LIMIT ?
		)`, s.trimTarget)
	if err != nil {
		return fmt.Errorf("failed to prune log: %w", err)
	}
	return nil
}

// GetLog returns journal entries in insertion order. A positive limit returns
// only the newest limit entries (still oldest first); limit <= 0 returns all.
func (s *SQLiteStore) GetLog(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	query := `SELECT seq, ts, run_id, item_id, display_name, kind, reason, detail
		FROM log_entries ORDER BY seq DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var kind string
		if err := rows.Scan(&e.Seq, &e.Ts, &e.RunID, &e.ItemID, &e.DisplayName, &kind, &e.Reason, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log: %w", err)
	}

	// Scanned newest-first to apply the limit; flip back to insertion order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ClearLog empties the journal. Irreversible.
func (s *SQLiteStore) ClearLog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return fmt.Errorf("failed to clear log: %w", err)
	}
	return nil
}

// CountLogEntries returns the number of retained journal entries.
func (s *SQLiteStore) CountLogEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return count, nil
}

// CreateBatchRun persists a new batch run record.
func (s *SQLiteStore) CreateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	planJSON, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (run_id, status, plan, current_index, backup_before_each, stopped_reason, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, string(run.Status), string(planJSON), run.CurrentIndex,
		run.BackupBeforeEach, string(run.StoppedReason), run.StartedAt.UTC(), run.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch run: %w", err)
	}
	return nil
}

// UpdateBatchRun updates the mutable fields of a batch run record.
func (s *SQLiteStore) UpdateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, current_index = ?, stopped_reason = ?, ended_at = ?
		 WHERE run_id = ?`,
		string(run.Status), run.CurrentIndex, string(run.StoppedReason), run.EndedAt, run.RunID)
	if err != nil {
		return fmt.Errorf("failed to update batch run: %w", err)
	}
	return nil
}

// GetBatchRun returns one batch run record, or nil when absent.
func (s *SQLiteStore) GetBatchRun(ctx context.Context, runID string) (*domain.BatchRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, plan, current_index, backup_before_each, stopped_reason, started_at, ended_at
		 FROM batch_runs WHERE run_id = ?`, runID)

	run, err := scanBatchRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}
	return run, nil
}

// ListBatchRuns returns batch runs, newest first.
func (s *SQLiteStore) ListBatchRuns(ctx context.Context, limit int) ([]domain.BatchRun, error) {
	query := `SELECT run_id, status, plan, current_index, backup_before_each, stopped_reason, started_at, ended_at
		FROM batch_runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BatchRun
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatchRun(row rowScanner) (*domain.BatchRun, error) {
	var run domain.BatchRun
	var status, planJSON, stoppedReason string
	var endedAt sql.NullTime

	err := row.Scan(&run.RunID, &status, &planJSON, &run.CurrentIndex,
		&run.BackupBeforeEach, &stoppedReason, &run.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.StoppedReason = domain.StopReason(stoppedReason)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(planJSON), &run.Plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &run, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
