package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses kept by the store. Results themselves live elsewhere.
const (
	RunQueued  = "queued"
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// Error codes for runs that fail before the engine produces a result.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeTransportUnavailable = "transport_unavailable"
)

// Claim is a due schedule leased to one scheduler.
type Claim struct {
	Job         Job
	ScheduledAt time.Time
	LeaseUntil  time.Time
}

// RunRecord is a stored submission.
type RunRecord struct {
	RunID          string
	IdempotencyKey string
	ScheduleID     string
	ScheduledAt    time.Time
	Country        string
	Status         string
	ErrorCode      string
	Request        json.RawMessage
}

// Store keeps schedules and run submissions in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing store path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, so the conditional UPDATE in
	// ClaimDue behaves like a row lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

var schemaStatements = []string{`
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  spec TEXT NOT NULL,
  next_run_at_unix_ms INTEGER NOT NULL,
  lease_owner TEXT NOT NULL DEFAULT '',
  lease_until_unix_ms INTEGER NOT NULL DEFAULT 0
);`, `
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(next_run_at_unix_ms);`, `
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL UNIQUE,
  schedule_id TEXT NOT NULL,
  scheduled_at_unix_ms INTEGER NOT NULL,
  country TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error_code TEXT NOT NULL DEFAULT '',
  request TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);`, `
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);`,
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schedule schema: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutSchedule inserts or replaces job, due first at firstRun. An existing
// lease is kept.
func (s *Store) PutSchedule(ctx context.Context, job Job, firstRun time.Time) error {
	if err := job.Validate(); err != nil {
		return err
	}
	spec, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO schedules(id, spec, next_run_at_unix_ms) VALUES(?, ?, ?)
ON CONFLICT(id) DO UPDATE SET spec = excluded.spec, next_run_at_unix_ms = excluded.next_run_at_unix_ms
`, job.ID, string(spec), firstRun.UnixMilli())
	return err
}

// ClaimDue leases every schedule due at now that no other scheduler holds.
// A schedule is claimed by at most one caller per slot: the UPDATE only
// succeeds while the row is still due and unleased.
func (s *Store) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration) ([]Claim, error) {
	nowMs := now.UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
SELECT id FROM schedules
WHERE next_run_at_unix_ms <= ? AND lease_until_unix_ms <= ?
ORDER BY next_run_at_unix_ms ASC
`, nowMs, nowMs)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leaseUntil := now.Add(lease)
	var claims []Claim
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
UPDATE schedules SET lease_owner = ?, lease_until_unix_ms = ?
WHERE id = ? AND next_run_at_unix_ms <= ? AND lease_until_unix_ms <= ?
`, owner, leaseUntil.UnixMilli(), id, nowMs, nowMs)
		if err != nil {
			return claims, err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}

		var spec string
		var next int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT spec, next_run_at_unix_ms FROM schedules WHERE id = ?`, id,
		).Scan(&spec, &next); err != nil {
			return claims, err
		}
		var job Job
		if err := json.Unmarshal([]byte(spec), &job); err != nil {
			return claims, fmt.Errorf("decode schedule %s: %w", id, err)
		}
		claims = append(claims, Claim{Job: job, ScheduledAt: time.UnixMilli(next).UTC(), LeaseUntil: leaseUntil})
	}
	return claims, nil
}

// Advance moves a claimed schedule to its next slot and drops the lease.
// It is a no-op unless owner still holds the lease.
func (s *Store) Advance(ctx context.Context, id, owner string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET next_run_at_unix_ms = ?, lease_owner = '', lease_until_unix_ms = 0
WHERE id = ? AND lease_owner = ?
`, next.UnixMilli(), id, owner)
	return err
}

// CreateRun stores sub unless a run with the same idempotency key exists.
// It reports whether a row was created.
func (s *Store) CreateRun(ctx context.Context, sub Submission, now time.Time) (bool, error) {
	req, err := json.Marshal(sub.Request)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, idempotency_key, schedule_id, scheduled_at_unix_ms, country, status, request, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO NOTHING
`, sub.Request.RunID, sub.Key, sub.ScheduleID, sub.ScheduledAt.UnixMilli(), sub.Country, RunQueued, string(req), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// HasRun reports whether a run with the idempotency key exists.
func (s *Store) HasRun(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM runs WHERE idempotency_key = ?`, key,
	).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimRun moves a queued run to running. It reports false when the run is
// no longer queued, usually because another dispatcher took it first.
func (s *Store) ClaimRun(ctx context.Context, runID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, updated_at_unix_ms = ? WHERE run_id = ? AND status = ?
`, RunRunning, now.UnixMilli(), runID, RunQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Runs lists runs with the given status, oldest first. An empty status
// lists every run.
func (s *Store) Runs(ctx context.Context, status string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, idempotency_key, schedule_id, scheduled_at_unix_ms, country, status, error_code, request
FROM runs
WHERE ? = '' OR status = ?
ORDER BY created_at_unix_ms ASC, run_id ASC
LIMIT ?
`, status, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var scheduled int64
		var req string
		if err := rows.Scan(&r.RunID, &r.IdempotencyKey, &r.ScheduleID, &scheduled, &r.Country, &r.Status, &r.ErrorCode, &req); err != nil {
			return nil, err
		}
		r.ScheduledAt = time.UnixMilli(scheduled).UTC()
		r.Request = json.RawMessage(req)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRun records the outcome of a run.
func (s *Store) MarkRun(ctx context.Context, runID, status, errorCode string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, error_code = ?, updated_at_unix_ms = ? WHERE run_id = ?
`, status, errorCode, now.UnixMilli(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
