package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/grounding"
)

// DefaultLease bounds how long a claimed schedule stays with one scheduler
// before another may take it over.
const DefaultLease = 2 * time.Minute

// TickReport summarizes one Tick.
type TickReport struct {
	Claimed    int `json:"claimed"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
}

// Scheduler expands due schedules into queued runs and dispatches them.
// Several schedulers may share one Store.
type Scheduler struct {
	store   *Store
	ambient *ambient.Builder
	guard   Guard
	owner   string
	lease   time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAmbient sets the builder used for per-country ambient blocks. Without
// one, submissions carry no ambient context.
func WithAmbient(b *ambient.Builder) Option {
	return func(s *Scheduler) {
		s.ambient = b
	}
}

// WithGuard adds a consumer-side idempotency guard in front of the store.
func WithGuard(g Guard) Option {
	return func(s *Scheduler) {
		s.guard = g
	}
}

// WithOwner sets the lease owner name. The default is a random UUID.
func WithOwner(owner string) Option {
	return func(s *Scheduler) {
		if owner != "" {
			s.owner = owner
		}
	}
}

// WithLease sets the claim lease.
func WithLease(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler over store.
func New(store *Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		owner:  uuid.NewString(),
		lease:  DefaultLease,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick claims due schedules, enqueues one run per expanded submission and
// moves each schedule to its next slot. Missed slots are not backfilled.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := s.now()

	claims, err := s.store.ClaimDue(ctx, s.owner, now, s.lease)
	if err != nil {
		return report, fmt.Errorf("claim due schedules: %w", err)
	}
	report.Claimed = len(claims)

	for _, c := range claims {
		subs, err := Expand(c.Job, c.ScheduledAt, s.ambient)
		if err != nil {
			// Advance anyway so a broken job does not hot-loop.
			s.logger.Error("schedule expansion failed", "schedule_id", c.Job.ID, "error", err)
		}
		for _, sub := range subs {
			created, err := s.submit(ctx, sub, now)
			if err != nil {
				return report, err
			}
			if created {
				report.Created++
			} else {
				report.Duplicates++
			}
		}

		next := nextSlot(c.ScheduledAt, c.Job.Interval, now)
		if err := s.store.Advance(ctx, c.Job.ID, s.owner, next); err != nil {
			return report, fmt.Errorf("advance schedule %s: %w", c.Job.ID, err)
		}
		s.logger.Info("schedule expanded",
			"schedule_id", c.Job.ID,
			"scheduled_at", c.ScheduledAt,
			"submissions", len(subs),
			"next_run_at", next,
		)
	}
	return report, nil
}

func (s *Scheduler) submit(ctx context.Context, sub Submission, now time.Time) (bool, error) {
	acquired := false
	if s.guard != nil {
		ok, err := s.guard.Acquire(ctx, sub.Key)
		switch {
		case err != nil:
			// The store's unique key still holds the line.
			s.logger.Warn("idempotency guard unavailable", "key", sub.Key, "error", err)
		case ok:
			acquired = true
		default:
			// A reserved key only means someone got there first. If that
			// tick died before storing the run, the slot still needs it.
			exists, err := s.store.HasRun(ctx, sub.Key)
			if err != nil {
				return false, fmt.Errorf("look up run for schedule %s: %w", sub.ScheduleID, err)
			}
			if exists {
				return false, nil
			}
		}
	}
	created, err := s.store.CreateRun(ctx, sub, now)
	if err != nil {
		if acquired {
			if rerr := s.guard.Release(context.WithoutCancel(ctx), sub.Key); rerr != nil {
				s.logger.Warn("idempotency guard release failed", "key", sub.Key, "error", rerr)
			}
		}
		return false, fmt.Errorf("create run for schedule %s: %w", sub.ScheduleID, err)
	}
	return created, nil
}

// Dispatch claims up to limit queued runs, runs them through engine and
// records their status. A run another dispatcher claimed first is skipped,
// and a stored request the engine would reject fails on its own. It returns
// how many runs this call claimed.
func (s *Scheduler) Dispatch(ctx context.Context, engine *grounding.Engine, limit int, opts grounding.BatchOptions) (int, error) {
	records, err := s.store.Runs(ctx, RunQueued, limit)
	if err != nil {
		return 0, fmt.Errorf("list queued runs: %w", err)
	}

	var (
		claimed  int
		runIDs   []string
		reqs     []grounding.RunRequest
		claimErr error
	)
	for _, r := range records {
		ok, err := s.store.ClaimRun(ctx, r.RunID, s.now())
		if err != nil {
			// Still run what was already claimed so nothing is left running.
			claimErr = fmt.Errorf("claim run %s: %w", r.RunID, err)
			break
		}
		if !ok {
			continue
		}
		claimed++

		var req grounding.RunRequest
		rejected := json.Unmarshal(r.Request, &req)
		if rejected != nil {
			rejected = fmt.Errorf("decode request: %w", rejected)
		} else {
			rejected = engine.Validate(req)
		}
		if rejected != nil {
			s.logger.Warn("queued run rejected", "run_id", r.RunID, "error", rejected)
			if err := s.store.MarkRun(ctx, r.RunID, RunFailed, CodeInvalidRequest, s.now()); err != nil {
				claimErr = errors.Join(claimErr, err)
			}
			continue
		}
		runIDs = append(runIDs, r.RunID)
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return claimed, claimErr
	}

	results, err := engine.RunBatch(ctx, reqs, opts)
	for i, runID := range runIDs {
		status, code := RunFailed, CodeTransportUnavailable
		if i < len(results) && results[i].Status != "" {
			status, code = string(results[i].Status), string(results[i].ErrorCode)
		}
		if merr := s.store.MarkRun(ctx, runID, status, code, s.now()); merr != nil {
			return claimed, errors.Join(err, claimErr, merr)
		}
	}
	return claimed, errors.Join(err, claimErr)
}

// nextSlot returns the first slot after now on the grid anchored at
// scheduled.
func nextSlot(scheduled time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now.Add(DefaultLease)
	}
	next := scheduled.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(scheduled) / interval
	return scheduled.Add((missed + 1) * interval)
}
