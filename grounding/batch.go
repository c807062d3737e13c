package grounding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds RunBatch when BatchOptions.Concurrency is unset.
const DefaultConcurrency = 4

// BatchOptions bounds a batch fan-out.
type BatchOptions struct {
	// Concurrency caps in-flight runs.
	Concurrency int
	// RatePerSecond caps run starts per second. Zero means unlimited.
	RatePerSecond float64
	// Burst is the limiter burst size; defaults to 1.
	Burst int
}

// RunBatch runs reqs concurrently and returns results in input order. Every
// request is validated before the first call is made, so a malformed entry
// fails the whole batch without spending any provider quota.
func (e *Engine) RunBatch(ctx context.Context, reqs []RunRequest, opts BatchOptions) ([]RunResult, error) {
	checkedReqs := make([]checked, len(reqs))
	for i, req := range reqs {
		c, err := e.validate(req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		if !e.providers.IsRegistered(req.Provider) {
			return nil, fmt.Errorf("request %d: %w %q", i, ErrUnknownProvider, req.Provider)
		}
		checkedReqs[i] = c
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	results := make([]RunResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, c := range checkedReqs {
		g.Go(func() error {
			if limiter != nil {
				// A cancelled wait still runs so the slot gets a timeout
				// result instead of a zero value.
				_ = limiter.Wait(ctx)
			}
			transport, err := e.providers.Get(c.Provider)
			if err != nil {
				return fmt.Errorf("request %d: creating %s transport: %w", i, c.Provider, err)
			}
			results[i] = e.run(ctx, c, transport)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	e.logger.Debug("grounding batch finished", "runs", len(reqs), "concurrency", limit)
	return results, nil
}
