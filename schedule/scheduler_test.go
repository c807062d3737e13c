package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/provider"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestScheduler(s *Store, owner string, now time.Time, opts ...Option) *Scheduler {
	base := []Option{
		WithOwner(owner),
		WithAmbient(testBuilder()),
		WithClock(func() time.Time { return now }),
		WithLogger(quiet),
	}
	return New(s, append(base, opts...)...)
}

func TestTick_ConcurrentTicksCreateOneRunPerKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(ctx, testJob(), slot))

	now := slot.Add(time.Minute)
	schedulers := []*Scheduler{
		newTestScheduler(s, "scheduler-a", now),
		newTestScheduler(s, "scheduler-b", now),
	}

	reports := make([]TickReport, len(schedulers))
	var wg sync.WaitGroup
	for i, sch := range schedulers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := sch.Tick(ctx)
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reports[0].Claimed+reports[1].Claimed)
	assert.Equal(t, 8, reports[0].Created+reports[1].Created)

	runs, err := s.Runs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 8)

	again, err := schedulers[0].Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Claimed, "slot already advanced")
}

func TestTick_LeaseTakeoverDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(ctx, testJob(), slot))

	// A claims and enqueues half the slot, then dies without advancing.
	claims, err := s.ClaimDue(ctx, "scheduler-a", slot, time.Minute)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	subs, err := Expand(claims[0].Job, claims[0].ScheduledAt, testBuilder())
	require.NoError(t, err)
	for _, sub := range subs[:4] {
		_, err := s.CreateRun(ctx, sub, slot)
		require.NoError(t, err)
	}

	b := newTestScheduler(s, "scheduler-b", slot.Add(2*time.Minute))
	report, err := b.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 4, report.Created)
	assert.Equal(t, 4, report.Duplicates)

	runs, err := s.Runs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 8)
}

// fakeRedis is an in-memory SET NX and DEL.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	client := &fakeRedis{}
	g := NewRedisGuard(client, WithKeyPrefix("test:"), WithTTL(time.Minute))

	ok, err := g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, client.keys["test:k1"])

	require.NoError(t, g.Release(ctx, "k1"))
	ok, err = g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "released keys can be taken again")
}

func TestTick_GuardRejectsReservedKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(ctx, testJob(), slot))

	subs, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)
	g := NewRedisGuard(&fakeRedis{})
	_, err = g.Acquire(ctx, subs[0].Key)
	require.NoError(t, err)
	created, err := s.CreateRun(ctx, subs[0], slot)
	require.NoError(t, err)
	require.True(t, created)

	sch := newTestScheduler(s, "a", slot.Add(time.Minute), WithGuard(g))
	report, err := sch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Created)
	assert.Equal(t, 1, report.Duplicates)
}

func TestTick_ReservedKeyWithoutRunIsStillCreated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(ctx, testJob(), slot))

	// A tick reserved the key and died before storing the run.
	subs, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)
	g := NewRedisGuard(&fakeRedis{})
	_, err = g.Acquire(ctx, subs[0].Key)
	require.NoError(t, err)

	sch := newTestScheduler(s, "a", slot.Add(time.Minute), WithGuard(g))
	report, err := sch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Created)
	assert.Zero(t, report.Duplicates)
}

// cancelAfterAcquire cancels the tick's context once a key is reserved, so
// storing the run fails.
type cancelAfterAcquire struct {
	Guard
	cancel context.CancelFunc
}

func (g cancelAfterAcquire) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.Guard.Acquire(ctx, key)
	g.cancel()
	return ok, err
}

func TestTick_FailedInsertReleasesKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(context.Background(), testJob(), slot))

	subs, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)
	client := &fakeRedis{}
	g := NewRedisGuard(client)

	ctx, cancel := context.WithCancel(context.Background())
	first := newTestScheduler(s, "a", slot.Add(time.Minute), WithGuard(cancelAfterAcquire{Guard: g, cancel: cancel}))
	_, err = first.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, client.has("groundcheck:idem:"+subs[0].Key))

	// The lease lapses and another scheduler retries the slot.
	second := newTestScheduler(s, "b", slot.Add(time.Minute+DefaultLease+time.Second), WithGuard(g))
	report, err := second.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 8, report.Created)
	assert.Zero(t, report.Duplicates)

	runs, err := s.Runs(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 8)
}

func TestTick_GuardOutageFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutSchedule(ctx, testJob(), slot))

	g := NewRedisGuard(&fakeRedis{err: errors.New("connection refused")})
	sch := newTestScheduler(s, "a", slot.Add(time.Minute), WithGuard(g))

	report, err := sch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Created)
}

type stubTransport struct {
	calls *atomic.Int32
}

func (stubTransport) Name() string { return "openai" }

func (t stubTransport) Call(context.Context, *provider.Request) (*provider.Response, error) {
	if t.calls != nil {
		t.calls.Add(1)
	}
	return &provider.Response{StatusCode: 200, Body: json.RawMessage(
		`{"output":[{"type":"message","content":[{"type":"output_text","text":"Use a certified tool."}]}]}`)}, nil
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	job := testJob()
	job.Targets = []Target{{Provider: "openai", Model: "gpt-4o"}}
	job.Countries = nil
	require.NoError(t, s.PutSchedule(ctx, job, slot))

	sch := newTestScheduler(s, "a", slot.Add(time.Minute))
	_, err := sch.Tick(ctx)
	require.NoError(t, err)

	reg := provider.NewRegistry()
	reg.Register("openai", func() (provider.Provider, error) { return stubTransport{}, nil })
	engine := grounding.New(reg, grounding.WithLogger(quiet))

	n, err := sch.Dispatch(ctx, engine, 10, grounding.BatchOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.Runs(ctx, RunOK, 0)
	require.NoError(t, err)
	failed, err := s.Runs(ctx, RunFailed, 0)
	require.NoError(t, err)
	// OFF passes without a tool call; hard REQUIRED fails closed.
	assert.Len(t, ok, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, "no_tool_call_in_required", failed[0].ErrorCode)

	n, err = sch.Dispatch(ctx, engine, 10, grounding.BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func stubEngine(calls *atomic.Int32) *grounding.Engine {
	reg := provider.NewRegistry()
	reg.Register("openai", func() (provider.Provider, error) { return stubTransport{calls: calls}, nil })
	return grounding.New(reg, grounding.WithLogger(quiet))
}

func TestDispatch_ConcurrentDispatchersRunEachOnce(t *testing.T) {
	for i := 0; i < 5; i++ {
		ctx := context.Background()
		s := openTestStore(t)

		job := testJob()
		job.Targets = []Target{{Provider: "openai", Model: "gpt-4o"}}
		job.Countries = nil
		require.NoError(t, s.PutSchedule(ctx, job, slot))
		_, err := newTestScheduler(s, "a", slot.Add(time.Minute)).Tick(ctx)
		require.NoError(t, err)

		var calls atomic.Int32
		engine := stubEngine(&calls)
		dispatchers := []*Scheduler{
			newTestScheduler(s, "a", slot.Add(time.Minute)),
			newTestScheduler(s, "b", slot.Add(time.Minute)),
		}

		var claimed atomic.Int32
		var wg sync.WaitGroup
		for _, d := range dispatchers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := d.Dispatch(ctx, engine, 10, grounding.BatchOptions{Concurrency: 2})
				assert.NoError(t, err)
				claimed.Add(int32(n))
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 2, calls.Load())
		assert.EqualValues(t, 2, claimed.Load())
		queued, err := s.Runs(ctx, RunQueued, 0)
		require.NoError(t, err)
		assert.Empty(t, queued)
	}
}

func TestDispatch_RejectsOnlyInvalidRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	good := Submission{
		Key:         "key-good",
		ScheduleID:  "manual",
		ScheduledAt: slot,
		Request: grounding.RunRequest{
			RunID:    "run-good",
			Provider: "openai",
			Model:    "gpt-4o",
			Mode:     "OFF",
			Prompt:   "Which VAT software do accountants recommend?",
		},
	}
	bad := good
	bad.Key = "key-bad"
	bad.Request.RunID = "run-bad"
	bad.Request.Provider = "unregistered"
	for _, sub := range []Submission{good, bad} {
		_, err := s.CreateRun(ctx, sub, slot)
		require.NoError(t, err)
	}

	var calls atomic.Int32
	sch := newTestScheduler(s, "a", slot.Add(time.Minute))
	n, err := sch.Dispatch(ctx, stubEngine(&calls), 10, grounding.BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 1, calls.Load())

	ok, err := s.Runs(ctx, RunOK, 0)
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, "run-good", ok[0].RunID)

	failed, err := s.Runs(ctx, RunFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-bad", failed[0].RunID)
	assert.Equal(t, CodeInvalidRequest, failed[0].ErrorCode)
}
