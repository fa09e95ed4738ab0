package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects completions keyed by job id.
type recorder struct {
	mu   sync.Mutex
	byID map[string][]Completion
	all  []Completion
}

func newRecorder() *recorder {
	return &recorder{byID: map[string][]Completion{}}
}

func (r *recorder) record(_ context.Context, c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.Job.ID] = append(r.byID[c.Job.ID], c)
	r.all = append(r.all, c)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *recorder) forJob(id string) []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.byID[id]...)
}

func testConfig(parallelism int) Config {
	return Config{
		Name:           "test",
		Parallelism:    parallelism,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		BackoffBase:    2,
	}
}

func TestBackoffSchedules(t *testing.T) {
	sms := SMSConfig()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		[]time.Duration{sms.Backoff(0), sms.Backoff(1), sms.Backoff(2)})

	sheets := SpreadsheetConfig()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		[]time.Duration{sheets.Backoff(0), sheets.Backoff(1), sheets.Backoff(2)})

	assert.Equal(t, 5, sms.Parallelism)
	assert.Equal(t, 5, sheets.Parallelism)
	assert.Equal(t, 3, sms.MaxAttempts)
	assert.Equal(t, 3, sheets.MaxAttempts)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, SMSConfig().Validate())

	bad := []Config{
		{},
		{Name: "x", Parallelism: 0, MaxAttempts: 1, BackoffBase: 2},
		{Name: "x", Parallelism: 1, MaxAttempts: 0, BackoffBase: 2},
		{Name: "x", Parallelism: 1, MaxAttempts: 1, BackoffBase: 0.5},
		{Name: "x", Parallelism: 1, MaxAttempts: 1, BackoffBase: 2, InitialBackoff: -time.Second},
	}
	for _, cfg := range bad {
		assert.Error(t, cfg.Validate(), "%+v", cfg)
	}
}

func TestPool_ConcurrencyCap(t *testing.T) {
	var active, peak, started atomic.Int32
	gate := make(chan struct{})
	rec := newRecorder()

	pool, err := NewPool(testConfig(5), func(ctx context.Context, job Job) error {
		started.Add(1)
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		active.Add(-1)
		return nil
	}, rec.record)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := pool.Enqueue(context.Background(), KindSMS, map[string]int{"n": i}, JobContext{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return active.Load() == 5 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(5), active.Load())
	assert.Equal(t, int32(5), started.Load())
	assert.Equal(t, Stats{Pending: 5, Running: 5}, pool.Stats())

	close(gate)
	require.Eventually(t, func() bool { return rec.count() == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(5), peak.Load())
	assert.Equal(t, Stats{}, pool.Stats())
}

func TestPool_FIFOStartOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	rec := newRecorder()

	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		mu.Lock()
		order = append(order, job.Context.Name)
		mu.Unlock()
		<-gate
		return nil
	}, rec.record)
	require.NoError(t, err)

	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		_, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{Name: n})
		require.NoError(t, err)
	}
	close(gate)
	require.Eventually(t, func() bool { return rec.count() == len(names) }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, names, order)
}

func TestPool_ExhaustedReportsOnce(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	pool, err := NewPool(testConfig(5), func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("gateway 503")
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{RecordID: "r1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got := rec.forJob(id)
	require.Len(t, got, 1)
	assert.Equal(t, ResultFailed, got[0].Result.Kind)
	assert.Equal(t, 3, got[0].Result.Attempts)
	assert.Contains(t, got[0].Result.Error, "gateway 503")
	assert.Contains(t, got[0].Result.Error, ErrDispatchFailed.Error())
	assert.Equal(t, int32(3), calls.Load())

	state, err := pool.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	cause := errors.New("bad phone")
	err := fmt.Errorf("sms: %w", Permanent(cause))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sms: bad phone", err.Error())
	assert.False(t, IsPermanent(cause))
}

func TestPool_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		calls.Add(1)
		var msg struct {
			Phone string `json:"phone"`
		}
		return job.Decode(&msg)
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSMS, json.RawMessage(`"not an object"`), JobContext{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got := rec.forJob(id)
	require.Len(t, got, 1)
	assert.Equal(t, ResultFailed, got[0].Result.Kind)
	assert.Equal(t, 1, got[0].Result.Attempts)
	assert.Contains(t, got[0].Result.Error, "decode sms payload")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPool_RetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSpreadsheetSync, nil, JobContext{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	got := rec.forJob(id)
	require.Len(t, got, 1)
	assert.Equal(t, Result{Kind: ResultSuccess, Attempts: 3}, got[0].Result)
	assert.Equal(t, "test", got[0].Pool)
	assert.Equal(t, KindSpreadsheetSync, got[0].Job.Kind)
}

func TestPool_CancelPending(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		calls.Add(1)
		<-gate
		return nil
	}, rec.record)
	require.NoError(t, err)

	first, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	second, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)

	state, err := pool.Status(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, StatePending, state)

	ok, err := pool.Cancel(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, ok)

	got := rec.forJob(second)
	require.Len(t, got, 1)
	assert.Equal(t, ResultCanceled, got[0].Result.Kind)

	ok, err = pool.Cancel(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, ok, "terminal jobs cannot be canceled again")

	close(gate)
	require.Eventually(t, func() bool { return len(rec.forJob(first)) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, rec.forJob(second), 1)
}

func TestPool_CancelDuringBackoff(t *testing.T) {
	cfg := testConfig(1)
	cfg.InitialBackoff = time.Hour
	rec := newRecorder()
	pool, err := NewPool(cfg, func(ctx context.Context, job Job) error {
		return errors.New("down")
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, _ := pool.Status(context.Background(), id)
		return state == StateRetrying
	}, time.Second, time.Millisecond)

	ok, err := pool.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	got := rec.forJob(id)
	assert.Equal(t, ResultCanceled, got[0].Result.Kind)
	assert.Equal(t, 1, got[0].Result.Attempts)
}

func TestPool_CancelRunningFinishesAttempt(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan error)
	rec := newRecorder()
	var calls atomic.Int32
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		calls.Add(1)
		close(entered)
		return <-release
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	<-entered

	ok, err := pool.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, rec.count(), "a running attempt is not interrupted")

	release <- errors.New("timeout")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ResultCanceled, rec.forJob(id)[0].Result.Kind)
	assert.Equal(t, int32(1), calls.Load(), "no retry after cancel")
}

func TestPool_CancelRunningThatSucceeds(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		close(entered)
		<-release
		return nil
	}, rec.record)
	require.NoError(t, err)

	id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	<-entered
	_, err = pool.Cancel(context.Background(), id)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ResultSuccess, rec.forJob(id)[0].Result.Kind)
}

func TestPool_FailureIsolation(t *testing.T) {
	rec := newRecorder()
	pool, err := NewPool(testConfig(5), func(ctx context.Context, job Job) error {
		switch job.Context.Name {
		case "panics":
			panic("boom")
		case "fails":
			return errors.New("nope")
		}
		return nil
	}, rec.record)
	require.NoError(t, err)

	ids := map[string]string{}
	for _, name := range []string{"ok1", "panics", "fails", "ok2"} {
		id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{Name: name})
		require.NoError(t, err)
		ids[name] = id
	}
	require.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, time.Millisecond)

	assert.Equal(t, ResultSuccess, rec.forJob(ids["ok1"])[0].Result.Kind)
	assert.Equal(t, ResultSuccess, rec.forJob(ids["ok2"])[0].Result.Kind)
	assert.Equal(t, ResultFailed, rec.forJob(ids["fails"])[0].Result.Kind)
	panicked := rec.forJob(ids["panics"])[0].Result
	assert.Equal(t, ResultFailed, panicked.Kind)
	assert.Contains(t, panicked.Error, "handler panic: boom")
}

func TestPool_CompletionPanicDoesNotStopPool(t *testing.T) {
	var completions atomic.Int32
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error { return nil },
		func(ctx context.Context, c Completion) {
			if completions.Add(1) == 1 {
				panic("sink exploded")
			}
		})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return completions.Load() == 3 }, time.Second, time.Millisecond)
}

func TestPool_PayloadRoundTrip(t *testing.T) {
	type smsPayload struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	got := make(chan smsPayload, 1)
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		var p smsPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		got <- p
		return nil
	}, nil)
	require.NoError(t, err)

	_, err = pool.Enqueue(context.Background(), KindSMS, smsPayload{Phone: "010-1234-5678", Message: "안내"}, JobContext{})
	require.NoError(t, err)
	select {
	case p := <-got:
		assert.Equal(t, smsPayload{Phone: "010-1234-5678", Message: "안내"}, p)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestPool_ShutdownCancelsQueued(t *testing.T) {
	gate := make(chan struct{})
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error {
		<-gate
		return nil
	}, rec.record)
	require.NoError(t, err)

	running, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	queued, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pool.Stats().Running == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- pool.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return len(rec.forJob(queued)) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ResultCanceled, rec.forJob(queued)[0].Result.Kind)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, ResultSuccess, rec.forJob(running)[0].Result.Kind)

	_, err = pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseDrainsQueued(t *testing.T) {
	rec := newRecorder()
	pool, err := NewPool(testConfig(2), func(ctx context.Context, job Job) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, rec.record)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Close(ctx))
	assert.Equal(t, 6, rec.count())
	for _, c := range rec.all {
		assert.Equal(t, ResultSuccess, c.Result.Kind)
	}
}

func TestPool_UnknownJob(t *testing.T) {
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error { return nil }, nil)
	require.NoError(t, err)

	_, err = pool.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, err = pool.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestPool_RetainFinished(t *testing.T) {
	rec := newRecorder()
	pool, err := NewPool(testConfig(1), func(ctx context.Context, job Job) error { return nil }, rec.record, WithRetainFinished(2))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := pool.Enqueue(context.Background(), KindSMS, nil, JobContext{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, time.Millisecond)

	_, err = pool.Status(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrUnknownJob)
	state, err := pool.Status(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, state)
}
