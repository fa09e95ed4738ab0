package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRetainFinished = 1024

type entry struct {
	job             Job
	state           State
	attempts        int
	cancelRequested bool
	cancel          chan struct{}
}

// Pool runs jobs in-process with a concurrency cap. Jobs beyond the cap
// wait in FIFO order. A job keeps its slot while it waits between retries.
type Pool struct {
	cfg        Config
	handler    Handler
	onComplete CompletionFunc
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	retain     int

	mu       sync.Mutex
	jobs     map[string]*entry
	pending  []*entry
	finished []string
	running  int
	closed   bool
	wg       sync.WaitGroup
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithClock replaces time.Now for EnqueuedAt and FinishedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRetainFinished bounds how many terminal jobs stay queryable by Status.
func WithRetainFinished(n int) Option {
	return func(p *Pool) { p.retain = n }
}

// NewPool validates cfg and returns an idle pool.
func NewPool(cfg Config, handler Handler, onComplete CompletionFunc, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("dispatch pool %s: handler required", cfg.Name)
	}
	if onComplete == nil {
		onComplete = func(context.Context, Completion) {}
	}
	p := &Pool{
		cfg:        cfg,
		handler:    handler,
		onComplete: onComplete,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
		retain:     defaultRetainFinished,
		jobs:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "dispatch.pool", "pool", cfg.Name)
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// Config returns the pool tuning.
func (p *Pool) Config() Config { return p.cfg }

// Enqueue accepts a job and returns its id immediately.
func (p *Pool) Enqueue(_ context.Context, kind Kind, payload any, jc JobContext) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	e := &entry{
		job: Job{
			ID:         p.newID(),
			Kind:       kind,
			Payload:    raw,
			Context:    jc,
			EnqueuedAt: p.now().UTC(),
		},
		state:  StatePending,
		cancel: make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	p.jobs[e.job.ID] = e
	p.pending = append(p.pending, e)
	p.startLocked()
	p.mu.Unlock()

	p.logger.Debug("job enqueued", "job_id", e.job.ID, "kind", kind, "record_id", jc.RecordID)
	return e.job.ID, nil
}

// startLocked moves pending jobs into free slots.
func (p *Pool) startLocked() {
	for p.running < p.cfg.Parallelism && len(p.pending) > 0 {
		e := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		e.state = StateRunning
		p.running++
		p.wg.Add(1)
		go p.run(e)
	}
}

func (p *Pool) run(e *entry) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if e.cancelRequested && e.attempts > 0 {
			p.mu.Unlock()
			p.finish(e, Result{Kind: ResultCanceled, Attempts: e.attempts}, true)
			return
		}
		e.attempts++
		attempt := e.attempts
		e.state = StateRunning
		job := e.job
		p.mu.Unlock()

		err := p.attempt(job)
		if err == nil {
			p.finish(e, Result{Kind: ResultSuccess, Attempts: attempt}, true)
			return
		}

		p.mu.Lock()
		switch {
		case e.cancelRequested:
			p.mu.Unlock()
			p.finish(e, Result{Kind: ResultCanceled, Error: err.Error(), Attempts: attempt}, true)
			return
		case attempt >= p.cfg.MaxAttempts || IsPermanent(err):
			p.mu.Unlock()
			p.finish(e, Result{
				Kind:     ResultFailed,
				Error:    fmt.Errorf("%w after %d attempts: %v", ErrDispatchFailed, attempt, err).Error(),
				Attempts: attempt,
			}, true)
			return
		}
		e.state = StateRetrying
		p.mu.Unlock()

		delay := p.cfg.Backoff(attempt - 1)
		p.logger.Warn("job attempt failed; retrying", "job_id", job.ID, "attempt", attempt, "backoff", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-e.cancel:
			timer.Stop()
			p.finish(e, Result{Kind: ResultCanceled, Error: err.Error(), Attempts: attempt}, true)
			return
		}
	}
}

// attempt runs the handler once, converting a panic into an error so one
// job cannot take down the pool.
func (p *Pool) attempt(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	ctx := context.Background()
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}
	return p.handler(ctx, job)
}

// finish settles e and, if this call settled it, notifies the callback.
func (p *Pool) finish(e *entry, res Result, holdsSlot bool) {
	p.mu.Lock()
	settled := p.settleLocked(e, res, holdsSlot)
	job := e.job
	p.mu.Unlock()
	if settled {
		p.notify(job, res)
	}
}

func (p *Pool) settleLocked(e *entry, res Result, holdsSlot bool) bool {
	if e.state.Terminal() {
		return false
	}
	e.state = res.state()
	if holdsSlot {
		p.running--
	}
	p.finished = append(p.finished, e.job.ID)
	if p.retain >= 0 && len(p.finished) > p.retain {
		drop := len(p.finished) - p.retain
		for _, id := range p.finished[:drop] {
			delete(p.jobs, id)
		}
		p.finished = append([]string(nil), p.finished[drop:]...)
	}
	p.startLocked()
	return true
}

func (p *Pool) notify(job Job, res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("completion callback panic", "job_id", job.ID, "panic", r)
		}
	}()
	p.onComplete(context.Background(), Completion{
		Pool:       p.cfg.Name,
		Job:        job,
		Result:     res,
		FinishedAt: p.now().UTC(),
	})
}

// Cancel stops a job that has not reached a terminal state. Pending jobs
// are settled at once; running jobs finish their current attempt and are
// settled as canceled unless that attempt succeeds. It returns false when
// the job was already terminal.
func (p *Pool) Cancel(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	e, ok := p.jobs[id]
	if !ok {
		p.mu.Unlock()
		return false, ErrUnknownJob
	}
	if e.state.Terminal() {
		p.mu.Unlock()
		return false, nil
	}
	if e.state == StatePending {
		p.removePendingLocked(e)
		p.settleLocked(e, Result{Kind: ResultCanceled}, false)
		job := e.job
		p.mu.Unlock()
		p.notify(job, Result{Kind: ResultCanceled})
		return true, nil
	}
	p.requestCancelLocked(e)
	p.mu.Unlock()
	return true, nil
}

func (p *Pool) requestCancelLocked(e *entry) {
	if e.cancelRequested {
		return
	}
	e.cancelRequested = true
	close(e.cancel)
}

func (p *Pool) removePendingLocked(e *entry) {
	for i, candidate := range p.pending {
		if candidate == e {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// Status reports the current state of a job.
func (p *Pool) Status(_ context.Context, id string) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.jobs[id]
	if !ok {
		return "", ErrUnknownJob
	}
	return e.state, nil
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// Stats returns the number of queued and slot-holding jobs.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Pending: len(p.pending), Running: p.running}
}

// Close stops accepting jobs and waits until every accepted job, queued or
// running, has reached a terminal state.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.wait(ctx)
}

// Shutdown stops accepting jobs, cancels queued and retrying jobs, and
// waits for in-flight attempts to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	var canceled []Job
	queued := p.pending
	p.pending = nil
	for _, e := range queued {
		if p.settleLocked(e, Result{Kind: ResultCanceled}, false) {
			canceled = append(canceled, e.job)
		}
	}
	for _, e := range p.jobs {
		if e.state == StateRunning || e.state == StateRetrying {
			p.requestCancelLocked(e)
		}
	}
	p.mu.Unlock()

	for _, job := range canceled {
		p.notify(job, Result{Kind: ResultCanceled})
	}
	return p.wait(ctx)
}

func (p *Pool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("dispatch pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
