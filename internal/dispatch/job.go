package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind names the outbound operation a job performs.
type Kind string

const (
	KindSMS             Kind = "sms"
	KindSpreadsheetSync Kind = "spreadsheet-sync"
)

var (
	// ErrDispatchFailed wraps the last handler error of an exhausted job.
	ErrDispatchFailed = errors.New("dispatch failed")
	ErrPoolClosed     = errors.New("dispatch pool closed")
	ErrUnknownJob     = errors.New("unknown dispatch job")
)

// PermanentError marks a handler failure that another attempt cannot fix,
// such as a payload that does not decode or validate. Pools settle such
// jobs as failed without retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// JobContext carries identifying details for logs. Every field is optional.
type JobContext struct {
	RecordID string `json:"recordId,omitempty"`
	Name     string `json:"name,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Job is one unit of outbound work.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Context    JobContext      `json:"context"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the job payload into v. A payload that does not
// decode is a permanent error.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// State is a job's position in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// ResultKind tags a terminal outcome.
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultFailed   ResultKind = "failed"
	ResultCanceled ResultKind = "canceled"
)

// Result is reported exactly once per job.
type Result struct {
	Kind     ResultKind `json:"kind"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
}

func (r Result) state() State {
	switch r.Kind {
	case ResultSuccess:
		return StateSucceeded
	case ResultCanceled:
		return StateCanceled
	}
	return StateFailed
}

// Completion is what a pool hands to its completion callback.
type Completion struct {
	Pool       string    `json:"pool"`
	Job        Job       `json:"job"`
	Result     Result    `json:"result"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Handler performs one attempt of a job. A non-nil error schedules a retry
// until the pool's attempts are used up.
type Handler func(ctx context.Context, job Job) error

// CompletionFunc receives terminal outcomes. It must not block for long:
// it runs on the goroutine that finished the job.
type CompletionFunc func(ctx context.Context, c Completion)

// Queue is the surface the scheduler and HTTP handlers depend on. Both the
// in-process Pool and the Temporal-backed queue implement it.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, kind Kind, payload any, jc JobContext) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (State, error)
}

// Config tunes one named pool.
type Config struct {
	Name           string
	Parallelism    int
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffBase    float64
	// AttemptTimeout bounds a single handler call; zero means no bound.
	AttemptTimeout time.Duration
}

// SMSConfig is the reminder SMS pool: 5 in flight, 3 attempts, 1s then 2s backoff.
func SMSConfig() Config {
	return Config{
		Name:           string(KindSMS),
		Parallelism:    5,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		BackoffBase:    2,
		AttemptTimeout: 30 * time.Second,
	}
}

// SpreadsheetConfig is the sheet sync pool: 5 in flight, 3 attempts, 2s then 4s backoff.
func SpreadsheetConfig() Config {
	return Config{
		Name:           string(KindSpreadsheetSync),
		Parallelism:    5,
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		BackoffBase:    2,
		AttemptTimeout: 2 * time.Minute,
	}
}

// Validate rejects configurations that cannot make progress.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("dispatch config: name required")
	case c.Parallelism < 1:
		return fmt.Errorf("dispatch config %s: parallelism must be >= 1", c.Name)
	case c.MaxAttempts < 1:
		return fmt.Errorf("dispatch config %s: max attempts must be >= 1", c.Name)
	case c.InitialBackoff < 0:
		return fmt.Errorf("dispatch config %s: negative backoff", c.Name)
	case c.BackoffBase < 1:
		return fmt.Errorf("dispatch config %s: backoff base must be >= 1", c.Name)
	}
	return nil
}

// Backoff is the wait after the failed attempt with zero-based index
// attemptIndex: InitialBackoff * BackoffBase^attemptIndex.
func (c Config) Backoff(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	return time.Duration(float64(c.InitialBackoff) * math.Pow(c.BackoffBase, float64(attemptIndex)))
}
