package sink

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/store"
)

const (
	unknown = "unknown"
	// seenLimit bounds the in-memory duplicate filter; the recorder's
	// insert-or-ignore covers older job ids.
	seenLimit = 4096
)

// OutcomeRecorder persists terminal outcomes; the sqlite store implements it.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o store.Outcome) (bool, error)
}

// Sink consumes terminal job results. It logs and records them and never
// touches registration records or the queues.
type Sink struct {
	logger   *slog.Logger
	recorder OutcomeRecorder

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New returns a sink that logs every outcome and, when recorder is non-nil,
// persists it.
func New(logger *slog.Logger, recorder OutcomeRecorder) *Sink {
	return &Sink{
		logger:   logger.With("component", "dispatch.sink"),
		recorder: recorder,
		seen:     make(map[string]struct{}),
	}
}

// Handle is a dispatch.CompletionFunc. A job id already handled by this
// sink is ignored, so redelivery from a durable backend is harmless.
func (s *Sink) Handle(ctx context.Context, c dispatch.Completion) {
	if c.Job.ID != "" {
		s.mu.Lock()
		_, dup := s.seen[c.Job.ID]
		if !dup {
			s.remember(c.Job.ID)
		}
		s.mu.Unlock()
		if dup {
			s.logger.Debug("duplicate completion ignored", "job_id", c.Job.ID)
			return
		}
	}

	attrs := []any{
		"pool", c.Pool,
		"job_id", orUnknown(c.Job.ID),
		"kind", c.Job.Kind,
		"record_id", orUnknown(c.Job.Context.RecordID),
		"name", orUnknown(c.Job.Context.Name),
		"attempts", c.Result.Attempts,
	}
	switch c.Result.Kind {
	case dispatch.ResultSuccess:
		s.logger.Info("dispatch succeeded", attrs...)
	case dispatch.ResultCanceled:
		s.logger.Warn("dispatch canceled", attrs...)
	default:
		s.logger.Error("dispatch failed", append(attrs, "error", c.Result.Error)...)
	}

	if s.recorder == nil || c.Job.ID == "" {
		return
	}
	enqueued := c.Job.EnqueuedAt
	o := store.Outcome{
		JobID:      c.Job.ID,
		Pool:       c.Pool,
		Kind:       string(c.Job.Kind),
		Status:     string(c.Result.Kind),
		Error:      c.Result.Error,
		Attempts:   c.Result.Attempts,
		RecordID:   c.Job.Context.RecordID,
		RecordName: c.Job.Context.Name,
		Reason:     c.Job.Context.Reason,
		FinishedAt: c.FinishedAt,
	}
	if !enqueued.IsZero() {
		o.EnqueuedAt = &enqueued
	}
	if _, err := s.recorder.RecordOutcome(ctx, o); err != nil {
		s.logger.Error("record outcome failed", "job_id", c.Job.ID, "error", err)
	}
}

func (s *Sink) remember(id string) {
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > seenLimit {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknown
	}
	return v
}
