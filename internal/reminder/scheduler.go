package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sms"
)

const (
	// MaxAttempts is the number of reminders a record can ever receive.
	MaxAttempts = 3
	// Interval is the minimum spacing between reminders, and between
	// registration and the first reminder.
	Interval = 72 * time.Hour

	Reason = "payment-reminder"
)

// Source is the registration collaborator the scheduler reads from and
// writes reminder state to. ListRegistrations must include paid records so
// a newer paid registration hides an older unpaid one for the same person.
type Source interface {
	ListRegistrations(ctx context.Context) ([]registration.Tracked, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
}

// MessageFunc renders the reminder text for one record.
type MessageFunc func(rec registration.Record) string

// DefaultMessage is the payment reminder sent to unpaid registrants.
func DefaultMessage(rec registration.Record) string {
	name := rec.Name
	if name == "" {
		name = "신청자"
	}
	return fmt.Sprintf("[수련회] %s님, 수련회 회비 입금이 아직 확인되지 않았습니다. 입금 후 확인까지 하루 정도 걸릴 수 있습니다.", name)
}

// Summary describes one scheduler pass.
type Summary struct {
	RanAt    time.Time `json:"ranAt"`
	Scanned  int       `json:"scanned"`
	Selected int       `json:"selected"`
	Enqueued int       `json:"enqueued"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
}

// Scheduler selects due records and hands them to the sms queue.
type Scheduler struct {
	source  Source
	queue   dispatch.Queue
	logger  *slog.Logger
	message MessageFunc
	now     func() time.Time

	// runMu serializes passes; inflight maps record id to its last job id.
	runMu    sync.Mutex
	inflight map[string]string
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithMessage(fn MessageFunc) Option {
	return func(s *Scheduler) { s.message = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler enqueueing onto queue.
func New(source Source, queue dispatch.Queue, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		queue:    queue,
		logger:   logger.With("component", "reminder"),
		message:  DefaultMessage,
		now:      time.Now,
		inflight: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due reports whether t should be reminded at now: unpaid, fewer than
// MaxAttempts reminders, and at least Interval since the last reminder or,
// when none was sent, since registration.
func Due(t registration.Tracked, now time.Time) bool {
	if t.Record.IsPaid || t.Reminder.AttemptCount >= MaxAttempts {
		return false
	}
	since := t.Record.CreatedAt
	if t.Reminder.LastSentAt != nil {
		since = *t.Reminder.LastSentAt
	}
	return !now.Before(since.Add(Interval))
}

// SelectDue keeps the most recent registration per phone number, paid or
// not, and returns those that are due, ordered by registration time then id.
func SelectDue(records []registration.Tracked, now time.Time) []registration.Tracked {
	var out []registration.Tracked
	for _, t := range registration.LatestPerPerson(records, func(t registration.Tracked) registration.Record { return t.Record }) {
		if Due(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// Run performs one pass at now. Reminder state is written only after the
// job is accepted by the queue; delivery is reported to the sink.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	summary := Summary{RanAt: now.UTC()}
	records, err := s.source.ListRegistrations(ctx)
	if err != nil {
		return summary, fmt.Errorf("load registrations: %w", err)
	}
	summary.Scanned = len(records)
	s.pruneInflight(ctx)

	due := SelectDue(records, now)
	summary.Selected = len(due)
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec := t.Record
		if _, busy := s.inflight[rec.ID]; busy {
			s.logger.Info("reminder already in flight", "record_id", rec.ID)
			summary.Skipped++
			continue
		}
		msg := sms.Message{Phone: rec.Phone, Message: s.message(rec)}
		if err := msg.Validate(); err != nil {
			s.logger.Warn("reminder skipped", "record_id", rec.ID, "error", err)
			summary.Skipped++
			continue
		}

		jobID, err := s.queue.Enqueue(ctx, dispatch.KindSMS, msg, dispatch.JobContext{
			RecordID: rec.ID,
			Name:     rec.Name,
			Reason:   Reason,
		})
		if err != nil {
			s.logger.Error("enqueue reminder failed", "record_id", rec.ID, "error", err)
			summary.Failed++
			continue
		}
		s.inflight[rec.ID] = jobID

		if err := s.source.MarkReminderSent(ctx, rec.ID, now); err != nil {
			s.logger.Error("mark reminder sent failed", "record_id", rec.ID, "job_id", jobID, "error", err)
			summary.Failed++
			continue
		}
		summary.Enqueued++
		s.logger.Info("reminder enqueued",
			"record_id", rec.ID,
			"job_id", jobID,
			"attempt", t.Reminder.AttemptCount+1,
		)
	}

	s.logger.Info("reminder pass finished",
		"scanned", summary.Scanned,
		"selected", summary.Selected,
		"enqueued", summary.Enqueued,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// pruneInflight forgets records whose last job has settled or is no longer
// known to the queue. Caller holds runMu.
func (s *Scheduler) pruneInflight(ctx context.Context) {
	for id, jobID := range s.inflight {
		state, err := s.queue.Status(ctx, jobID)
		switch {
		case errors.Is(err, dispatch.ErrUnknownJob):
			delete(s.inflight, id)
		case err != nil:
			s.logger.Warn("reminder job status unavailable", "record_id", id, "job_id", jobID, "error", err)
		case state.Terminal():
			delete(s.inflight, id)
		}
	}
}
