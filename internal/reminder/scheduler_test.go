package reminder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sms"
)

var now = time.Date(2025, 6, 10, 0, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tracked(id, phone string, created time.Time, attempts int, lastSent *time.Time) registration.Tracked {
	return registration.Tracked{
		Record: registration.Record{
			ID:        id,
			Name:      "이름" + id,
			Phone:     phone,
			CreatedAt: created,
		},
		Reminder: registration.ReminderState{AttemptCount: attempts, LastSentAt: lastSent},
	}
}

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

type fakeSource struct {
	mu      sync.Mutex
	records []registration.Tracked
	marked  map[string]int
	markErr error
}

func (f *fakeSource) ListRegistrations(context.Context) ([]registration.Tracked, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]registration.Tracked(nil), f.records...), nil
}

func (f *fakeSource) MarkReminderSent(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	if f.marked == nil {
		f.marked = map[string]int{}
	}
	f.marked[id]++
	for i := range f.records {
		if f.records[i].Record.ID == id {
			f.records[i].Reminder.AttemptCount++
			ts := at
			f.records[i].Reminder.LastSentAt = &ts
		}
	}
	return nil
}

type enqueued struct {
	msg sms.Message
	jc  dispatch.JobContext
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []enqueued
	states  map[string]dispatch.State
	failFor string
}

func (q *fakeQueue) Name() string { return "sms" }

func (q *fakeQueue) Enqueue(_ context.Context, kind dispatch.Kind, payload any, jc dispatch.JobContext) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if jc.RecordID == q.failFor {
		return "", dispatch.ErrPoolClosed
	}
	if kind != dispatch.KindSMS {
		return "", fmt.Errorf("unexpected kind %s", kind)
	}
	q.jobs = append(q.jobs, enqueued{msg: payload.(sms.Message), jc: jc})
	id := fmt.Sprintf("job-%d", len(q.jobs))
	if q.states == nil {
		q.states = map[string]dispatch.State{}
	}
	q.states[id] = dispatch.StatePending
	return id, nil
}

func (q *fakeQueue) Cancel(context.Context, string) (bool, error) { return false, nil }

func (q *fakeQueue) Status(_ context.Context, id string) (dispatch.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[id]
	if !ok {
		return "", dispatch.ErrUnknownJob
	}
	return st, nil
}

func (q *fakeQueue) settleAll(state dispatch.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.states {
		q.states[id] = state
	}
}

func TestDue_Interval(t *testing.T) {
	created := now.Add(-30 * 24 * time.Hour)

	assert.False(t, Due(tracked("a", "01011112222", created, 1, ago(48*time.Hour)), now), "2 days since last reminder")
	assert.True(t, Due(tracked("a", "01011112222", created, 1, ago(72*time.Hour)), now), "3 days since last reminder")
	assert.True(t, Due(tracked("a", "01011112222", created, 2, ago(96*time.Hour)), now))
}

func TestDue_MaxAttempts(t *testing.T) {
	created := now.Add(-365 * 24 * time.Hour)
	assert.False(t, Due(tracked("a", "01011112222", created, 3, ago(200*24*time.Hour)), now))
	assert.False(t, Due(tracked("a", "01011112222", created, 4, nil), now))
}

func TestDue_FirstReminderWaitsForRegistrationAge(t *testing.T) {
	assert.False(t, Due(tracked("a", "01011112222", now.Add(-71*time.Hour), 0, nil), now))
	assert.True(t, Due(tracked("a", "01011112222", now.Add(-72*time.Hour), 0, nil), now))
}

func TestDue_Paid(t *testing.T) {
	rec := tracked("a", "01011112222", now.Add(-10*24*time.Hour), 0, nil)
	rec.Record.IsPaid = true
	assert.False(t, Due(rec, now))
}

func TestSelectDue_MostRecentRegistrationWins(t *testing.T) {
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-5 * 24 * time.Hour)
	records := []registration.Tracked{
		tracked("old", "010-1111-2222", old, 0, nil),
		tracked("recent", "+82 10 1111 2222", recent, 0, nil),
		tracked("other", "01033334444", old, 0, nil),
		tracked("fresh", "01055556666", now.Add(-time.Hour), 0, nil),
	}

	got := SelectDue(records, now)
	require.Len(t, got, 2)
	assert.Equal(t, "other", got[0].Record.ID)
	assert.Equal(t, "recent", got[1].Record.ID)

	// input order does not matter
	reversed := []registration.Tracked{records[3], records[2], records[1], records[0]}
	assert.Equal(t, got, SelectDue(reversed, now))
}

func TestSelectDue_TieBrokenByID(t *testing.T) {
	created := now.Add(-5 * 24 * time.Hour)
	got := SelectDue([]registration.Tracked{
		tracked("b", "01011112222", created, 0, nil),
		tracked("a", "01011112222", created, 0, nil),
		tracked("d", "01099998888", created, 0, nil),
		tracked("c", "01077776666", created, 0, nil),
	}, now)
	ids := make([]string, 0, len(got))
	for _, t := range got {
		ids = append(ids, t.Record.ID)
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)
}

func TestSelectDue_NewerPaidRegistrationSuppressesOlderUnpaid(t *testing.T) {
	older := tracked("old", "010-1234-5678", now.Add(-10*24*time.Hour), 0, nil)
	newer := tracked("new", "01012345678", now.Add(-5*24*time.Hour), 0, nil)
	newer.Record.IsPaid = true

	assert.Empty(t, SelectDue([]registration.Tracked{older, newer}, now))
	assert.Empty(t, SelectDue([]registration.Tracked{newer, older}, now))

	// an older paid registration does not hide a newer unpaid one
	older.Record.IsPaid, newer.Record.IsPaid = true, false
	got := SelectDue([]registration.Tracked{older, newer}, now)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Record.ID)
}

func TestRun_PaidPersonNotReminded(t *testing.T) {
	paid := tracked("new", "01012345678", now.Add(-5*24*time.Hour), 0, nil)
	paid.Record.IsPaid = true
	src := &fakeSource{records: []registration.Tracked{
		tracked("old", "010-1234-5678", now.Add(-10*24*time.Hour), 0, nil),
		paid,
	}}
	q := &fakeQueue{}
	s := New(src, q, discardLogger())

	summary, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 0, summary.Selected)
	assert.Equal(t, 0, summary.Enqueued)
	assert.Empty(t, q.jobs)
	assert.Empty(t, src.marked)
}

func TestRun_EnqueuesAndMarks(t *testing.T) {
	created := now.Add(-5 * 24 * time.Hour)
	src := &fakeSource{records: []registration.Tracked{
		tracked("r1", "010-1234-5678", created, 0, nil),
		tracked("r2", "01098765432", created.Add(time.Hour), 1, ago(2*24*time.Hour)),
		tracked("r3", "01011112222", created.Add(2*time.Hour), 3, nil),
	}}
	q := &fakeQueue{}
	s := New(src, q, discardLogger())

	summary, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, 1, summary.Enqueued)

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, "010-1234-5678", job.msg.Phone)
	assert.Contains(t, job.msg.Message, "이름r1")
	assert.Equal(t, dispatch.JobContext{RecordID: "r1", Name: "이름r1", Reason: Reason}, job.jc)
	assert.Equal(t, map[string]int{"r1": 1}, src.marked)
}

func TestRun_SecondPassSameDaySelectsNothing(t *testing.T) {
	src := &fakeSource{records: []registration.Tracked{
		tracked("r1", "01012345678", now.Add(-5*24*time.Hour), 0, nil),
	}}
	q := &fakeQueue{}
	s := New(src, q, discardLogger())

	_, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	summary, err := s.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Selected)
	assert.Len(t, q.jobs, 1)
}

func TestRun_InFlightRecordSkipped(t *testing.T) {
	src := &fakeSource{records: []registration.Tracked{
		tracked("r1", "01012345678", now.Add(-5*24*time.Hour), 0, nil),
	}}
	q := &fakeQueue{}
	s := New(src, q, discardLogger())

	_, err := s.Run(context.Background(), now)
	require.NoError(t, err)

	// three days later the first job has still not settled
	later := now.Add(Interval)
	summary, err := s.Run(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, q.jobs, 1)

	q.settleAll(dispatch.StateFailed)
	summary, err = s.Run(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Len(t, q.jobs, 2)
	assert.Equal(t, 2, src.marked["r1"])
}

func TestRun_EnqueueFailureLeavesStateUntouched(t *testing.T) {
	src := &fakeSource{records: []registration.Tracked{
		tracked("r1", "01012345678", now.Add(-5*24*time.Hour), 0, nil),
		tracked("r2", "01012340000", now.Add(-4*24*time.Hour), 0, nil),
	}}
	q := &fakeQueue{failFor: "r1"}
	s := New(src, q, discardLogger())

	summary, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Equal(t, map[string]int{"r2": 1}, src.marked)
}

func TestRun_InvalidPhoneSkipped(t *testing.T) {
	src := &fakeSource{records: []registration.Tracked{
		tracked("r1", "", now.Add(-5*24*time.Hour), 0, nil),
	}}
	q := &fakeQueue{}
	s := New(src, q, discardLogger())

	summary, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, q.jobs)
	assert.Empty(t, src.marked)
}

func TestRun_MarkFailureCounted(t *testing.T) {
	src := &fakeSource{
		records: []registration.Tracked{tracked("r1", "01012345678", now.Add(-5*24*time.Hour), 0, nil)},
		markErr: errors.New("db locked"),
	}
	q := &fakeQueue{}
	s := New(src, q, discardLogger(), WithMessage(func(registration.Record) string { return "입금 부탁드립니다" }))

	summary, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, "입금 부탁드립니다", q.jobs[0].msg.Message)
}
