package reminder

import (
	"context"
	"fmt"
	"time"
)

// ParseTimeOfDay parses an "HH:MM" UTC time of day into an offset from
// midnight.
func ParseTimeOfDay(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("reminder time %q: want HH:MM", raw)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NextRun returns the first instant strictly after now that falls at
// offset past UTC midnight.
func NextRun(now time.Time, offset time.Duration) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := midnight.Add(offset)
	if !next.After(now) {
		next = midnight.AddDate(0, 0, 1).Add(offset)
	}
	return next
}

// StartDaily runs a pass every day at offset past UTC midnight until ctx
// is done. The returned channel closes when the loop has exited.
func (s *Scheduler) StartDaily(ctx context.Context, offset time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		next := NextRun(s.now(), offset)
		s.logger.Info("reminder loop started", "next_run", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(s.now()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("reminder loop stopped", "reason", ctx.Err())
				return
			case <-timer.C:
				if _, err := s.Run(ctx, s.now()); err != nil {
					s.logger.Error("reminder pass failed", "error", err)
				}
				next = NextRun(s.now(), offset)
				s.logger.Debug("next reminder pass scheduled", "next_run", next.Format(time.RFC3339))
				timer.Reset(next.Sub(s.now()))
			}
		}
	}()
	return done
}
