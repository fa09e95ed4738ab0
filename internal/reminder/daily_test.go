package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay("00:30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	d, err = ParseTimeOfDay("23:05")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+5*time.Minute, d)

	_, err = ParseTimeOfDay("24:00")
	assert.Error(t, err)
	_, err = ParseTimeOfDay("half past")
	assert.Error(t, err)
}

func TestNextRun(t *testing.T) {
	offset := 30 * time.Minute
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 30, 0, 0, time.UTC)},
		{time.Date(2025, 6, 10, 0, 30, 0, 0, time.UTC), time.Date(2025, 6, 11, 0, 30, 0, 0, time.UTC)},
		{time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC), time.Date(2025, 6, 11, 0, 30, 0, 0, time.UTC)},
		{time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)},
		// KST 09:10 is 00:10 UTC
		{time.Date(2025, 6, 10, 9, 10, 0, 0, time.FixedZone("KST", 9*3600)), time.Date(2025, 6, 10, 0, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextRun(tc.now, offset), tc.now.String())
	}
}

func TestStartDaily_StopsOnCancel(t *testing.T) {
	s := New(&fakeSource{}, &fakeQueue{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartDaily(ctx, 30*time.Minute)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reminder loop did not stop")
	}
}
