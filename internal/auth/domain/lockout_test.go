package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockoutState_RecordFailure(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	steps := []LockoutStep{{Failures: 2, Duration: time.Minute}, {Failures: 3, Duration: time.Hour}}
	rule := func(at time.Time) LockoutRule {
		return LockoutRule{Now: at, Window: time.Hour, Steps: steps}
	}

	var s LockoutState
	s.RecordFailure(rule(start))
	require.Equal(t, 1, s.Failures)
	require.Nil(t, s.LockedUntil)

	s.RecordFailure(rule(start.Add(time.Second)))
	require.Equal(t, 2, s.Failures)
	require.NotNil(t, s.LockedUntil)
	require.True(t, start.Add(time.Second+time.Minute).Equal(*s.LockedUntil))

	s.RecordFailure(rule(start.Add(2 * time.Minute)))
	require.Equal(t, 3, s.Failures)
	require.True(t, start.Add(2*time.Minute+time.Hour).Equal(*s.LockedUntil))

	// still locked: the window does not reset the count
	s.RecordFailure(rule(start.Add(2*time.Minute + 59*time.Minute)))
	require.Equal(t, 4, s.Failures)

	later := s.LockedUntil.Add(2 * time.Hour)
	s.RecordFailure(rule(later))
	require.Equal(t, 1, s.Failures)
	require.Nil(t, s.LockedUntil)
	require.Equal(t, later, s.UpdatedAt)
}

func TestChallenge_Attempt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := func() Challenge {
		return Challenge{ID: "c1", ExpiresAt: now.Add(time.Minute), AttemptsRemaining: 2}
	}

	c := fresh()
	require.Equal(t, AttemptNotFound, c.Attempt("other", now, true))
	require.Equal(t, AttemptExpired, c.Attempt("c1", now.Add(time.Minute), true))
	require.Equal(t, 2, c.AttemptsRemaining, "rejections spend nothing")

	require.Equal(t, AttemptMismatch, c.Attempt("c1", now, false))
	require.Equal(t, 1, c.AttemptsRemaining)
	require.Equal(t, AttemptMatched, c.Attempt("c1", now, true))
	require.True(t, c.Consumed)
	require.Equal(t, AttemptNotFound, c.Attempt("c1", now, true))

	c = fresh()
	c.AttemptsRemaining = 0
	require.Equal(t, AttemptExhausted, c.Attempt("c1", now, true))
}
