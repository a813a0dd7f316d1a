package domain

import "time"

// LockoutState is the per-account failure counter.
type LockoutState struct {
	AccountID   string
	Failures    int
	LockedUntil *time.Time
	UpdatedAt   time.Time
}

// LockedAt reports whether the lock is still active at now and how long
// remains.
func (s LockoutState) LockedAt(now time.Time) (bool, time.Duration) {
	if s.LockedUntil == nil || !now.Before(*s.LockedUntil) {
		return false, 0
	}
	return true, s.LockedUntil.Sub(now)
}

// LockoutStep locks an account for Duration once it reaches Failures
// consecutive failures.
type LockoutStep struct {
	Failures int
	Duration time.Duration
}

// LockoutRule is everything a store needs to count one failure in a single
// atomic step.
type LockoutRule struct {
	Now time.Time

	// Window restarts the count when the last failure is older than this
	// and no lock is active. Zero disables decay.
	Window time.Duration

	// Steps are ascending by Failures. Failures past the last step re-lock
	// for the last Duration.
	Steps []LockoutStep
}

// LockFor returns the lock duration for the n-th consecutive failure, or 0
// when n does not trigger a lock.
func (r LockoutRule) LockFor(n int) time.Duration {
	if len(r.Steps) == 0 {
		return 0
	}
	if last := r.Steps[len(r.Steps)-1]; n > last.Failures {
		return last.Duration
	}
	for _, s := range r.Steps {
		if s.Failures == n {
			return s.Duration
		}
	}
	return 0
}

// RecordFailure advances s by one failure under r. Stores that cannot run
// Go inside their atomic step must implement the same rules.
func (s *LockoutState) RecordFailure(r LockoutRule) {
	locked, _ := s.LockedAt(r.Now)
	if !locked && r.Window > 0 && s.Failures > 0 && r.Now.Sub(s.UpdatedAt) > r.Window {
		s.Failures = 0
		s.LockedUntil = nil
	}

	s.Failures++
	s.UpdatedAt = r.Now
	if d := r.LockFor(s.Failures); d > 0 {
		until := r.Now.Add(d)
		s.LockedUntil = &until
	}
}
