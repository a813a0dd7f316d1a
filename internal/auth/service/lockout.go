package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type LockoutStep = domain.LockoutStep

type LockoutPolicy struct {
	// Steps must be ascending by Failures. Failures past the last step
	// re-lock for the last Duration.
	Steps []LockoutStep

	// FailureWindow restarts the count when the last failure is older than
	// this and no lock is active.
	FailureWindow time.Duration
}

// DefaultLockoutPolicy is 5 failures for a minute, 10 for five minutes and
// 15 or more for an hour.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Steps: []LockoutStep{
			{Failures: 5, Duration: time.Minute},
			{Failures: 10, Duration: 5 * time.Minute},
			{Failures: 15, Duration: time.Hour},
		},
		FailureWindow: 24 * time.Hour,
	}
}

// ParseLockoutSchedule parses "5:60s,10:5m,15:1h".
func ParseLockoutSchedule(s string) ([]LockoutStep, error) {
	var steps []LockoutStep
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		count, dur, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("lockout schedule: %q is not failures:duration", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("lockout schedule: bad failure count %q", count)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("lockout schedule: bad duration %q", dur)
		}
		steps = append(steps, LockoutStep{Failures: n, Duration: d})
	}
	if len(steps) == 0 {
		return nil, errors.New("lockout schedule: empty")
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Failures < steps[j].Failures })
	for i := 1; i < len(steps); i++ {
		if steps[i].Failures == steps[i-1].Failures {
			return nil, fmt.Errorf("lockout schedule: duplicate threshold %d", steps[i].Failures)
		}
	}
	return steps, nil
}

func (p LockoutPolicy) rule(now time.Time) domain.LockoutRule {
	return domain.LockoutRule{Now: now, Window: p.FailureWindow, Steps: p.Steps}
}

// backoff returns the lock duration for the n-th consecutive failure, or 0
// when n does not trigger a lock.
func (p LockoutPolicy) backoff(n int) time.Duration {
	return p.rule(time.Time{}).LockFor(n)
}

// LockoutDecision is the outcome of a lockout check.
type LockoutDecision struct {
	Locked     bool
	RetryAfter time.Duration
	Failures   int
}

// LockoutTracker keeps per-account consecutive-failure counters. The store
// counts each failure in one atomic step, so concurrent attempts against one
// account never lose an update.
type LockoutTracker struct {
	Lockouts store.Lockouts
	Policy   LockoutPolicy
	Now      func() time.Time
}

// Check reports whether the account is currently locked.
func (t *LockoutTracker) Check(ctx context.Context, accountID string) (LockoutDecision, error) {
	st, err := t.Lockouts.GetLockout(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return LockoutDecision{}, nil
	}
	if err != nil {
		return LockoutDecision{}, fmt.Errorf("lockout: get: %w", err)
	}

	locked, retry := st.LockedAt(nowFunc(t.Now))
	return LockoutDecision{Locked: locked, RetryAfter: retry, Failures: st.Failures}, nil
}

// Record applies one attempt outcome. Success clears the counter and any
// lock. A failure increments the counter and may set a lock.
func (t *LockoutTracker) Record(ctx context.Context, accountID string, success bool) (LockoutDecision, error) {
	if success {
		if err := t.Clear(ctx, accountID); err != nil {
			return LockoutDecision{}, err
		}
		return LockoutDecision{}, nil
	}

	now := nowFunc(t.Now)
	st, err := t.Lockouts.RecordFailure(ctx, accountID, t.Policy.rule(now))
	if err != nil {
		return LockoutDecision{}, fmt.Errorf("lockout: record failure: %w", err)
	}

	locked, retry := st.LockedAt(now)
	return LockoutDecision{Locked: locked, RetryAfter: retry, Failures: st.Failures}, nil
}

// Clear removes the account's lockout state.
func (t *LockoutTracker) Clear(ctx context.Context, accountID string) error {
	if err := t.Lockouts.DeleteLockout(ctx, accountID); err != nil {
		return fmt.Errorf("lockout: clear: %w", err)
	}
	return nil
}
