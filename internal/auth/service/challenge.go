package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

const (
	DefaultChallengeTTL      = 5 * time.Minute
	DefaultChallengeAttempts = 5
	CodeDigits               = 6
)

// Notifier delivers one-time codes out of band.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// consumeChallenge runs the verification state machine on c as currently
// stored:
//
//  1. absent, superseded (id differs) or consumed: not found
//  2. past expiry: expired
//  3. no attempts left: exhausted
//  4. otherwise one attempt is spent, and a match consumes it
//
// Steps 1 to 3 leave the record untouched.
func consumeChallenge(
	ctx context.Context,
	challenges store.Challenges,
	c domain.Challenge,
	now time.Time,
	matched bool,
) (store.AttemptResult, error) {
	res, err := challenges.ConsumeChallenge(ctx, c.Purpose, c.AccountID, c.ID, now, matched)
	if err != nil {
		return store.AttemptResult{}, fmt.Errorf("challenge: consume: %w", err)
	}
	return res, nil
}

// live reports whether c would accept an attempt at now.
func live(c domain.Challenge, now time.Time) bool {
	return !c.Consumed && !c.Expired(now) && c.AttemptsRemaining > 0
}

func recipientOf(a domain.Account) string {
	if a.Email != "" {
		return a.Email
	}
	return a.Username
}
