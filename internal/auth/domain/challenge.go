package domain

import "time"

// ChallengePurpose separates the two-factor and password-reset namespaces.
// Each account has at most one challenge per purpose.
type ChallengePurpose string

const (
	PurposeTwoFactor     ChallengePurpose = "two_factor"
	PurposePasswordReset ChallengePurpose = "password_reset"
)

// ChallengeMethod is how the expected code is produced.
type ChallengeMethod string

const (
	MethodCode ChallengeMethod = "code" // delivered out-of-band
	MethodTOTP ChallengeMethod = "totp" // authenticator app
)

// Challenge is a pending one-time-code verification.
type Challenge struct {
	ID                string // fingerprint of the pre-auth token, or a ULID for resets
	Purpose           ChallengePurpose
	AccountID         string
	Method            ChallengeMethod
	CodeHash          string // empty for TOTP
	ExpiresAt         time.Time
	AttemptsRemaining int
	Consumed          bool
	CreatedAt         time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AttemptOutcome is what one verification attempt did to a challenge.
type AttemptOutcome int

const (
	AttemptMatched AttemptOutcome = iota
	AttemptMismatch
	AttemptNotFound // absent, superseded or already consumed
	AttemptExpired
	AttemptExhausted
)

// Attempt runs one verification against c:
//
//  1. superseded (id differs) or consumed: not found
//  2. past expiry: expired
//  3. no attempts left: exhausted
//  4. otherwise one attempt is spent, and a match consumes it
//
// Steps 1 to 3 leave c untouched. Stores that cannot run Go inside their
// atomic step must implement the same rules.
func (c *Challenge) Attempt(id string, now time.Time, matched bool) AttemptOutcome {
	switch {
	case c.Consumed || c.ID != id:
		return AttemptNotFound
	case c.Expired(now):
		return AttemptExpired
	case c.AttemptsRemaining <= 0:
		return AttemptExhausted
	}

	c.AttemptsRemaining--
	if matched {
		c.Consumed = true
		return AttemptMatched
	}
	return AttemptMismatch
}

// ChallengeIssue is returned to the caller after a two-factor challenge is
// created. Token is the opaque pre-auth handle.
type ChallengeIssue struct {
	Token     string          `json:"pre_auth_token"`
	Method    ChallengeMethod `json:"method"`
	ExpiresAt time.Time       `json:"expires_at"`
}
