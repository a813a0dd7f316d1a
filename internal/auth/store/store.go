package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a lost compare-and-set, e.g. a refresh token that
	// was no longer active when the rotation tried to claim it.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface for durable state. It exposes
// sub-repositories to keep concerns tidy and to stop transactions being
// nested by accident.
type Store interface {
	Accounts() Accounts
	RefreshTokens() RefreshTokens
	Revocations() Revocations
	Challenges() Challenges
	Lockouts() Lockouts
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Ephemeral is the short-lived, per-key state that can live outside the
// durable store so several instances share one lockout counter and one live
// challenge per account. Store satisfies it directly.
type Ephemeral interface {
	Challenges() Challenges
	Lockouts() Lockouts
	Ping(ctx context.Context) error
	Close() error
}

type Accounts interface {
	// GetAccountByID returns an account by id.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByIdentifier resolves a normalized identifier. Identifiers
	// containing "@" match emails, anything else matches usernames.
	GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error)

	// CreateAccount inserts a new account. Returns ErrAlreadyExists when the
	// username or email is taken.
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdateSecretHash replaces the stored secret hash.
	UpdateSecretHash(ctx context.Context, id, hash string) error

	// UpdateLastLogin stamps the last successful first-factor login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// SetActive flips the active flag.
	SetActive(ctx context.Context, id string, active bool) error

	// SetTOTPSecret stores a sealed TOTP seed pending confirmation, or clears
	// it when sealed is nil. Either way totp_enabled_at is reset.
	SetTOTPSecret(ctx context.Context, id string, sealed *string) error

	// EnableTOTP confirms enrollment and turns the second factor on.
	EnableTOTP(ctx context.Context, id string, at time.Time) error

	// ClaimTOTPStep records step as the last accepted TOTP time step.
	// Returns ErrConflict when step is not newer than the one on record.
	ClaimTOTPStep(ctx context.Context, id string, step int64) error
}

type RefreshTokens interface {
	// CreateRefreshToken inserts a token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash looks a token up by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRotated moves a token from active to rotated. Returns ErrConflict
	// if the token was not active.
	MarkRotated(ctx context.Context, id string) error

	// RevokeFamilyTokens marks every token of the family revoked.
	RevokeFamilyTokens(ctx context.Context, familyID string) (int64, error)

	// ListLiveFamilies returns the families of an account that still have a
	// token which is not revoked.
	ListLiveFamilies(ctx context.Context, accountID string) ([]string, error)

	// DeleteExpiredRefreshTokens removes tokens whose natural expiry is
	// before the cutoff. Rotated tokens are never deleted earlier.
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type Revocations interface {
	// RevokeFamily records a revoked family. Recording twice is a no-op.
	RevokeFamily(ctx context.Context, r domain.RevokedFamily) error

	// IsFamilyRevoked reports whether the family is in the ledger.
	IsFamilyRevoked(ctx context.Context, familyID string) (bool, error)

	// DeleteRevocationsBefore prunes ledger rows once every token they could
	// apply to has expired.
	DeleteRevocationsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AttemptResult is the outcome of ConsumeChallenge. AttemptsRemaining is
// only meaningful for a match or mismatch.
type AttemptResult struct {
	Outcome           domain.AttemptOutcome
	AttemptsRemaining int
}

type Challenges interface {
	// UpsertChallenge stores c as the only challenge for its purpose and
	// account, superseding any prior one.
	UpsertChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallengeByID looks up a challenge by id within a purpose.
	GetChallengeByID(ctx context.Context, purpose domain.ChallengePurpose, id string) (domain.Challenge, error)

	// GetChallengeByAccount returns the account's current challenge.
	GetChallengeByAccount(ctx context.Context, purpose domain.ChallengePurpose, accountID string) (domain.Challenge, error)

	// ConsumeChallenge applies domain.Challenge.Attempt to the account's
	// current challenge as one atomic step. It never fails on contention. A
	// missing challenge reports AttemptNotFound.
	ConsumeChallenge(ctx context.Context, purpose domain.ChallengePurpose, accountID, id string, now time.Time, matched bool) (AttemptResult, error)

	// DeleteExpiredChallenges removes challenges that expired before the
	// cutoff. TTL-based stores may treat this as a no-op.
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

type Lockouts interface {
	// GetLockout returns the account's lockout state. Returns ErrNotFound
	// when no failures have been recorded.
	GetLockout(ctx context.Context, accountID string) (domain.LockoutState, error)

	// RecordFailure applies domain.LockoutState.RecordFailure to the
	// account's state, starting from zero when none exists, as one atomic
	// step. It never fails on contention.
	RecordFailure(ctx context.Context, accountID string, rule domain.LockoutRule) (domain.LockoutState, error)

	// DeleteLockout clears the account's state.
	DeleteLockout(ctx context.Context, accountID string) error

	// DeleteStaleLockouts removes unlocked state not touched since before.
	DeleteStaleLockouts(ctx context.Context, before time.Time) (int64, error)
}

type AuditEvents interface {
	// RecordAuditEvent appends an event.
	RecordAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// DeleteAuditEventsBefore prunes events past retention.
	DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int64, error)
}
