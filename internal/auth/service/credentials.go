package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

const (
	MinSecretLength = 8
	MaxSecretLength = 1024
)

// SecretHasher hashes secrets and verifies them against a stored hash.
// Verify returns cryptox.ErrMismatch for a wrong secret.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) error
}

// CheckSecretPolicy enforces the length bounds on a new secret.
func CheckSecretPolicy(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < MinSecretLength || n > MaxSecretLength {
		return fail(ReasonSecretPolicy)
	}
	return nil
}

// CredentialVerifier checks an identifier and secret against the account
// store, gated by the lockout tracker.
type CredentialVerifier struct {
	Accounts store.Accounts
	Lockout  *LockoutTracker
	Hasher   SecretHasher
	Now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// dummy returns a real hash of a throwaway secret so unknown identifiers
// cost the same hasher work as known ones.
func (v *CredentialVerifier) dummy() string {
	v.dummyOnce.Do(func() {
		h, err := v.Hasher.Hash("gatekeeper-timing-equalizer")
		if err == nil {
			v.dummyHash = h
		}
	})
	return v.dummyHash
}

// Verify authenticates the first factor and returns the account. Once the
// identifier resolves, the account is returned with any failure too, so the
// attempt can be attributed.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, secret string) (domain.Account, error) {
	l := slogx.FromContext(ctx)
	identifier = domain.NormalizeIdentifier(identifier)

	acct, err := v.Accounts.GetAccountByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		_ = v.Hasher.Verify(secret, v.dummy())
		return domain.Account{}, fail(ReasonAccountNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("credentials: lookup: %w", err)
	}

	decision, err := v.Lockout.Check(ctx, acct.ID)
	if err != nil {
		return acct, err
	}
	if decision.Locked {
		return acct, &Failure{Reason: ReasonAccountLocked, RetryAfter: decision.RetryAfter}
	}

	if err := v.Hasher.Verify(secret, acct.SecretHash); err != nil {
		if !errors.Is(err, cryptox.ErrMismatch) {
			return acct, fmt.Errorf("credentials: verify: %w", err)
		}
		return acct, v.recordFailure(ctx, acct.ID, ReasonSecretMismatch)
	}

	if !acct.Active {
		return acct, v.recordFailure(ctx, acct.ID, ReasonAccountInactive)
	}

	now := nowFunc(v.Now)
	if err := v.Accounts.UpdateLastLogin(ctx, acct.ID, now); err != nil {
		l.Warn("update_last_login_failed", slog.String("account_id", acct.ID), slogx.Err(err))
	} else {
		acct.LastLoginAt = &now
	}

	if _, err := v.Lockout.Record(ctx, acct.ID, true); err != nil {
		return acct, err
	}
	return acct, nil
}

// recordFailure counts a failed attempt and returns the Failure for r. The
// attempt that sets a lock still reports r; the next one sees the lock.
func (v *CredentialVerifier) recordFailure(ctx context.Context, accountID string, r Reason) error {
	decision, err := v.Lockout.Record(ctx, accountID, false)
	if err != nil {
		return err
	}
	if decision.Locked {
		slogx.FromContext(ctx).Warn("account_locked",
			slog.String("account_id", accountID),
			slog.Int("failures", decision.Failures),
			slog.Duration("retry_after", decision.RetryAfter),
		)
	}
	return fail(r)
}

// UpdateSecret replaces the account's secret after checking the policy.
func (v *CredentialVerifier) UpdateSecret(ctx context.Context, accountID, newSecret string) error {
	if err := CheckSecretPolicy(newSecret); err != nil {
		return err
	}

	hash, err := v.Hasher.Hash(newSecret)
	if err != nil {
		return fmt.Errorf("credentials: hash: %w", err)
	}
	if err := v.Accounts.UpdateSecretHash(ctx, accountID, hash); err != nil {
		return fmt.Errorf("credentials: update secret: %w", err)
	}
	return nil
}
