package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// PasswordResetManager issues one reset code per account and completes the
// reset by replacing the secret and revoking every session.
type PasswordResetManager struct {
	Accounts    store.Accounts
	Challenges  store.Challenges
	Credentials *CredentialVerifier
	Lockout     *LockoutTracker
	Tokens      *TokenService
	Notifier    Notifier
	CodeTTL     time.Duration
	MaxAttempts int
	Now         func() time.Time

	// GenerateCode overrides code generation in tests.
	GenerateCode func() (string, error)
}

func (m *PasswordResetManager) ttl() time.Duration {
	if m.CodeTTL > 0 {
		return m.CodeTTL
	}
	return DefaultChallengeTTL
}

func (m *PasswordResetManager) attempts() int {
	if m.MaxAttempts > 0 {
		return m.MaxAttempts
	}
	return DefaultChallengeAttempts
}

func (m *PasswordResetManager) code() (string, error) {
	if m.GenerateCode != nil {
		return m.GenerateCode()
	}
	return cryptox.GenerateNumericCode(CodeDigits)
}

// Initiate sends a reset code when the identifier resolves. The result is
// the same whether or not the account exists; only store failures during the
// lookup are returned.
func (m *PasswordResetManager) Initiate(ctx context.Context, identifier string) error {
	l := slogx.FromContext(ctx)
	now := nowFunc(m.Now)

	acct, err := m.Accounts.GetAccountByIdentifier(ctx, domain.NormalizeIdentifier(identifier))
	if errors.Is(err, store.ErrNotFound) {
		l.Info("reset_initiate_unknown_identifier")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reset: lookup: %w", err)
	}
	l = l.With(slog.String("account_id", acct.ID))

	code, err := m.code()
	if err != nil {
		l.Error("reset_code_generation_failed", slogx.Err(err))
		return nil
	}

	c := domain.Challenge{
		ID:                idx.NewAt(now).String(),
		Purpose:           domain.PurposePasswordReset,
		AccountID:         acct.ID,
		Method:            domain.MethodCode,
		ExpiresAt:         now.Add(m.ttl()),
		AttemptsRemaining: m.attempts(),
		CreatedAt:         now,
	}
	c.CodeHash = cryptox.FingerprintCode(c.ID, code)

	if err := m.Challenges.UpsertChallenge(ctx, c); err != nil {
		l.Error("reset_challenge_store_failed", slogx.Err(err))
		return nil
	}

	err = m.Notifier.Notify(ctx, domain.Notification{
		Purpose:   domain.PurposePasswordReset,
		AccountID: acct.ID,
		Recipient: recipientOf(acct),
		Code:      code,
		ExpiresAt: c.ExpiresAt,
	})
	if err != nil {
		l.Error("reset_code_delivery_failed", slogx.Err(err))
	}
	return nil
}

// Complete verifies and consumes the reset code, then sets the new secret,
// clears the lockout and revokes every refresh-token family. The code is
// consumed first, so a failure after that point needs a fresh code. The
// account id is returned once the identifier resolves.
func (m *PasswordResetManager) Complete(ctx context.Context, identifier, code, newSecret string) (string, error) {
	l := slogx.FromContext(ctx)
	now := nowFunc(m.Now)

	if err := CheckSecretPolicy(newSecret); err != nil {
		return "", err
	}

	acct, err := m.Accounts.GetAccountByIdentifier(ctx, domain.NormalizeIdentifier(identifier))
	if errors.Is(err, store.ErrNotFound) {
		return "", fail(ReasonResetAccountNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reset: lookup: %w", err)
	}
	l = l.With(slog.String("account_id", acct.ID))

	c, err := m.Challenges.GetChallengeByAccount(ctx, domain.PurposePasswordReset, acct.ID)
	if errors.Is(err, store.ErrNotFound) {
		return acct.ID, fail(ReasonResetNotFound)
	}
	if err != nil {
		return acct.ID, fmt.Errorf("reset: load challenge: %w", err)
	}

	matched := cryptox.EqualFingerprint(c.CodeHash, cryptox.FingerprintCode(c.ID, code))
	res, err := consumeChallenge(ctx, m.Challenges, c, now, matched)
	if err != nil {
		return acct.ID, err
	}

	switch res.Outcome {
	case domain.AttemptNotFound:
		return acct.ID, fail(ReasonResetNotFound)
	case domain.AttemptExpired:
		return acct.ID, fail(ReasonResetExpired)
	case domain.AttemptExhausted:
		return acct.ID, fail(ReasonResetExhausted)
	case domain.AttemptMismatch:
		l.Info("reset_code_mismatch", slog.Int("attempts_remaining", res.AttemptsRemaining))
		return acct.ID, &Failure{Reason: ReasonResetCodeMismatch, AttemptsRemaining: res.AttemptsRemaining}
	}

	if err := m.Credentials.UpdateSecret(ctx, acct.ID, newSecret); err != nil {
		return acct.ID, err
	}
	if err := m.Lockout.Clear(ctx, acct.ID); err != nil {
		l.Warn("reset_lockout_clear_failed", slogx.Err(err))
	}
	return acct.ID, m.Tokens.RevokeAccount(ctx, acct.ID, domain.RevokeSecretChanged)
}
