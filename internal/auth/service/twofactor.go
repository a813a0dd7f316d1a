package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// SecretSealer encrypts TOTP seeds at rest.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// totpOpts are the authenticator-app defaults: 6 digits every 30s, with one
// step of skew either side.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func validateTOTP(code, secret string, now time.Time) bool {
	_, ok := matchTOTPStep(code, secret, now)
	return ok
}

// matchTOTPStep returns the time step within the skew window whose code
// equals code.
func matchTOTPStep(code, secret string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != totpOpts.Digits.Length() {
		return 0, false
	}

	period := int64(totpOpts.Period)
	current := now.Unix() / period
	skew := int64(totpOpts.Skew)
	for step := current - skew; step <= current+skew; step++ {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0), totpOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// TwoFactorManager issues and verifies the pre-auth challenge that stands
// between a correct secret and a session.
type TwoFactorManager struct {
	Challenges  store.Challenges
	Accounts    store.Accounts
	Tokens      *TokenService
	Notifier    Notifier
	Sealer      SecretSealer
	CodeTTL     time.Duration
	MaxAttempts int
	Now         func() time.Time

	// GenerateCode overrides code generation in tests.
	GenerateCode func() (string, error)
}

func (m *TwoFactorManager) ttl() time.Duration {
	if m.CodeTTL > 0 {
		return m.CodeTTL
	}
	return DefaultChallengeTTL
}

func (m *TwoFactorManager) attempts() int {
	if m.MaxAttempts > 0 {
		return m.MaxAttempts
	}
	return DefaultChallengeAttempts
}

func (m *TwoFactorManager) code() (string, error) {
	if m.GenerateCode != nil {
		return m.GenerateCode()
	}
	return cryptox.GenerateNumericCode(CodeDigits)
}

// Issue creates the account's pre-auth challenge, superseding any earlier
// one. Accounts with a confirmed authenticator get a TOTP challenge;
// everyone else is sent a code.
func (m *TwoFactorManager) Issue(ctx context.Context, acct domain.Account) (*domain.ChallengeIssue, error) {
	now := nowFunc(m.Now)

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("twofactor: token: %w", err)
	}

	c := domain.Challenge{
		ID:                cryptox.FingerprintToken(token),
		Purpose:           domain.PurposeTwoFactor,
		AccountID:         acct.ID,
		Method:            domain.MethodCode,
		ExpiresAt:         now.Add(m.ttl()),
		AttemptsRemaining: m.attempts(),
		CreatedAt:         now,
	}

	var code string
	if acct.UsesTOTP() {
		c.Method = domain.MethodTOTP
	} else {
		code, err = m.code()
		if err != nil {
			return nil, fmt.Errorf("twofactor: code: %w", err)
		}
		c.CodeHash = cryptox.FingerprintCode(c.ID, code)
	}

	if err := m.Challenges.UpsertChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("twofactor: store challenge: %w", err)
	}

	if c.Method == domain.MethodCode {
		err := m.Notifier.Notify(ctx, domain.Notification{
			Purpose:   domain.PurposeTwoFactor,
			AccountID: acct.ID,
			Recipient: recipientOf(acct),
			Code:      code,
			ExpiresAt: c.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("twofactor: deliver code: %w", err)
		}
	}

	return &domain.ChallengeIssue{Token: token, Method: c.Method, ExpiresAt: c.ExpiresAt}, nil
}

// Verify checks a code against the pre-auth challenge and, on a match,
// starts a session with amr ["pwd","otp"]. It also returns the challenge's
// account id once the token resolves.
func (m *TwoFactorManager) Verify(ctx context.Context, preAuthToken, code string) (*domain.TokenPair, string, error) {
	now := nowFunc(m.Now)
	l := slogx.FromContext(ctx)

	if strings.TrimSpace(preAuthToken) == "" {
		return nil, "", fail(ReasonChallengeNotFound)
	}
	id := cryptox.FingerprintToken(preAuthToken)

	c, err := m.Challenges.GetChallengeByID(ctx, domain.PurposeTwoFactor, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", fail(ReasonChallengeNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("twofactor: lookup: %w", err)
	}

	acct, err := m.Accounts.GetAccountByID(ctx, c.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, c.AccountID, fail(ReasonChallengeNotFound)
	}
	if err != nil {
		return nil, c.AccountID, fmt.Errorf("twofactor: load account: %w", err)
	}

	matched, err := m.matches(ctx, c, acct, code, now)
	if err != nil {
		return nil, c.AccountID, err
	}

	res, err := consumeChallenge(ctx, m.Challenges, c, now, matched)
	if err != nil {
		return nil, c.AccountID, err
	}

	switch res.Outcome {
	case domain.AttemptNotFound:
		return nil, c.AccountID, fail(ReasonChallengeNotFound)
	case domain.AttemptExpired:
		return nil, c.AccountID, fail(ReasonChallengeExpired)
	case domain.AttemptExhausted:
		return nil, c.AccountID, fail(ReasonChallengeExhaust)
	case domain.AttemptMismatch:
		l.Info("two_factor_code_mismatch",
			slog.String("account_id", c.AccountID),
			slog.Int("attempts_remaining", res.AttemptsRemaining),
		)
		return nil, c.AccountID, &Failure{Reason: ReasonCodeMismatch, AttemptsRemaining: res.AttemptsRemaining}
	}

	if !acct.Active {
		return nil, c.AccountID, fail(ReasonAccountInactive)
	}
	pair, err := m.Tokens.Issue(ctx, acct.ID, []string{jwtx.AMRPassword, jwtx.AMROTP})
	return pair, acct.ID, err
}

// matches reports whether code answers c. An accepted TOTP step is claimed
// on the account, so a code already used to sign in is a mismatch for the
// rest of its window.
func (m *TwoFactorManager) matches(ctx context.Context, c domain.Challenge, acct domain.Account, code string, now time.Time) (bool, error) {
	if c.Method != domain.MethodTOTP {
		return cryptox.EqualFingerprint(c.CodeHash, cryptox.FingerprintCode(c.ID, code)), nil
	}

	// An authenticator removed after the challenge was issued can no longer
	// produce a valid code, so every attempt is a mismatch.
	if acct.TOTPSecret == nil || m.Sealer == nil {
		return false, nil
	}
	secret, err := m.Sealer.Open(*acct.TOTPSecret)
	if err != nil {
		return false, fmt.Errorf("twofactor: open totp secret: %w", err)
	}

	step, ok := matchTOTPStep(code, secret, now)
	if !ok || !live(c, now) {
		return false, nil
	}
	err = m.Accounts.ClaimTOTPStep(ctx, acct.ID, step)
	switch {
	case errors.Is(err, store.ErrConflict):
		slogx.FromContext(ctx).Info("totp_step_replayed", slog.String("account_id", acct.ID))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("twofactor: claim totp step: %w", err)
	}
	return true, nil
}
