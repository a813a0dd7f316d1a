package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/pquerna/otp/totp"
)

// TOTPEnrollment is returned once when an authenticator is enrolled. The
// secret is never shown again.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// MFAService manages authenticator-app enrollment for signed-in accounts.
type MFAService struct {
	Accounts store.Accounts
	Sealer   SecretSealer
	Issuer   string
	Now      func() time.Time
}

// EnrollTOTP generates a new seed and stores it sealed, pending
// confirmation. Re-enrolling replaces an unconfirmed seed.
func (s *MFAService) EnrollTOTP(ctx context.Context, accountID string) (*TOTPEnrollment, error) {
	acct, err := s.Accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, s.lookupErr(err)
	}
	if acct.UsesTOTP() {
		return nil, fmt.Errorf("%w: authenticator already enabled", ErrInvalidRequest)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: recipientOf(acct),
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: generate totp key: %w", err)
	}

	sealed, err := s.Sealer.Seal(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("mfa: seal secret: %w", err)
	}
	if err := s.Accounts.SetTOTPSecret(ctx, accountID, &sealed); err != nil {
		return nil, fmt.Errorf("mfa: store secret: %w", err)
	}

	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTOTP checks a code from the pending seed and turns TOTP on as the
// account's second factor.
func (s *MFAService) ConfirmTOTP(ctx context.Context, accountID, code string) error {
	acct, err := s.Accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return s.lookupErr(err)
	}
	if acct.TOTPSecret == nil || acct.TOTPEnabledAt != nil {
		return fmt.Errorf("%w: no pending enrollment", ErrInvalidRequest)
	}

	now := nowFunc(s.Now)
	if err := s.check(*acct.TOTPSecret, code, now); err != nil {
		return err
	}
	if err := s.Accounts.EnableTOTP(ctx, accountID, now); err != nil {
		return fmt.Errorf("mfa: enable totp: %w", err)
	}
	return nil
}

// DisableTOTP removes the authenticator after checking a current code. The
// account keeps two-factor on and falls back to delivered codes.
func (s *MFAService) DisableTOTP(ctx context.Context, accountID, code string) error {
	acct, err := s.Accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return s.lookupErr(err)
	}
	if !acct.UsesTOTP() {
		return fmt.Errorf("%w: authenticator not enabled", ErrInvalidRequest)
	}

	if err := s.check(*acct.TOTPSecret, code, nowFunc(s.Now)); err != nil {
		return err
	}
	if err := s.Accounts.SetTOTPSecret(ctx, accountID, nil); err != nil {
		return fmt.Errorf("mfa: clear totp: %w", err)
	}
	return nil
}

func (s *MFAService) check(sealed, code string, now time.Time) error {
	secret, err := s.Sealer.Open(sealed)
	if err != nil {
		return fmt.Errorf("mfa: open secret: %w", err)
	}
	if !validateTOTP(code, secret, now) {
		return fail(ReasonCodeMismatch)
	}
	return nil
}

func (s *MFAService) lookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: account", ErrNotFound)
	}
	return fmt.Errorf("mfa: load account: %w", err)
}
