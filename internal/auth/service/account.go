package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
)

// NewAccount is the input for provisioning an account. At least one of
// Username or Email is required.
type NewAccount struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Secret    string `json:"secret"`
	TwoFactor bool   `json:"two_factor,omitempty"`
}

// AccountService provisions accounts. Identity management proper lives
// elsewhere; this is the operator path.
type AccountService struct {
	Accounts store.Accounts
	Hasher   SecretHasher
	Tokens   *TokenService
	Now      func() time.Time
}

// CreateAccount validates and stores a new active account. A taken username
// or email returns store.ErrAlreadyExists.
func (s *AccountService) CreateAccount(ctx context.Context, in NewAccount) (domain.Account, error) {
	username := domain.NormalizeIdentifier(in.Username)
	email := domain.NormalizeIdentifier(in.Email)

	if username == "" && email == "" {
		return domain.Account{}, fmt.Errorf("%w: username or email is required", ErrInvalidRequest)
	}
	if strings.Contains(username, "@") {
		return domain.Account{}, fmt.Errorf("%w: username may not contain @", ErrInvalidRequest)
	}
	if email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return domain.Account{}, fmt.Errorf("%w: invalid email", ErrInvalidRequest)
		}
	}
	if err := CheckSecretPolicy(in.Secret); err != nil {
		return domain.Account{}, err
	}

	hash, err := s.Hasher.Hash(in.Secret)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account: hash secret: %w", err)
	}

	now := nowFunc(s.Now)
	acct := domain.Account{
		ID:               idx.NewAt(now).String(),
		Username:         username,
		Email:            email,
		SecretHash:       hash,
		Active:           true,
		TwoFactorEnabled: in.TwoFactor,
		CreatedAt:        now,
	}
	if err := s.Accounts.CreateAccount(ctx, acct); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

// SetActive activates or deactivates an account. Deactivation revokes every
// session.
func (s *AccountService) SetActive(ctx context.Context, accountID string, active bool) error {
	if err := s.Accounts.SetActive(ctx, accountID, active); err != nil {
		return err
	}
	if active || s.Tokens == nil {
		return nil
	}
	return s.Tokens.RevokeAccount(ctx, accountID, domain.RevokeInactive)
}
