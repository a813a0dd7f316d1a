package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// LoginResult holds either a session or the pre-auth challenge that must be
// answered first.
type LoginResult struct {
	Tokens    *domain.TokenPair
	Challenge *domain.ChallengeIssue
}

// AuthService is the entry point for every authentication operation. It
// logs the internal reason for each outcome and records an audit event.
type AuthService struct {
	Credentials *CredentialVerifier
	TwoFactor   *TwoFactorManager
	Tokens      *TokenService
	Reset       *PasswordResetManager
	Audit       store.AuditEvents
	Now         func() time.Time
}

// Login verifies the first factor. Accounts with two-factor enabled get a
// challenge instead of tokens.
func (s *AuthService) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	acct, err := s.Credentials.Verify(ctx, identifier, secret)
	if err != nil {
		s.record(ctx, domain.AuditLogin, acct.ID, err)
		return nil, err
	}

	if acct.TwoFactorEnabled {
		issue, err := s.TwoFactor.Issue(ctx, acct)
		if err != nil {
			s.record(ctx, domain.AuditLogin, acct.ID, err)
			return nil, err
		}
		s.recordOutcome(ctx, domain.AuditLogin, acct.ID, "challenge_issued")
		return &LoginResult{Challenge: issue}, nil
	}

	pair, err := s.Tokens.Issue(ctx, acct.ID, []string{jwtx.AMRPassword})
	s.record(ctx, domain.AuditLogin, acct.ID, err)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair}, nil
}

func (s *AuthService) VerifyTwoFactor(ctx context.Context, preAuthToken, code string) (*domain.TokenPair, error) {
	pair, accountID, err := s.TwoFactor.Verify(ctx, preAuthToken, code)
	s.record(ctx, domain.AuditTwoFactor, accountID, err)
	return pair, err
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	pair, err := s.Tokens.Refresh(ctx, refreshToken)
	s.record(ctx, domain.AuditRefresh, accountOf(pair), err)
	return pair, err
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	accountID, err := s.Tokens.Logout(ctx, refreshToken)
	s.record(ctx, domain.AuditLogout, accountID, err)
	return err
}

func (s *AuthService) InitiateReset(ctx context.Context, identifier string) error {
	err := s.Reset.Initiate(ctx, identifier)
	s.record(ctx, domain.AuditResetInitiate, "", err)
	return err
}

func (s *AuthService) CompleteReset(ctx context.Context, identifier, code, newSecret string) error {
	accountID, err := s.Reset.Complete(ctx, identifier, code, newSecret)
	s.record(ctx, domain.AuditResetComplete, accountID, err)
	return err
}

func (s *AuthService) ValidateAccess(token string) (AccessIdentity, error) {
	return s.Tokens.ValidateAccess(token)
}

func accountOf(p *domain.TokenPair) string {
	if p == nil {
		return ""
	}
	return p.AccountID
}

func (s *AuthService) record(ctx context.Context, action domain.AuditAction, accountID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(ReasonOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.recordOutcome(ctx, action, accountID, outcome)
}

// recordOutcome logs the outcome and appends an audit event. Audit writes
// are best effort.
func (s *AuthService) recordOutcome(ctx context.Context, action domain.AuditAction, accountID, outcome string) {
	l := slogx.FromContext(ctx)
	attrs := []any{slog.String("action", string(action)), slog.String("outcome", outcome)}
	if accountID != "" {
		attrs = append(attrs, slog.String("account_id", accountID))
	}
	if outcome == "success" || outcome == "challenge_issued" {
		l.Info("auth_event", attrs...)
	} else {
		l.Warn("auth_event", attrs...)
	}

	if s.Audit == nil {
		return
	}

	now := nowFunc(s.Now)
	ev := domain.AuditEvent{
		ID:        idx.NewAt(now).String(),
		Action:    action,
		Outcome:   outcome,
		CreatedAt: now,
	}
	if accountID != "" {
		ev.AccountID = &accountID
	}
	if err := s.Audit.RecordAuditEvent(ctx, ev); err != nil {
		l.Error("audit_write_failed", slog.String("action", string(action)), slogx.Err(err))
	}
}
