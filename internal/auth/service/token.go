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
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// AccessIdentity is what a valid access token proves.
type AccessIdentity struct {
	AccountID string    `json:"account_id"`
	FamilyID  string    `json:"session_id"`
	AMR       []string  `json:"amr"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenService issues access tokens and manages refresh-token families.
// A family is one login session; each refresh rotates its single active
// token, and presenting a rotated token revokes the whole family.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Issue starts a new family for the account.
func (s *TokenService) Issue(ctx context.Context, accountID string, amr []string) (*domain.TokenPair, error) {
	now := nowFunc(s.Now)
	familyID := idx.NewAt(now).String()

	refreshOpaque, rt, err := s.newRefresh(accountID, familyID, nil, amr, now)
	if err != nil {
		return nil, err
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("token: create refresh: %w", err)
	}

	return s.pair(rt, refreshOpaque, now)
}

// Refresh rotates a refresh token. Checks run in order: unknown, expired,
// revoked, already rotated (reuse), then rotation of the active token. A
// reuse revokes the family and commits before the error is returned.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque string) (*domain.TokenPair, error) {
	now := nowFunc(s.Now)
	l := slogx.FromContext(ctx)
	fp := cryptox.FingerprintToken(refreshOpaque)

	var (
		result   *domain.TokenPair
		outcome  error // a Failure to return after the transaction commits
		familyID string
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
		if errors.Is(err, store.ErrNotFound) {
			return fail(ReasonTokenNotFound)
		}
		if err != nil {
			return err
		}
		familyID = rt.FamilyID

		if !now.Before(rt.ExpiresAt) {
			return fail(ReasonTokenExpired)
		}

		if rt.Status == domain.RefreshRevoked {
			return fail(ReasonTokenRevoked)
		}
		revoked, err := tx.Revocations().IsFamilyRevoked(ctx, rt.FamilyID)
		if err != nil {
			return err
		}
		if revoked {
			return fail(ReasonTokenRevoked)
		}

		if rt.Status == domain.RefreshRotated {
			outcome = fail(ReasonTokenReused)
			return s.revokeFamily(ctx, tx, rt.FamilyID, rt.AccountID, domain.RevokeReuseDetected, now)
		}

		acct, err := tx.Accounts().GetAccountByID(ctx, rt.AccountID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err != nil || !acct.Active {
			outcome = fail(ReasonAccountInactive)
			return s.revokeFamily(ctx, tx, rt.FamilyID, rt.AccountID, domain.RevokeInactive, now)
		}

		// Claim the token. Losing the race means another caller rotated it
		// first, which is indistinguishable from a replay.
		if err := tx.RefreshTokens().MarkRotated(ctx, rt.ID); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				return err
			}
			outcome = fail(ReasonTokenReused)
			return s.revokeFamily(ctx, tx, rt.FamilyID, rt.AccountID, domain.RevokeReuseDetected, now)
		}

		childOpaque, child, err := s.newRefresh(rt.AccountID, rt.FamilyID, &rt.ID, rt.AMR, now)
		if err != nil {
			return err
		}
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, child); err != nil {
			return err
		}

		result, err = s.pair(child, childOpaque, now)
		return err
	})
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return nil, f
		}
		return nil, fmt.Errorf("token: refresh: %w", err)
	}

	if outcome != nil {
		l.Warn("refresh_family_revoked",
			slog.String("family_id", familyID),
			slog.String("reason", string(ReasonOf(outcome))),
		)
		return nil, outcome
	}
	return result, nil
}

// RevokeFamily revokes every token in the family and writes the ledger.
func (s *TokenService) RevokeFamily(ctx context.Context, accountID, familyID, reason string) error {
	now := nowFunc(s.Now)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return s.revokeFamily(ctx, tx, familyID, accountID, reason, now)
	})
	if err != nil {
		return fmt.Errorf("token: revoke family: %w", err)
	}
	return nil
}

// RevokeAccount revokes every live family of the account.
func (s *TokenService) RevokeAccount(ctx context.Context, accountID, reason string) error {
	now := nowFunc(s.Now)
	var revoked int
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		families, err := tx.RefreshTokens().ListLiveFamilies(ctx, accountID)
		if err != nil {
			return err
		}
		for _, f := range families {
			if err := s.revokeFamily(ctx, tx, f, accountID, reason, now); err != nil {
				return err
			}
		}
		revoked = len(families)
		return nil
	})
	if err != nil {
		return fmt.Errorf("token: revoke account: %w", err)
	}

	slogx.FromContext(ctx).Info("account_sessions_revoked",
		slog.String("account_id", accountID),
		slog.String("reason", reason),
		slog.Int("families", revoked),
	)
	return nil
}

// Logout revokes the family the refresh token belongs to and returns the
// owning account. Unknown tokens are a successful no-op.
func (s *TokenService) Logout(ctx context.Context, refreshOpaque string) (string, error) {
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(refreshOpaque))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("token: logout lookup: %w", err)
	}

	if err := s.RevokeFamily(ctx, rt.AccountID, rt.FamilyID, domain.RevokeLogout); err != nil {
		return rt.AccountID, err
	}
	return rt.AccountID, nil
}

// ValidateAccess checks the access token's signature, issuer and expiry.
// It never touches storage, so a revoked session stays valid until exp.
func (s *TokenService) ValidateAccess(token string) (AccessIdentity, error) {
	claims, err := s.KeyManager.Verifier().Verify(token)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return AccessIdentity{}, fail(ReasonTokenExpired)
		}
		return AccessIdentity{}, fail(ReasonTokenMalformed)
	}

	id := AccessIdentity{
		AccountID: claims.Subject,
		FamilyID:  claims.SID,
		AMR:       claims.AMR,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return id, nil
}

func (s *TokenService) revokeFamily(ctx context.Context, tx store.Tx, familyID, accountID, reason string, now time.Time) error {
	if _, err := tx.RefreshTokens().RevokeFamilyTokens(ctx, familyID); err != nil {
		return err
	}
	return tx.Revocations().RevokeFamily(ctx, domain.RevokedFamily{
		FamilyID:  familyID,
		AccountID: accountID,
		Reason:    reason,
		RevokedAt: now,
	})
}

func (s *TokenService) newRefresh(accountID, familyID string, parentID *string, amr []string, now time.Time) (string, domain.RefreshToken, error) {
	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}

	return opaque, domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		TokenHash: cryptox.FingerprintToken(opaque),
		AccountID: accountID,
		FamilyID:  familyID,
		ParentID:  parentID,
		AMR:       amr,
		Status:    domain.RefreshActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.RefreshTTL),
	}, nil
}

func (s *TokenService) pair(rt domain.RefreshToken, refreshOpaque string, now time.Time) (*domain.TokenPair, error) {
	claims := jwtx.NewAccessClaims(rt.AccountID, rt.FamilyID, rt.AMR, s.AccessTTL, s.Issuer, now)
	access, err := s.KeyManager.Signer().Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("token: sign access: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshOpaque,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.AccessTTL / time.Second),
		RefreshExpiresAt: rt.ExpiresAt,
		FamilyID:         rt.FamilyID,
		AccountID:        rt.AccountID,
	}, nil
}
