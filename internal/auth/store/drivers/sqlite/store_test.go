package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedAccount(t *testing.T, s *Store, username, email string) domain.Account {
	t.Helper()

	a := domain.Account{
		ID:         idx.New().String(),
		Username:   username,
		Email:      email,
		SecretHash: "hash",
		Active:     true,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Accounts().CreateAccount(context.Background(), a))
	return a
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := seedAccount(t, s, "Alice", "Alice@Example.com")

	t.Run("lookup by username and email is case-insensitive", func(t *testing.T) {
		got, err := s.Accounts().GetAccountByIdentifier(ctx, "ALICE")
		require.NoError(t, err)
		require.Equal(t, a.ID, got.ID)
		require.Equal(t, "alice", got.Username)

		got, err = s.Accounts().GetAccountByIdentifier(ctx, " alice@example.COM ")
		require.NoError(t, err)
		require.Equal(t, a.ID, got.ID)
		require.Equal(t, a.CreatedAt, got.CreatedAt)
	})

	t.Run("namespaces never cross", func(t *testing.T) {
		_, err := s.Accounts().GetAccountByIdentifier(ctx, "alice@example")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Accounts().GetAccountByIdentifier(ctx, "")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicates are rejected", func(t *testing.T) {
		dup := domain.Account{ID: idx.New().String(), Username: "alice", SecretHash: "x", CreatedAt: time.Now()}
		require.ErrorIs(t, s.Accounts().CreateAccount(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("updates", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.Accounts().UpdateSecretHash(ctx, a.ID, "new-hash"))
		require.NoError(t, s.Accounts().UpdateLastLogin(ctx, a.ID, now))
		require.NoError(t, s.Accounts().SetActive(ctx, a.ID, false))

		got, err := s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "new-hash", got.SecretHash)
		require.False(t, got.Active)
		require.NotNil(t, got.LastLoginAt)
		require.True(t, now.Equal(*got.LastLoginAt))

		require.ErrorIs(t, s.Accounts().SetActive(ctx, "missing", true), store.ErrNotFound)
	})

	t.Run("totp enrollment", func(t *testing.T) {
		sealed := "sealed-seed"
		require.NoError(t, s.Accounts().SetTOTPSecret(ctx, a.ID, &sealed))

		got, err := s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.False(t, got.UsesTOTP())

		require.NoError(t, s.Accounts().EnableTOTP(ctx, a.ID, time.Now()))
		got, err = s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, got.UsesTOTP())

		require.NoError(t, s.Accounts().SetTOTPSecret(ctx, a.ID, nil))
		got, err = s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, got.TwoFactorEnabled, "falls back to delivered codes")
		require.Nil(t, got.TOTPSecret)
		require.Nil(t, got.TOTPEnabledAt)
	})

	t.Run("totp steps only move forward", func(t *testing.T) {
		require.NoError(t, s.Accounts().ClaimTOTPStep(ctx, a.ID, 100))
		require.ErrorIs(t, s.Accounts().ClaimTOTPStep(ctx, a.ID, 100), store.ErrConflict)
		require.ErrorIs(t, s.Accounts().ClaimTOTPStep(ctx, a.ID, 99), store.ErrConflict)
		require.NoError(t, s.Accounts().ClaimTOTPStep(ctx, a.ID, 101))
	})
}

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := seedAccount(t, s, "bob", "")

	now := time.Now().UTC().Truncate(time.Millisecond)
	family := idx.New().String()
	root := domain.RefreshToken{
		ID:        idx.New().String(),
		TokenHash: "hash-1",
		AccountID: a.ID,
		FamilyID:  family,
		AMR:       []string{"pwd", "otp"},
		Status:    domain.RefreshActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, root))

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, root, got)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	t.Run("second active token in a family is rejected", func(t *testing.T) {
		other := root
		other.ID = idx.New().String()
		other.TokenHash = "hash-other"
		require.ErrorIs(t, s.RefreshTokens().CreateRefreshToken(ctx, other), store.ErrAlreadyExists)
	})

	t.Run("mark rotated is a compare-and-set", func(t *testing.T) {
		require.NoError(t, s.RefreshTokens().MarkRotated(ctx, root.ID))
		require.ErrorIs(t, s.RefreshTokens().MarkRotated(ctx, root.ID), store.ErrConflict)

		child := root
		child.ID = idx.New().String()
		child.TokenHash = "hash-2"
		child.ParentID = &root.ID
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, child))
	})

	t.Run("family revocation", func(t *testing.T) {
		families, err := s.RefreshTokens().ListLiveFamilies(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, []string{family}, families)

		n, err := s.RefreshTokens().RevokeFamilyTokens(ctx, family)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		families, err = s.RefreshTokens().ListLiveFamilies(ctx, a.ID)
		require.NoError(t, err)
		require.Empty(t, families)
	})

	t.Run("expired tokens are pruned", func(t *testing.T) {
		n, err := s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 2, n)
	})
}

func TestRevocations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	rf := domain.RevokedFamily{FamilyID: "fam", AccountID: "acc", Reason: domain.RevokeLogout, RevokedAt: now}
	require.NoError(t, s.Revocations().RevokeFamily(ctx, rf))
	require.NoError(t, s.Revocations().RevokeFamily(ctx, rf), "revoking twice is a no-op")

	revoked, err := s.Revocations().IsFamilyRevoked(ctx, "fam")
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = s.Revocations().IsFamilyRevoked(ctx, "other")
	require.NoError(t, err)
	require.False(t, revoked)

	n, err := s.Revocations().DeleteRevocationsBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestChallenges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := seedAccount(t, s, "carol", "")

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := domain.Challenge{
		ID:                "first",
		Purpose:           domain.PurposeTwoFactor,
		AccountID:         a.ID,
		Method:            domain.MethodCode,
		CodeHash:          "h1",
		ExpiresAt:         now.Add(5 * time.Minute),
		AttemptsRemaining: 5,
		CreatedAt:         now,
	}
	require.NoError(t, s.Challenges().UpsertChallenge(ctx, first))

	got, err := s.Challenges().GetChallengeByID(ctx, domain.PurposeTwoFactor, "first")
	require.NoError(t, err)
	require.Equal(t, first, got)

	t.Run("purposes are separate namespaces", func(t *testing.T) {
		_, err := s.Challenges().GetChallengeByID(ctx, domain.PurposePasswordReset, "first")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("upsert supersedes the previous challenge", func(t *testing.T) {
		second := first
		second.ID = "second"
		second.CodeHash = "h2"
		require.NoError(t, s.Challenges().UpsertChallenge(ctx, second))

		_, err := s.Challenges().GetChallengeByID(ctx, domain.PurposeTwoFactor, "first")
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.Challenges().GetChallengeByAccount(ctx, domain.PurposeTwoFactor, a.ID)
		require.NoError(t, err)
		require.Equal(t, "second", got.ID)
	})

	t.Run("consume spends attempts and a match consumes", func(t *testing.T) {
		ch := s.Challenges()

		res, err := ch.ConsumeChallenge(ctx, domain.PurposeTwoFactor, a.ID, "second", now, false)
		require.NoError(t, err)
		require.Equal(t, store.AttemptResult{Outcome: domain.AttemptMismatch, AttemptsRemaining: 4}, res)

		res, err = ch.ConsumeChallenge(ctx, domain.PurposeTwoFactor, a.ID, "first", now, true)
		require.NoError(t, err)
		require.Equal(t, domain.AttemptNotFound, res.Outcome, "superseded id")

		res, err = ch.ConsumeChallenge(ctx, domain.PurposeTwoFactor, a.ID, "second", now.Add(5*time.Minute), true)
		require.NoError(t, err)
		require.Equal(t, domain.AttemptExpired, res.Outcome)

		res, err = ch.ConsumeChallenge(ctx, domain.PurposeTwoFactor, a.ID, "second", now, true)
		require.NoError(t, err)
		require.Equal(t, store.AttemptResult{Outcome: domain.AttemptMatched, AttemptsRemaining: 3}, res)

		res, err = ch.ConsumeChallenge(ctx, domain.PurposeTwoFactor, a.ID, "second", now, true)
		require.NoError(t, err)
		require.Equal(t, domain.AttemptNotFound, res.Outcome, "consumed")

		got, err := ch.GetChallengeByAccount(ctx, domain.PurposeTwoFactor, a.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.AttemptsRemaining)
		require.True(t, got.Consumed)

		res, err = ch.ConsumeChallenge(ctx, domain.PurposePasswordReset, a.ID, "second", now, true)
		require.NoError(t, err)
		require.Equal(t, domain.AttemptNotFound, res.Outcome)
	})

	t.Run("exhausted challenge is left untouched", func(t *testing.T) {
		b := seedAccount(t, s, "carol2", "")
		c := first
		c.ID = "spent"
		c.AccountID = b.ID
		c.AttemptsRemaining = 1
		require.NoError(t, s.Challenges().UpsertChallenge(ctx, c))

		res, err := s.Challenges().ConsumeChallenge(ctx, domain.PurposeTwoFactor, b.ID, "spent", now, false)
		require.NoError(t, err)
		require.Equal(t, store.AttemptResult{Outcome: domain.AttemptMismatch, AttemptsRemaining: 0}, res)

		res, err = s.Challenges().ConsumeChallenge(ctx, domain.PurposeTwoFactor, b.ID, "spent", now, true)
		require.NoError(t, err)
		require.Equal(t, domain.AttemptExhausted, res.Outcome)
	})

	t.Run("expired challenges are pruned", func(t *testing.T) {
		n, err := s.Challenges().DeleteExpiredChallenges(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 2, n)
	})
}

func TestLockouts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := seedAccount(t, s, "dave", "")

	_, err := s.Lockouts().GetLockout(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	rule := domain.LockoutRule{Now: now, Window: time.Hour, Steps: []domain.LockoutStep{{Failures: 3, Duration: time.Minute}}}
	for i := range 3 {
		st, err := s.Lockouts().RecordFailure(ctx, a.ID, rule)
		require.NoError(t, err)
		require.Equal(t, i+1, st.Failures)
	}

	st, err := s.Lockouts().GetLockout(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 3, st.Failures)
	locked, remaining := st.LockedAt(now)
	require.True(t, locked)
	require.Equal(t, time.Minute, remaining)

	n, err := s.Lockouts().DeleteStaleLockouts(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	require.Zero(t, n, "locked state is not stale")

	require.NoError(t, s.Lockouts().DeleteLockout(ctx, a.ID))
	_, err = s.Lockouts().GetLockout(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		a := domain.Account{ID: idx.New().String(), Username: "erin", SecretHash: "x", CreatedAt: time.Now()}
		if err := tx.Accounts().CreateAccount(ctx, a); err != nil {
			return err
		}
		_, err := tx.Lockouts().RecordFailure(ctx, a.ID, domain.LockoutRule{Now: time.Now()})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Accounts().GetAccountByIdentifier(ctx, "erin")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	require.NoError(t, s.AuditEvents().RecordAuditEvent(ctx, domain.AuditEvent{
		ID: idx.New().String(), Action: domain.AuditLogin, Outcome: "unknown_account", CreatedAt: now,
	}))

	n, err := s.AuditEvents().DeleteAuditEventsBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
