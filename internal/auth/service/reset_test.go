package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

const newSecret = "a brand new secret"

func TestReset_CompleteRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "alice", "alice@example.com", false)

	var sessions []*domain.TokenPair
	for range 2 {
		res, err := env.auth.Login(ctx, "alice", testSecret)
		require.NoError(t, err)
		sessions = append(sessions, res.Tokens)
	}

	for range 3 {
		_, err := env.auth.Login(ctx, "alice", "wrong secret")
		require.ErrorIs(t, err, ErrInvalidCredential)
	}

	env.nextCode = "424242"
	require.NoError(t, env.auth.InitiateReset(ctx, "ALICE@example.com"))
	sent := env.notifier.all()
	require.Len(t, sent, 1)
	require.Equal(t, domain.PurposePasswordReset, sent[0].Purpose)
	require.Equal(t, "424242", sent[0].Code)

	require.NoError(t, env.auth.CompleteReset(ctx, "alice", "424242", newSecret))

	for _, s := range sessions {
		_, err := env.auth.Refresh(ctx, s.RefreshToken)
		require.ErrorIs(t, err, ErrTokenRevoked)
	}

	d, err := env.lockout.Check(ctx, acct.ID)
	require.NoError(t, err)
	require.Zero(t, d.Failures, "reset clears the lockout counter")

	_, err = env.auth.Login(ctx, "alice", testSecret)
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = env.auth.Login(ctx, "alice", newSecret)
	require.NoError(t, err)
}

func TestReset_UsedOrExpiredCodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "bob", "", false)

	t.Run("used code", func(t *testing.T) {
		require.NoError(t, env.auth.InitiateReset(ctx, "bob"))
		require.NoError(t, env.auth.CompleteReset(ctx, "bob", "123456", newSecret))

		err := env.auth.CompleteReset(ctx, "bob", "123456", "yet another secret")
		require.ErrorIs(t, err, ErrResetInvalidOrExpired)
		require.Equal(t, ReasonResetNotFound, ReasonOf(err))
	})

	t.Run("expired code", func(t *testing.T) {
		require.NoError(t, env.auth.InitiateReset(ctx, "bob"))
		env.clock.Advance(DefaultChallengeTTL + time.Second)

		err := env.auth.CompleteReset(ctx, "bob", "123456", newSecret)
		require.ErrorIs(t, err, ErrResetInvalidOrExpired)
		require.Equal(t, ReasonResetExpired, ReasonOf(err))
	})

	t.Run("wrong code then exhausted", func(t *testing.T) {
		require.NoError(t, env.auth.InitiateReset(ctx, "bob"))
		for range DefaultChallengeAttempts {
			err := env.auth.CompleteReset(ctx, "bob", "000000", newSecret)
			require.ErrorIs(t, err, ErrResetInvalidOrExpired)
			require.Equal(t, ReasonResetCodeMismatch, ReasonOf(err))
		}
		err := env.auth.CompleteReset(ctx, "bob", "123456", newSecret)
		require.ErrorIs(t, err, ErrResetInvalidOrExpired)
		require.Equal(t, ReasonResetExhausted, ReasonOf(err))
	})

	t.Run("unknown identifier", func(t *testing.T) {
		err := env.auth.CompleteReset(ctx, "nobody", "123456", newSecret)
		require.ErrorIs(t, err, ErrResetInvalidOrExpired)
	})
}

func TestReset_SecretPolicyCheckedFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "carol", "", false)

	require.NoError(t, env.auth.InitiateReset(ctx, "carol"))

	err := env.auth.CompleteReset(ctx, "carol", "123456", "short")
	require.ErrorIs(t, err, ErrSecretPolicy)
	require.Equal(t, DefaultChallengeAttempts, env.challenge(t, domain.PurposePasswordReset, acct.ID).AttemptsRemaining,
		"a policy failure does not spend the code")

	require.NoError(t, env.auth.CompleteReset(ctx, "carol", "123456", newSecret))
}

func TestReset_InitiateNeverRevealsAccounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "dave", "", false)

	require.NoError(t, env.auth.InitiateReset(ctx, "nobody@example.com"))
	require.Empty(t, env.notifier.all())

	env.notifier.err = context.DeadlineExceeded
	require.NoError(t, env.auth.InitiateReset(ctx, "dave"), "delivery failures are swallowed")
}

func TestReset_NewInitiateSupersedes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "erin", "", false)

	require.NoError(t, env.auth.InitiateReset(ctx, "erin"))
	env.nextCode = "777777"
	require.NoError(t, env.auth.InitiateReset(ctx, "erin"))

	err := env.auth.CompleteReset(ctx, "erin", "123456", newSecret)
	require.ErrorIs(t, err, ErrResetInvalidOrExpired)
	require.NoError(t, env.auth.CompleteReset(ctx, "erin", "777777", newSecret))
}
