package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	redisstore "github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// a1 has two-factor enabled. A wrong code spends one attempt, the right
// code yields tokens, and the challenge cannot be used again.
func TestTwoFactor_CodeAcceptedOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "a1", "a1@example.com", true)

	res, err := env.auth.Login(ctx, "a1", testSecret)
	require.NoError(t, err)
	require.Nil(t, res.Tokens)
	require.NotNil(t, res.Challenge)
	require.Equal(t, domain.MethodCode, res.Challenge.Method)

	sent := env.notifier.all()
	require.Len(t, sent, 1)
	require.Equal(t, "a1@example.com", sent[0].Recipient)
	require.Equal(t, "123456", sent[0].Code)
	require.Equal(t, domain.PurposeTwoFactor, sent[0].Purpose)

	_, err = env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "999999")
	require.ErrorIs(t, err, ErrInvalidCode)
	var f *Failure
	require.True(t, errors.As(err, &f))
	require.Equal(t, 4, f.AttemptsRemaining)
	require.Equal(t, 4, env.challenge(t, domain.PurposeTwoFactor, acct.ID).AttemptsRemaining)

	pair, err := env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "123456")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	id, err := env.auth.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, acct.ID, id.AccountID)
	require.Equal(t, []string{"pwd", "otp"}, id.AMR)

	_, err = env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "123456")
	require.ErrorIs(t, err, ErrNotFound, "a consumed challenge is gone")
}

func TestTwoFactor_Exhaustion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "bob", "bob@example.com", true)

	res, err := env.auth.Login(ctx, "bob", testSecret)
	require.NoError(t, err)

	for want := 4; want >= 0; want-- {
		_, err := env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "000000")
		require.ErrorIs(t, err, ErrInvalidCode)
		var f *Failure
		require.True(t, errors.As(err, &f))
		require.Equal(t, want, f.AttemptsRemaining)
	}

	_, err = env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "123456")
	require.ErrorIs(t, err, ErrChallengeExhausted, "the right code is refused once attempts run out")
}

func TestTwoFactor_ExpiredDoesNotSpendAttempts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "carol", "carol@example.com", true)

	res, err := env.auth.Login(ctx, "carol", testSecret)
	require.NoError(t, err)

	env.clock.Advance(DefaultChallengeTTL)
	_, err = env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "123456")
	require.ErrorIs(t, err, ErrChallengeExpired)
	require.Equal(t, DefaultChallengeAttempts, env.challenge(t, domain.PurposeTwoFactor, acct.ID).AttemptsRemaining)
}

func TestTwoFactor_NewLoginSupersedesChallenge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "dave", "dave@example.com", true)

	first, err := env.auth.Login(ctx, "dave", testSecret)
	require.NoError(t, err)

	env.nextCode = "654321"
	second, err := env.auth.Login(ctx, "dave", testSecret)
	require.NoError(t, err)

	_, err = env.auth.VerifyTwoFactor(ctx, first.Challenge.Token, "123456")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.auth.VerifyTwoFactor(ctx, second.Challenge.Token, "654321")
	require.NoError(t, err)
}

func TestTwoFactor_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.VerifyTwoFactor(context.Background(), "", "123456")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.auth.VerifyTwoFactor(context.Background(), "made-up", "123456")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTwoFactor_InactiveAfterChallenge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "erin", "erin@example.com", true)

	res, err := env.auth.Login(ctx, "erin", testSecret)
	require.NoError(t, err)
	require.NoError(t, env.accounts.SetActive(ctx, acct.ID, false))

	_, err = env.auth.VerifyTwoFactor(ctx, res.Challenge.Token, "123456")
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestTwoFactor_DeliveryFailureFailsLogin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createAccount(t, "frank", "frank@example.com", true)
	env.notifier.err = errors.New("smtp down")

	_, err := env.auth.Login(ctx, "frank", testSecret)
	require.Error(t, err)
	require.Empty(t, ReasonOf(err), "delivery failures are infrastructure errors")

	env.notifier.err = nil
	env.clock.Advance(time.Second)
	_, err = env.auth.Login(ctx, "frank", testSecret)
	require.NoError(t, err)
}

func TestTwoFactor_RedisConcurrentMismatchesAreTyped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "gina", "gina@example.com", true)

	mr := miniredis.RunT(t)
	eph := redisstore.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{})
	t.Cleanup(func() { _ = eph.Close() })

	m := *env.twoFactor
	m.Challenges = eph.Challenges()
	m.MaxAttempts = 100

	issue, err := m.Issue(ctx, acct)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = m.Verify(ctx, issue.Token, "999999")
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, workers)
	for _, err := range errs {
		var f *Failure
		require.True(t, errors.As(err, &f), "got %v", err)
		require.Equal(t, ReasonCodeMismatch, f.Reason)
		require.False(t, seen[f.AttemptsRemaining])
		seen[f.AttemptsRemaining] = true
	}

	c, err := eph.Challenges().GetChallengeByAccount(ctx, domain.PurposeTwoFactor, acct.ID)
	require.NoError(t, err)
	require.Equal(t, 100-workers, c.AttemptsRemaining)

	pair, accountID, err := m.Verify(ctx, issue.Token, "123456")
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Equal(t, acct.ID, accountID)
}
