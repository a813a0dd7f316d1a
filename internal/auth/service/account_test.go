package service

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/stretchr/testify/require"
)

func TestAccountService_CreateAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	acct, err := env.accounts.CreateAccount(ctx, NewAccount{Username: " Alice ", Email: "Alice@Example.com", Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, "alice", acct.Username)
	require.Equal(t, "alice@example.com", acct.Email)
	require.True(t, acct.Active)
	require.NotEqual(t, testSecret, acct.SecretHash)

	tests := []struct {
		name string
		in   NewAccount
		want error
	}{
		{"no identifier", NewAccount{Secret: testSecret}, ErrInvalidRequest},
		{"username with at", NewAccount{Username: "a@b", Secret: testSecret}, ErrInvalidRequest},
		{"bad email", NewAccount{Email: "not an email@", Secret: testSecret}, ErrInvalidRequest},
		{"short secret", NewAccount{Username: "bob", Secret: "short"}, ErrSecretPolicy},
		{"taken username", NewAccount{Username: "ALICE", Secret: testSecret}, store.ErrAlreadyExists},
		{"taken email", NewAccount{Email: "alice@example.com", Secret: testSecret}, store.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.CreateAccount(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAccountService_DeactivateRevokesSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	acct := env.createAccount(t, "carol", "", false)

	res, err := env.auth.Login(ctx, "carol", testSecret)
	require.NoError(t, err)

	require.NoError(t, env.accounts.SetActive(ctx, acct.ID, false))

	_, err = env.auth.Refresh(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	require.ErrorIs(t, env.accounts.SetActive(ctx, "missing", true), store.ErrNotFound)
}

func TestCheckSecretPolicy(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, CheckSecretPolicy("1234567"), ErrSecretPolicy)
	require.NoError(t, CheckSecretPolicy("12345678"))
	require.NoError(t, CheckSecretPolicy("pässwörd"), "length counts characters")
	long := make([]byte, MaxSecretLength+1)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, CheckSecretPolicy(string(long)), ErrSecretPolicy)
}
