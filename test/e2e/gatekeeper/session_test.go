//go:build e2e

package gatekeeper_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestSessionLifecycle walks login, rotation, reuse detection and logout.
func TestSessionLifecycle(t *testing.T) {
	client := setupContainer(t)
	acct := createAccount(t, client, "alice", false)

	session, err := client.Login(t.Context(), "alice", testSecret)
	require.NoError(t, err)

	who, err := session.Whoami(t.Context())
	require.NoError(t, err)
	require.Equal(t, acct.ID, who.AccountID)
	require.Equal(t, []string{"pwd"}, who.AMR)

	first := session.RefreshToken()
	require.NoError(t, session.Rotate(t.Context()))
	require.NotEqual(t, first, session.RefreshToken())

	// Presenting the rotated-out token kills the whole family.
	_, err = client.Refresh(t.Context(), first)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenReuseDetected)

	_, err = client.Refresh(t.Context(), session.RefreshToken())
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenRevoked)

	_, err = session.Whoami(t.Context())
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenRevoked)
}

func TestLogoutRevokesSession(t *testing.T) {
	client := setupContainer(t)
	createAccount(t, client, "bob", false)

	session, err := client.Login(t.Context(), "bob@example.com", testSecret)
	require.NoError(t, err)
	refresh := session.RefreshToken()

	require.NoError(t, session.Logout(t.Context()))

	_, err = client.Refresh(t.Context(), refresh)
	require.Error(t, err)
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	client := setupContainer(t)
	createAccount(t, client, "carol", false)

	for i := 0; i < 5; i++ {
		_, err := client.Login(t.Context(), "carol", "wrong secret value")
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredential)
	}

	_, err := client.Login(t.Context(), "carol", testSecret)
	apiErr := requireAPIError(t, err, http.StatusLocked, authsdk.ErrorCodeAccountLocked)
	require.Positive(t, apiErr.RetryAfter)
}

func TestDeactivatedAccountCannotLogin(t *testing.T) {
	client := setupContainer(t)
	acct := createAccount(t, client, "dave", false)

	require.NoError(t, client.SetAccountActive(t.Context(), adminToken, acct.ID, false))

	_, err := client.Login(t.Context(), "dave", testSecret)
	requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeAccountInactive)
}

func TestAccountCreationRequiresAdminToken(t *testing.T) {
	client := setupContainer(t)

	_, err := client.CreateAccount(t.Context(), "not-the-token", authsdk.CreateAccountRequest{
		Username: "mallory",
		Email:    "mallory@example.com",
		Secret:   testSecret,
	})
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthorized)
}
