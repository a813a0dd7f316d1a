package authsdk

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_Tokens(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/login", r.URL.Path)
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.Identifier)
		writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 900,
		})
	}))
	defer server.Close()

	session, err := NewClient(server.URL+"/").Login(t.Context(), "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, "at", session.AccessToken())
	require.Equal(t, "rt", session.RefreshToken())
}

func TestLogin_TwoFactorRequired(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, TwoFactorChallengeResponse{
			Error:        ErrorCodeTwoFactorRequired,
			PreAuthToken: "pre",
			Method:       "code",
			ExpiresAt:    expires,
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Login(t.Context(), "alice", "pw")
	var tfa *TwoFactorRequiredError
	require.True(t, errors.As(err, &tfa))
	require.Equal(t, "pre", tfa.PreAuthToken)
	require.Equal(t, "code", tfa.Method)
	require.True(t, tfa.ExpiresAt.Equal(expires))
}

func TestAPIError_RetryAfter(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusLocked, ErrorResponse{Error: ErrorCodeAccountLocked, ErrorDescription: "locked"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Login(t.Context(), "alice", "pw")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusLocked, apiErr.StatusCode)
	require.Equal(t, ErrorCodeAccountLocked, apiErr.Code)
	require.Equal(t, time.Minute, apiErr.RetryAfter)
}

func TestAPIError_NonJSONBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(server.URL).Logout(t.Context(), "rt")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, ErrorCodeServerError, apiErr.Code)
}

func TestSession_RotatesExpiredAccessToken(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			var req RefreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "rt-1", req.RefreshToken)
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 900})
		case "/v1/session":
			require.Equal(t, "Bearer at-2", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, SessionResponse{AccountID: "acc-1", AMR: []string{"pwd"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	// ExpiresIn below the refresh buffer forces a rotation on first use.
	session := client.NewSessionFromTokens(&TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 1})

	info, err := session.Whoami(t.Context())
	require.NoError(t, err)
	require.Equal(t, "acc-1", info.AccountID)
	require.Equal(t, "rt-2", session.RefreshToken())

	_, err = session.Whoami(t.Context())
	require.NoError(t, err)
	require.Equal(t, int32(1), refreshes.Load())
}

func TestAccountRequestsSendAdminToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "admin-secret", r.Header.Get("X-Admin-Token"))
		switch r.URL.Path {
		case "/v1/accounts":
			writeJSON(w, http.StatusCreated, AccountResponse{ID: "acc-1", Username: "alice", Active: true})
		case "/v1/accounts/acc-1/active":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	acct, err := client.CreateAccount(t.Context(), "admin-secret", CreateAccountRequest{Username: "alice", Secret: "pw"})
	require.NoError(t, err)
	require.Equal(t, "acc-1", acct.ID)

	require.NoError(t, client.SetAccountActive(t.Context(), "admin-secret", "acc-1", false))
}
