package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshBuffer is how long before expiry the access token is rotated.
const refreshBuffer = 30 * time.Second

// Session is an authenticated session. Methods rotate the token pair when
// the access token is about to expire.
type Session struct {
	client *Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newSession(client *Client, tokens *TokenResponse) *Session {
	s := &Session{client: client}
	s.set(tokens)
	return s
}

// NewSessionFromTokens wraps an existing token pair.
func (c *Client) NewSessionFromTokens(tokens *TokenResponse) *Session {
	return newSession(c, tokens)
}

// set must be called with mu held for writing, or before the session is shared.
func (s *Session) set(tokens *TokenResponse) {
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second - refreshBuffer)
}

// AccessToken returns the current access token without checking expiry.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Rotate exchanges the refresh token for a new pair now.
func (s *Session) Rotate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked(ctx)
}

func (s *Session) rotateLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return errors.New("no refresh token available")
	}
	tokens, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.set(tokens)
	return nil
}

// getValidToken returns a valid access token, rotating first if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have rotated while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.rotateLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

func (s *Session) doAuth(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.doJSON(ctx, method, path, body,
		map[string]string{"Authorization": "Bearer " + token})
}

// Whoami returns the identity behind the current access token.
func (s *Session) Whoami(ctx context.Context) (*SessionResponse, error) {
	resp, err := s.doAuth(ctx, http.MethodGet, "/v1/session", nil)
	if err != nil {
		return nil, err
	}

	var info SessionResponse
	if err := decodeJSON(resp, &info, http.StatusOK); err != nil {
		return nil, err
	}
	return &info, nil
}

// Logout revokes this session's family.
func (s *Session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx, s.RefreshToken())
}

// EnrollTOTP starts authenticator-app enrollment.
func (s *Session) EnrollTOTP(ctx context.Context) (*TOTPEnrollResponse, error) {
	resp, err := s.doAuth(ctx, http.MethodPost, "/v1/mfa/totp/enroll", nil)
	if err != nil {
		return nil, err
	}

	var enroll TOTPEnrollResponse
	if err := decodeJSON(resp, &enroll, http.StatusOK); err != nil {
		return nil, err
	}
	return &enroll, nil
}

// ConfirmTOTP finishes enrollment with a code from the new authenticator.
func (s *Session) ConfirmTOTP(ctx context.Context, code string) error {
	resp, err := s.doAuth(ctx, http.MethodPost, "/v1/mfa/totp/confirm", TOTPCodeRequest{Code: code})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// DisableTOTP removes the authenticator. A current code is required.
func (s *Session) DisableTOTP(ctx context.Context, code string) error {
	resp, err := s.doAuth(ctx, http.MethodPost, "/v1/mfa/totp/disable", TOTPCodeRequest{Code: code})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}
