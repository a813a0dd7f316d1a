package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the gatekeeper service. It covers the endpoints
// that need no access token and creates Sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login authenticates with an identifier and secret. When the account has
// two-factor enabled the error is a *TwoFactorRequiredError.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*Session, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login",
		LoginRequest{Identifier: identifier, Secret: secret}, nil)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, &tokens), nil
}

// VerifyTwoFactor answers a pre-auth challenge.
func (c *Client) VerifyTwoFactor(ctx context.Context, preAuthToken, code string) (*Session, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/2fa/verify",
		TwoFactorVerifyRequest{PreAuthToken: preAuthToken, Code: code}, nil)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, &tokens), nil
}

// Refresh rotates a refresh token. The presented token is spent whether or
// not the caller keeps the new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh",
		RefreshRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Logout revokes the session family of a refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/logout",
		RefreshRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// InitiateReset requests a password-reset code. It succeeds whether or not
// the account exists.
func (c *Client) InitiateReset(ctx context.Context, identifier string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/password-reset",
		PasswordResetRequest{Identifier: identifier}, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusAccepted)
}

// CompleteReset sets a new secret using a delivered reset code.
func (c *Client) CompleteReset(ctx context.Context, identifier, code, newSecret string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/password-reset/complete",
		PasswordResetCompleteRequest{Identifier: identifier, Code: code, NewSecret: newSecret}, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// CreateAccount provisions an account using the operator admin token.
func (c *Client) CreateAccount(ctx context.Context, adminToken string, req CreateAccountRequest) (*AccountResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/accounts", req,
		map[string]string{"X-Admin-Token": adminToken})
	if err != nil {
		return nil, err
	}

	var acct AccountResponse
	if err := decodeJSON(resp, &acct, http.StatusCreated); err != nil {
		return nil, err
	}
	return &acct, nil
}

// SetAccountActive activates or deactivates an account. Deactivation revokes
// every session of the account.
func (c *Client) SetAccountActive(ctx context.Context, adminToken, accountID string, active bool) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/active",
		SetActiveRequest{Active: active},
		map[string]string{"X-Admin-Token": adminToken})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// GetLiveness checks if the service is alive.
func (c *Client) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *Client) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *Client) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetJWKS fetches the public signing keys.
func (c *Client) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var jwks JWKSResponse
	if err := decodeJSON(resp, &jwks, http.StatusOK); err != nil {
		return nil, err
	}
	return &jwks, nil
}
