package authsdk

import (
	"time"

	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ============================================================================
// Authentication
// ============================================================================

// LoginRequest is the body of POST /v1/auth/login. Identifier is a username
// or, when it contains "@", an email address.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// TokenResponse carries a token pair. It is returned by login, two-factor
// verification and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TwoFactorChallengeResponse is returned with 409 when the first factor was
// accepted and a second one is required.
type TwoFactorChallengeResponse struct {
	Error            string    `json:"error"`
	ErrorDescription string    `json:"error_description"`
	PreAuthToken     string    `json:"pre_auth_token"`
	Method           string    `json:"method"` // "code" or "totp"
	ExpiresAt        time.Time `json:"expires_at"`
}

// TwoFactorVerifyRequest is the body of POST /v1/auth/2fa/verify.
type TwoFactorVerifyRequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	Code         string `json:"code"`
}

// RefreshRequest is the body of POST /v1/auth/refresh and /v1/auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordResetRequest is the body of POST /v1/auth/password-reset.
type PasswordResetRequest struct {
	Identifier string `json:"identifier"`
}

// PasswordResetCompleteRequest is the body of
// POST /v1/auth/password-reset/complete.
type PasswordResetCompleteRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	NewSecret  string `json:"new_secret"`
}

// SessionResponse describes the identity behind a valid access token.
type SessionResponse struct {
	AccountID string    `json:"sub"`
	SessionID string    `json:"sid"`
	AMR       []string  `json:"amr"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ============================================================================
// MFA
// ============================================================================

// TOTPEnrollResponse is returned by POST /v1/mfa/totp/enroll. The secret is
// shown once; URL is the otpauth:// provisioning URI.
type TOTPEnrollResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// TOTPCodeRequest confirms or disables TOTP.
type TOTPCodeRequest struct {
	Code string `json:"code"`
}

// ============================================================================
// Accounts
// ============================================================================

// CreateAccountRequest is the body of POST /v1/accounts.
type CreateAccountRequest struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Secret    string `json:"secret"`
	TwoFactor bool   `json:"two_factor"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID               string    `json:"id"`
	Username         string    `json:"username,omitempty"`
	Email            string    `json:"email,omitempty"`
	Active           bool      `json:"active"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// SetActiveRequest is the body of POST /v1/accounts/{id}/active.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks is the per-dependency readiness detail.
type HealthChecks struct {
	Database  string `json:"database"`
	Ephemeral string `json:"ephemeral"`
	Signer    string `json:"signer"`
}

// JWKSResponse is the public key set.
type JWKSResponse jwtx.JWKS
