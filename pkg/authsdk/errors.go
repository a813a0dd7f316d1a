package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds returned in the "error" field.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidCredential       = "invalid_credential"
	ErrorCodeAccountInactive         = "account_inactive"
	ErrorCodeAccountLocked           = "account_locked"
	ErrorCodeChallengeExpired        = "challenge_expired"
	ErrorCodeChallengeExhausted      = "challenge_exhausted"
	ErrorCodeInvalidCode             = "invalid_code"
	ErrorCodeNotFound                = "not_found"
	ErrorCodeTokenExpired            = "token_expired"
	ErrorCodeTokenRevoked            = "token_revoked"
	ErrorCodeTokenReuseDetected      = "token_reuse_detected"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeResetInvalidOrExpired   = "reset_invalid_or_expired"
	ErrorCodeSecretPolicy            = "secret_policy"
	ErrorCodeAlreadyExists           = "already_exists"
	ErrorCodeTwoFactorRequired       = "two_factor_required"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrorCodeUnauthorized           = "unauthorized"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode  int
	Code        string
	Description string

	// RetryAfter is parsed from the Retry-After header, zero if absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Description)
}

// TwoFactorRequiredError is returned by Login when a second factor must be
// presented to VerifyTwoFactor.
type TwoFactorRequiredError struct {
	PreAuthToken string
	Method       string
	ExpiresAt    time.Time
}

func (e *TwoFactorRequiredError) Error() string {
	return fmt.Sprintf("two-factor required: method=%s", e.Method)
}

// parseErrorResponse turns a non-2xx response into a typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusConflict {
		var c TwoFactorChallengeResponse
		if err := json.Unmarshal(body, &c); err == nil &&
			c.Error == ErrorCodeTwoFactorRequired && c.PreAuthToken != "" {
			return &TwoFactorRequiredError{
				PreAuthToken: c.PreAuthToken,
				Method:       c.Method,
				ExpiresAt:    c.ExpiresAt,
			}
		}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Error
		apiErr.Description = errResp.ErrorDescription
		return apiErr
	}

	apiErr.Code = ErrorCodeServerError
	apiErr.Description = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return apiErr
}
