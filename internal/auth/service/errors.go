package service

import (
	"errors"
	"time"
)

// External error kinds. Handlers switch on these with errors.Is; the detail
// behind them lives in *Failure and is only ever logged.
var (
	ErrNotFound              = errors.New("not_found")
	ErrInvalidCredential     = errors.New("invalid_credential")
	ErrAccountInactive       = errors.New("account_inactive")
	ErrAccountLocked         = errors.New("account_locked")
	ErrChallengeExpired      = errors.New("challenge_expired")
	ErrChallengeExhausted    = errors.New("challenge_exhausted")
	ErrInvalidCode           = errors.New("invalid_code")
	ErrTokenExpired          = errors.New("token_expired")
	ErrTokenRevoked          = errors.New("token_revoked")
	ErrTokenReuseDetected    = errors.New("token_reuse_detected")
	ErrResetInvalidOrExpired = errors.New("reset_invalid_or_expired")
	ErrInvalidToken          = errors.New("invalid_token")
	ErrSecretPolicy          = errors.New("secret_policy")
	ErrInvalidRequest        = errors.New("invalid_request")
)

// Reason is the internal cause of a Failure.
type Reason string

const (
	ReasonAccountNotFound   Reason = "account_not_found"
	ReasonSecretMismatch    Reason = "secret_mismatch"
	ReasonAccountInactive   Reason = "account_inactive"
	ReasonAccountLocked     Reason = "account_locked"
	ReasonChallengeNotFound Reason = "challenge_not_found"
	ReasonChallengeExpired  Reason = "challenge_expired"
	ReasonChallengeExhaust  Reason = "challenge_exhausted"
	ReasonCodeMismatch      Reason = "code_mismatch"
	ReasonTokenNotFound     Reason = "token_not_found"
	ReasonTokenExpired      Reason = "token_expired"
	ReasonTokenRevoked      Reason = "token_revoked"
	ReasonTokenReused       Reason = "token_reused"
	ReasonTokenMalformed    Reason = "token_malformed"
	ReasonSecretPolicy      Reason = "secret_policy"

	// Password reset collapses every sub-reason into one external kind.
	ReasonResetAccountNotFound Reason = "reset_account_not_found"
	ReasonResetNotFound        Reason = "reset_challenge_not_found"
	ReasonResetExpired         Reason = "reset_challenge_expired"
	ReasonResetExhausted       Reason = "reset_challenge_exhausted"
	ReasonResetCodeMismatch    Reason = "reset_code_mismatch"
)

// Failure is a typed authentication failure. RetryAfter is set for locks,
// AttemptsRemaining for code mismatches.
type Failure struct {
	Reason            Reason
	RetryAfter        time.Duration
	AttemptsRemaining int
}

func fail(r Reason) *Failure { return &Failure{Reason: r} }

func (f *Failure) Error() string { return "auth: " + string(f.Reason) }

// Unwrap exposes the external kind so errors.Is works on the sentinel.
func (f *Failure) Unwrap() error { return f.Kind() }

// Kind maps the internal reason to the external error kind.
func (f *Failure) Kind() error {
	switch f.Reason {
	case ReasonAccountNotFound, ReasonSecretMismatch:
		return ErrInvalidCredential
	case ReasonAccountInactive:
		return ErrAccountInactive
	case ReasonAccountLocked:
		return ErrAccountLocked
	case ReasonChallengeNotFound, ReasonTokenNotFound:
		return ErrNotFound
	case ReasonChallengeExpired:
		return ErrChallengeExpired
	case ReasonChallengeExhaust:
		return ErrChallengeExhausted
	case ReasonCodeMismatch:
		return ErrInvalidCode
	case ReasonTokenExpired:
		return ErrTokenExpired
	case ReasonTokenRevoked:
		return ErrTokenRevoked
	case ReasonTokenReused:
		return ErrTokenReuseDetected
	case ReasonTokenMalformed:
		return ErrInvalidToken
	case ReasonSecretPolicy:
		return ErrSecretPolicy
	case ReasonResetAccountNotFound, ReasonResetNotFound, ReasonResetExpired,
		ReasonResetExhausted, ReasonResetCodeMismatch:
		return ErrResetInvalidOrExpired
	default:
		return ErrInvalidRequest
	}
}

// ReasonOf returns the internal reason behind err, or "" for errors that
// are not a Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
