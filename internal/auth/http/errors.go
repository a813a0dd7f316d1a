package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

type errorMapping struct {
	kind        error
	status      int
	description string
}

// errorTable maps each external kind to its status. Order matters only in
// that the first match wins.
var errorTable = []errorMapping{
	{service.ErrInvalidCredential, http.StatusUnauthorized, "invalid identifier or secret"},
	{service.ErrInvalidCode, http.StatusUnauthorized, "invalid code"},
	{service.ErrNotFound, http.StatusUnauthorized, "unknown or already used challenge"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "token expired"},
	{service.ErrTokenRevoked, http.StatusUnauthorized, "token revoked"},
	{service.ErrTokenReuseDetected, http.StatusUnauthorized, "token reuse detected, session revoked"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "token invalid"},
	{service.ErrAccountInactive, http.StatusForbidden, "account inactive"},
	{service.ErrAccountLocked, http.StatusLocked, "account temporarily locked"},
	{service.ErrChallengeExpired, http.StatusGone, "challenge expired"},
	{service.ErrChallengeExhausted, http.StatusGone, "challenge attempts exhausted"},
	{service.ErrResetInvalidOrExpired, http.StatusBadRequest, "reset code invalid or expired"},
	{service.ErrSecretPolicy, http.StatusBadRequest, fmt.Sprintf("secret must be %d to %d characters", service.MinSecretLength, service.MaxSecretLength)},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid request"},
}

// writeServiceError renders a service error. The internal reason is logged,
// never written to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	if errors.Is(err, store.ErrAlreadyExists) {
		httpx.WriteError(w, http.StatusConflict, authsdk.ErrorCodeAlreadyExists, "username or email already in use")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, authsdk.ErrorCodeNotFound, "no such record")
		return
	}

	for _, m := range errorTable {
		if !errors.Is(err, m.kind) {
			continue
		}

		desc := m.description
		var f *service.Failure
		if errors.As(err, &f) {
			if f.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(f.RetryAfter.Seconds()))))
			}
			if m.kind == service.ErrInvalidCode && f.AttemptsRemaining > 0 {
				desc = fmt.Sprintf("invalid code, %d attempts remaining", f.AttemptsRemaining)
			}
		}
		httpx.WriteError(w, m.status, m.kind.Error(), desc)
		return
	}

	log.Error("request failed", slogx.Err(err))
	httpx.WriteError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, "internal server error")
}

func writeInvalidRequest(w http.ResponseWriter, desc string) {
	httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, desc)
}
