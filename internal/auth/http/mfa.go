package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
)

// MFAHandler handles authenticator-app enrollment for the bearer's account.
type MFAHandler struct {
	MFAService *service.MFAService
}

func accountFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := httpx.AccountIDFromContext(r.Context())
	if id == "" {
		httpx.WriteError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "missing account")
		return "", false
	}
	return id, true
}

func decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req authsdk.TOTPCodeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return "", false
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeInvalidRequest(w, "code is required")
		return "", false
	}
	return code, true
}

// HandleEnroll handles POST /v1/mfa/totp/enroll
//
//	@Summary		Start TOTP enrollment
//	@Description	Generates a TOTP secret for the authenticated account. It takes effect once confirmed.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPEnrollResponse	"Secret and otpauth URL"
//	@Failure		400	{object}	authsdk.ErrorResponse		"TOTP already enabled"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Router			/v1/mfa/totp/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	enrollment, err := h.MFAService.EnrollTOTP(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPEnrollResponse{
		Secret: enrollment.Secret,
		URL:    enrollment.URL,
	})
}

// HandleConfirm handles POST /v1/mfa/totp/confirm
//
//	@Summary		Confirm TOTP enrollment
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.TOTPCodeRequest	true	"Current TOTP code"
//	@Success		204		"TOTP enabled"
//	@Failure		400		{object}	authsdk.ErrorResponse	"No pending enrollment"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid code or token"
//	@Router			/v1/mfa/totp/confirm [post].
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}

	if err := h.MFAService.ConfirmTOTP(r.Context(), accountID, code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDisable handles POST /v1/mfa/totp/disable
//
//	@Summary		Disable TOTP
//	@Description	Removes the authenticator. Two-factor stays on and falls back to delivered codes.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.TOTPCodeRequest	true	"Current TOTP code"
//	@Success		204		"TOTP removed"
//	@Failure		400		{object}	authsdk.ErrorResponse	"TOTP not enabled"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid code or token"
//	@Router			/v1/mfa/totp/disable [post].
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}

	if err := h.MFAService.DisableTOTP(r.Context(), accountID, code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
