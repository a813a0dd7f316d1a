package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// AccountsHandler is the operator provisioning surface. Every request must
// carry the configured admin token in X-Admin-Token; with no token
// configured the endpoints always refuse.
type AccountsHandler struct {
	AccountService *service.AccountService
	AdminToken     string
}

func (h *AccountsHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get("X-Admin-Token")
	if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.AdminToken)) != 1 {
		slogx.FromContext(r.Context()).Warn("admin token rejected", "configured", h.AdminToken != "")
		httpx.WriteError(w, http.StatusUnauthorized, authsdk.ErrorCodeUnauthorized, "valid X-Admin-Token header required")
		return false
	}
	return true
}

func toAccountResponse(a domain.Account) authsdk.AccountResponse {
	return authsdk.AccountResponse{
		ID:               a.ID,
		Username:         a.Username,
		Email:            a.Email,
		Active:           a.Active,
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
	}
}

// HandleCreate handles POST /v1/accounts
//
//	@Summary		Create an account
//	@Tags			Accounts
//	@Accept			json
//	@Produce		json
//	@Param			X-Admin-Token	header		string							true	"Operator admin token"
//	@Param			request			body		authsdk.CreateAccountRequest	true	"Account"
//	@Success		201				{object}	authsdk.AccountResponse			"Created account"
//	@Failure		400				{object}	authsdk.ErrorResponse			"Invalid identifiers or secret"
//	@Failure		401				{object}	authsdk.ErrorResponse			"Missing or wrong admin token"
//	@Failure		409				{object}	authsdk.ErrorResponse			"Username or email taken"
//	@Router			/v1/accounts [post].
func (h *AccountsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	var req authsdk.CreateAccountRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}

	acct, err := h.AccountService.CreateAccount(r.Context(), service.NewAccount{
		Username:  req.Username,
		Email:     req.Email,
		Secret:    req.Secret,
		TwoFactor: req.TwoFactor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAccountResponse(acct))
}

// HandleSetActive handles POST /v1/accounts/{id}/active
//
//	@Summary		Activate or deactivate an account
//	@Description	Deactivating an account revokes all of its sessions.
//	@Tags			Accounts
//	@Accept			json
//	@Param			X-Admin-Token	header	string						true	"Operator admin token"
//	@Param			id				path	string						true	"Account ID"
//	@Param			request			body	authsdk.SetActiveRequest	true	"Desired state"
//	@Success		204				"Updated"
//	@Failure		401				{object}	authsdk.ErrorResponse	"Missing or wrong admin token"
//	@Failure		404				{object}	authsdk.ErrorResponse	"Unknown account"
//	@Router			/v1/accounts/{id}/active [post].
func (h *AccountsHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	var req authsdk.SetActiveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}

	if err := h.AccountService.SetActive(r.Context(), r.PathValue("id"), req.Active); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
