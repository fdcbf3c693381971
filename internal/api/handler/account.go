package handler

import (
	"encoding/json"
	"net/http"

	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/service"
)

type AccountHandler struct {
	accounts *service.AccountService
}

func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// CreateUser registers a user. Open in this deployment; an upstream identity
// provider fronts it in production.
func (h *AccountHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	user, err := h.accounts.CreateUser(r.Context(), req.Email, req.Role)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, user)
}

// Me returns the authenticated user's record.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	user, err := h.accounts.GetUser(r.Context(), actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, user)
}

// SetPrivileged flips privileged-quote eligibility for a user. Operator only.
func (h *AccountHandler) SetPrivileged(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid user id")
		return
	}
	var req struct {
		Privileged bool `json:"privileged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if err := h.accounts.SetPrivileged(r.Context(), id, req.Privileged); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "privileged": req.Privileged})
}

// AddDestination registers an unverified settlement destination for the caller.
func (h *AccountHandler) AddDestination(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	var req struct {
		Kind     string `json:"kind"`
		Currency string `json:"currency"`
		Label    string `json:"label"`
		Details  string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	dest, err := h.accounts.AddDestination(r.Context(), actor, models.DestinationKind(req.Kind), req.Currency, req.Label, req.Details)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, dest)
}

// ListDestinations returns the caller's verified destinations, optionally
// filtered by ?currency=.
func (h *AccountHandler) ListDestinations(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	dests, err := h.accounts.ListVerifiedDestinations(r.Context(), actor, r.URL.Query().Get("currency"))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"destinations": dests})
}

// VerifyDestination marks a destination usable for settlement. Operator only.
func (h *AccountHandler) VerifyDestination(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid destination id")
		return
	}
	var req struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if err := h.accounts.VerifyDestination(r.Context(), id, req.Verified); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"destination_id": id, "verified": req.Verified})
}

// ListCurrencies returns the currency catalog.
func (h *AccountHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.accounts.ListCurrencies(r.Context(), r.URL.Query().Get("all") == "")
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"currencies": currencies})
}

// UpsertCurrency creates or updates a catalog entry. Operator only.
func (h *AccountHandler) UpsertCurrency(w http.ResponseWriter, r *http.Request) {
	var req models.Currency
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	currency, err := h.accounts.UpsertCurrency(r.Context(), req)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, currency)
}

// GetFeeConfig returns the global pricing configuration. Operator only.
func (h *AccountHandler) GetFeeConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.accounts.GetFeeConfig(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, cfg)
}

// UpdateFeeConfig replaces the global pricing configuration. Operator only.
func (h *AccountHandler) UpdateFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req models.FeeConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	cfg, err := h.accounts.UpdateFeeConfig(r.Context(), req)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, cfg)
}
