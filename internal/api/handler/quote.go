package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/service"
)

type QuoteHandler struct {
	quotes *service.QuoteService
	orders *service.OrderService
}

func NewQuoteHandler(quotes *service.QuoteService, orders *service.OrderService) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, orders: orders}
}

type quoteRequest struct {
	TradeType    string          `json:"trade_type"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	FromAmount   decimal.Decimal `json:"from_amount"`
}

func (req quoteRequest) toGenerate(userID uuid.UUID) service.GenerateRequest {
	return service.GenerateRequest{
		UserID:       userID,
		TradeType:    models.TradeType(req.TradeType),
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		FromAmount:   req.FromAmount,
	}
}

// Preview prices a trade without creating a quote.
func (h *QuoteHandler) Preview(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	result, err := h.quotes.Preview(r.Context(), req.toGenerate(actor))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Create generates a pending quote with a locked price.
func (h *QuoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	quote, err := h.quotes.Generate(r.Context(), req.toGenerate(actor))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, quote)
}

// Get returns one of the caller's quotes.
func (h *QuoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid quote id")
		return
	}
	requester := actor
	if isOperator {
		requester = uuid.Nil
	}
	quote, err := h.quotes.Get(r.Context(), id, requester)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, quote)
}

// List returns the caller's quotes, optionally filtered by ?status=.
func (h *QuoteHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	var statuses []models.QuoteStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = append(statuses, models.QuoteStatus(raw))
	}
	quotes, err := h.quotes.ListForUser(r.Context(), actor, statuses...)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

// Accept materializes an order from a pending quote.
func (h *QuoteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid quote id")
		return
	}
	var req struct {
		DestinationID uuid.UUID `json:"destination_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	order, err := h.orders.Accept(r.Context(), id, actor, req.DestinationID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, order)
}

// Reject declines a pending quote. Operators reject, owners cancel.
func (h *QuoteHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid quote id")
		return
	}
	quote, err := h.quotes.Reject(r.Context(), id, actor, isOperator)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, quote)
}

// IssuePrivileged lets an operator issue a bespoke quote for a privileged user.
func (h *QuoteHandler) IssuePrivileged(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	var req struct {
		UserID        uuid.UUID       `json:"user_id"`
		TradeType     string          `json:"trade_type"`
		FromCurrency  string          `json:"from_currency"`
		ToCurrency    string          `json:"to_currency"`
		FromAmount    decimal.Decimal `json:"from_amount"`
		OverrideRate  decimal.Decimal `json:"override_rate"`
		WaiveAdminFee bool            `json:"waive_admin_fee"`
		Justification string          `json:"justification"`
		Notes         string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	quote, err := h.quotes.IssuePrivileged(r.Context(), service.PrivilegedRequest{
		OperatorID:    actor,
		TargetUserID:  req.UserID,
		TradeType:     models.TradeType(req.TradeType),
		FromCurrency:  req.FromCurrency,
		ToCurrency:    req.ToCurrency,
		FromAmount:    req.FromAmount,
		OverrideRate:  req.OverrideRate,
		WaiveAdminFee: req.WaiveAdminFee,
		Justification: req.Justification,
		Notes:         req.Notes,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, quote)
}
