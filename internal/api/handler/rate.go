package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seyio/otc-desk/internal/service"
)

type RateHandler struct {
	rates *service.RateService
}

func NewRateHandler(rates *service.RateService) *RateHandler {
	return &RateHandler{rates: rates}
}

// List returns the whole cached rate table.
func (h *RateHandler) List(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.rates.ListRates(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"rates": pairs})
}

// Get returns the cached pair for {from}/{to}.
func (h *RateHandler) Get(w http.ResponseWriter, r *http.Request) {
	from := chi.URLParam(r, "from")
	to := chi.URLParam(r, "to")
	pair, err := h.rates.GetRate(r.Context(), from, to)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, pair)
}

// Refresh forces a full refresh cycle. Operator only.
func (h *RateHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.rates.RefreshAll(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// EnsurePair registers a new currency pair and fetches its first rate. Operator only.
func (h *RateHandler) EnsurePair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromCurrency string `json:"from_currency"`
		ToCurrency   string `json:"to_currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	pair, err := h.rates.EnsurePair(r.Context(), req.FromCurrency, req.ToCurrency)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, pair)
}
