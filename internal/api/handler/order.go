package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/service"
)

type OrderHandler struct {
	orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Get returns one of the caller's orders.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid order id")
		return
	}
	requester := actor
	if isOperator {
		requester = uuid.Nil
	}
	order, err := h.orders.Get(r.Context(), id, requester)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// List returns the caller's orders, newest first.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	orders, err := h.orders.ListForUser(r.Context(), actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// Transition moves an order through the settlement state machine. Operator only.
func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid order id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	order, err := h.orders.Transition(r.Context(), id, models.OrderStatus(req.Status))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}
