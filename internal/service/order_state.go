package service

import (
	"fmt"

	"github.com/seyio/otc-desk/internal/models"
)

// orderTransitions is the settlement state machine. Completed, cancelled and
// failed are terminal.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPaymentPending:   {models.OrderPaymentConfirmed, models.OrderCanceled, models.OrderFailed},
	models.OrderPaymentConfirmed: {models.OrderProcessing, models.OrderCanceled, models.OrderFailed},
	models.OrderProcessing:       {models.OrderCompleted, models.OrderFailed},
	models.OrderCompleted:        {},
	models.OrderCanceled:         {},
	models.OrderFailed:           {},
}

// ValidateOrderTransition reports whether an order may move from one status to
// another.
func ValidateOrderTransition(from, to models.OrderStatus) error {
	allowed, ok := orderTransitions[from]
	if !ok {
		return fmt.Errorf("unknown order status %q: %w", from, models.ErrAlreadyFinal)
	}
	for _, next := range allowed {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("order cannot move from %s to %s: %w", from, to, models.ErrAlreadyFinal)
}
