package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/repository"
)

// OrderService materializes orders from accepted quotes and tracks their
// settlement status.
type OrderService struct {
	store repository.Store
	sink  events.Sink
	now   func() time.Time
}

func NewOrderService(store repository.Store, sink events.Sink) *OrderService {
	return &OrderService{store: store, sink: sink, now: time.Now}
}

// WithClock overrides the service clock; test hook.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// Accept turns a pending quote into an order. The store performs the quote
// transition and the order insert atomically, so exactly one caller wins a
// concurrent race and everyone else gets ErrAlreadyAccepted. Priced fields
// are copied verbatim from the quote; nothing is repriced here.
func (s *OrderService) Accept(ctx context.Context, quoteID, userID, destinationID uuid.UUID) (models.Order, error) {
	quote, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return models.Order{}, err
	}
	if quote.UserID != userID {
		return models.Order{}, models.ErrNotFound
	}

	now := s.now().UTC()
	if quote.Status == models.QuotePending && quote.ExpiredAt(now) {
		// Mark it so the stored row agrees with the answer. Best effort; the
		// conditional accept below is the real guard.
		_ = s.store.TransitionQuote(ctx, quoteID, models.QuotePending, models.QuoteExpired)
		return models.Order{}, models.ErrQuoteExpired
	}
	switch quote.Status {
	case models.QuotePending:
	case models.QuoteAccepted:
		return models.Order{}, models.ErrAlreadyAccepted
	case models.QuoteExpired:
		return models.Order{}, models.ErrQuoteExpired
	default:
		return models.Order{}, models.ErrAlreadyFinal
	}

	dest, err := s.resolveDestination(ctx, quote, destinationID)
	if err != nil {
		return models.Order{}, err
	}

	order := models.Order{
		ID:              uuid.New(),
		QuoteID:         quote.ID,
		UserID:          quote.UserID,
		TransactionRef:  transactionRef(quote),
		TradeType:       quote.TradeType,
		FromCurrency:    quote.FromCurrency,
		ToCurrency:      quote.ToCurrency,
		FromAmount:      quote.FromAmount,
		Rate:            quote.Rate,
		GrossToAmount:   quote.GrossToAmount,
		AdminFee:        quote.AdminFee,
		WithdrawalFee:   quote.WithdrawalFee,
		TotalFee:        quote.TotalFee,
		NetToAmount:     quote.NetToAmount,
		DestinationID:   dest.ID,
		DestinationKind: dest.Kind,
		Status:          models.OrderPaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.AcceptQuoteAndCreateOrder(ctx, now, &order); err != nil {
		return models.Order{}, err
	}

	observability.IncrementQuote(string(quote.Origin), "accepted")
	observability.IncrementOrder("created")
	zap.L().Info("order materialized",
		zap.String("order_id", order.ID.String()),
		zap.String("quote_id", quote.ID.String()),
		zap.String("transaction_ref", order.TransactionRef))
	s.sink.Emit(ctx, events.Event{
		Type:     events.QuoteAccepted,
		EntityID: quote.ID,
		UserID:   quote.UserID,
	})
	s.sink.Emit(ctx, events.Event{
		Type:     events.OrderCreated,
		EntityID: order.ID,
		UserID:   order.UserID,
		Fields:   map[string]string{"transaction_ref": order.TransactionRef},
	})
	return order, nil
}

// Get returns an order. Customers see only their own; operators pass uuid.Nil.
func (s *OrderService) Get(ctx context.Context, id, requester uuid.UUID) (models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if requester != uuid.Nil && order.UserID != requester {
		return models.Order{}, models.ErrNotFound
	}
	return order, nil
}

// GetByQuote looks up the order materialized from a quote, if any.
func (s *OrderService) GetByQuote(ctx context.Context, quoteID, requester uuid.UUID) (models.Order, error) {
	order, err := s.store.GetOrderByQuote(ctx, quoteID)
	if err != nil {
		return models.Order{}, err
	}
	if requester != uuid.Nil && order.UserID != requester {
		return models.Order{}, models.ErrNotFound
	}
	return order, nil
}

// ListForUser returns a user's orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// Transition advances an order's settlement status. Only operators call this;
// illegal moves are refused by the state table before the store is touched.
func (s *OrderService) Transition(ctx context.Context, id uuid.UUID, to models.OrderStatus) (models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if err := ValidateOrderTransition(order.Status, to); err != nil {
		return models.Order{}, err
	}
	if err := s.store.TransitionOrder(ctx, id, order.Status, to); err != nil {
		return models.Order{}, err
	}
	order.Status = to
	order.UpdatedAt = s.now().UTC()

	observability.IncrementOrder(string(to))
	s.sink.Emit(ctx, events.Event{
		Type:     events.OrderUpdated,
		EntityID: order.ID,
		UserID:   order.UserID,
		Fields:   map[string]string{"status": string(to)},
	})
	return order, nil
}

// resolveDestination validates the settlement destination against the trade:
// fiat payouts settle to a verified bank account in the payout currency,
// crypto payouts to a verified wallet in the payout currency. Required means
// no reference was supplied at all; everything else wrong with the reference,
// including pointing at someone else's destination, is a mismatch.
func (s *OrderService) resolveDestination(ctx context.Context, quote models.Quote, destinationID uuid.UUID) (models.SettlementDestination, error) {
	if destinationID == uuid.Nil {
		return models.SettlementDestination{}, models.ErrDestinationRequired
	}
	dest, err := s.store.GetDestination(ctx, destinationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.SettlementDestination{}, models.ErrDestinationMismatch
		}
		return models.SettlementDestination{}, err
	}
	if dest.UserID != quote.UserID {
		return models.SettlementDestination{}, models.ErrDestinationMismatch
	}

	wantKind := models.DestinationWallet
	if quote.TradeType == models.TradeSell {
		wantKind = models.DestinationBank
	}
	if dest.Kind != wantKind || dest.Currency != quote.ToCurrency || !dest.Verified {
		return models.SettlementDestination{}, models.ErrDestinationMismatch
	}
	return dest, nil
}

// transactionRef builds the human-facing order reference. It is derived from
// the quote alone so retries of the same accept produce the same ref.
func transactionRef(quote models.Quote) string {
	short := strings.ToUpper(strings.ReplaceAll(quote.ID.String(), "-", ""))[:8]
	return fmt.Sprintf("OTC-%s-%s", quote.CreatedAt.UTC().Format("20060102-150405"), short)
}
