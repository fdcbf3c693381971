package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/seyio/otc-desk/internal/models"
)

// Store is the persistence contract consumed by the services. The only shared
// resource between request contexts is the backing store, so every consistency
// rule (at-most-once accept, whole-row rate replace, one order per quote) is
// enforced here.
type Store interface {
	// Currency catalog.
	UpsertCurrency(ctx context.Context, c models.Currency) error
	GetCurrency(ctx context.Context, code string) (models.Currency, error)
	ListCurrencies(ctx context.Context, activeOnly bool) ([]models.Currency, error)

	// Rate pairs. ReplaceRatePair swaps the whole row so concurrent readers
	// observe either the previous or the new pair, never a partial update.
	ReplaceRatePair(ctx context.Context, p models.RatePair) error
	GetRatePair(ctx context.Context, from, to string) (models.RatePair, error)
	ListRatePairs(ctx context.Context) ([]models.RatePair, error)

	// Global fee configuration (single versioned row).
	GetFeeConfig(ctx context.Context) (models.FeeConfig, error)
	UpdateFeeConfig(ctx context.Context, cfg models.FeeConfig) error

	// Users.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	SetUserPrivileged(ctx context.Context, id uuid.UUID, privileged bool) error

	// Settlement destinations (trading core reads; verification is operator-side).
	CreateDestination(ctx context.Context, d *models.SettlementDestination) error
	GetDestination(ctx context.Context, id uuid.UUID) (models.SettlementDestination, error)
	ListVerifiedDestinations(ctx context.Context, userID uuid.UUID, currency string) ([]models.SettlementDestination, error)
	SetDestinationVerified(ctx context.Context, id uuid.UUID, verified bool) error

	// Quotes.
	CreateQuote(ctx context.Context, q *models.Quote) error
	GetQuote(ctx context.Context, id uuid.UUID) (models.Quote, error)
	ListQuotesByUser(ctx context.Context, userID uuid.UUID, statuses ...models.QuoteStatus) ([]models.Quote, error)
	// TransitionQuote flips status only when the stored status still equals
	// from; otherwise it returns ErrAlreadyFinal (or ErrNotFound).
	TransitionQuote(ctx context.Context, id uuid.UUID, from, to models.QuoteStatus) error
	// ExpireOverdueQuotes marks pending quotes whose expires_at lies before
	// cutoff as expired and returns how many rows were touched.
	ExpireOverdueQuotes(ctx context.Context, cutoff time.Time) (int64, error)
	// AcceptQuoteAndCreateOrder atomically transitions the order's quote from
	// pending to accepted and inserts the order. The transition succeeds only
	// if the stored status is still pending and the validity window is open;
	// concurrent attempts observe ErrAlreadyAccepted. Quote id carries a
	// uniqueness constraint on orders as a second guard.
	AcceptQuoteAndCreateOrder(ctx context.Context, now time.Time, order *models.Order) error

	// Orders.
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetOrderByQuote(ctx context.Context, quoteID uuid.UUID) (models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	TransitionOrder(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) error
}
