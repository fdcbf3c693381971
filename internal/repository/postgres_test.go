package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/db/migrations"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/testutil/dblock"
)

// pgStore connects to the database named by DATABASE_URL, applies migrations
// and truncates mutable tables. Tests sharing the database are serialized
// through dblock so parallel packages do not trample each other's rows.
func pgStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	release := dblock.Acquire()
	t.Cleanup(release)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	src, err := iofs.New(migrations.Files, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("apply migrations: %v", err)
	}

	_, err = pool.Exec(ctx, `TRUNCATE orders, quotes, settlement_destinations, users, idempotency_keys`)
	require.NoError(t, err)
	return NewPostgresStore(pool)
}

func pgSeedQuote(t *testing.T, s *PostgresStore, status models.QuoteStatus, expiresAt time.Time) models.Quote {
	t.Helper()
	ctx := context.Background()
	user := models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: models.RoleCustomer}
	require.NoError(t, s.CreateUser(ctx, &user))

	q := models.Quote{
		ID:           uuid.New(),
		UserID:       user.ID,
		Origin:       models.OriginStandard,
		TradeType:    models.TradeBuy,
		FromCurrency: "USD",
		ToCurrency:   "BTC",
		FromAmount:   decimal.NewFromInt(1000),
		Rate:         decimal.RequireFromString("0.0000156"),
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}
	require.NoError(t, s.CreateQuote(ctx, &q))
	return q
}

func pgSeedDestination(t *testing.T, s *PostgresStore, userID uuid.UUID) models.SettlementDestination {
	t.Helper()
	d := models.SettlementDestination{
		ID:       uuid.New(),
		UserID:   userID,
		Kind:     models.DestinationWallet,
		Currency: "BTC",
		Label:    "test wallet",
		Details:  "bc1q" + uuid.NewString()[:8],
		Verified: true,
	}
	require.NoError(t, s.CreateDestination(context.Background(), &d))
	return d
}

func TestPostgresAcceptQuoteConflicts(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	q := pgSeedQuote(t, s, models.QuotePending, now.Add(time.Hour))
	dest := pgSeedDestination(t, s, q.UserID)
	order := &models.Order{
		ID:              uuid.New(),
		QuoteID:         q.ID,
		UserID:          q.UserID,
		TransactionRef:  "OTC-TEST-" + uuid.NewString()[:8],
		TradeType:       q.TradeType,
		FromCurrency:    q.FromCurrency,
		ToCurrency:      q.ToCurrency,
		FromAmount:      q.FromAmount,
		Rate:            q.Rate,
		DestinationID:   dest.ID,
		DestinationKind: dest.Kind,
		Status:          models.OrderPaymentPending,
	}
	require.NoError(t, s.AcceptQuoteAndCreateOrder(ctx, now, order))

	retry := *order
	retry.ID = uuid.New()
	assert.ErrorIs(t, s.AcceptQuoteAndCreateOrder(ctx, now, &retry), models.ErrAlreadyAccepted)

	stale := pgSeedQuote(t, s, models.QuotePending, now.Add(-time.Minute))
	late := &models.Order{
		ID:             uuid.New(),
		QuoteID:        stale.ID,
		UserID:         stale.UserID,
		TransactionRef: "OTC-TEST-" + uuid.NewString()[:8],
		Status:         models.OrderPaymentPending,
	}
	assert.ErrorIs(t, s.AcceptQuoteAndCreateOrder(ctx, now, late), models.ErrQuoteExpired)
}

func TestPostgresAcceptAtExpiryInstant(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	q := pgSeedQuote(t, s, models.QuotePending, now)
	dest := pgSeedDestination(t, s, q.UserID)
	order := &models.Order{
		ID:              uuid.New(),
		QuoteID:         q.ID,
		UserID:          q.UserID,
		TransactionRef:  "OTC-TEST-" + uuid.NewString()[:8],
		TradeType:       q.TradeType,
		FromCurrency:    q.FromCurrency,
		ToCurrency:      q.ToCurrency,
		FromAmount:      q.FromAmount,
		Rate:            q.Rate,
		DestinationID:   dest.ID,
		DestinationKind: dest.Kind,
		Status:          models.OrderPaymentPending,
	}
	require.NoError(t, s.AcceptQuoteAndCreateOrder(ctx, now, order))
}

func TestPostgresConditionalTransitions(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	q := pgSeedQuote(t, s, models.QuotePending, now.Add(time.Hour))
	require.NoError(t, s.TransitionQuote(ctx, q.ID, models.QuotePending, models.QuoteCanceled))
	assert.ErrorIs(t, s.TransitionQuote(ctx, q.ID, models.QuotePending, models.QuoteExpired), models.ErrAlreadyFinal)
	assert.ErrorIs(t, s.TransitionQuote(ctx, uuid.New(), models.QuotePending, models.QuoteExpired), models.ErrNotFound)
}

func TestPostgresExpireOverdueQuotes(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pgSeedQuote(t, s, models.QuotePending, now.Add(-time.Minute))
	fresh := pgSeedQuote(t, s, models.QuotePending, now.Add(time.Hour))

	n, err := s.ExpireOverdueQuotes(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetQuote(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuotePending, got.Status)
}
