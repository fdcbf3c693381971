package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/limits"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/ratefeed"
	"github.com/seyio/otc-desk/internal/repository"
)

type fixture struct {
	store    *repository.MemoryStore
	ledger   *limits.MemoryLedger
	rates    *RateService
	quotes   *QuoteService
	orders   *OrderService
	accounts *AccountService

	customer models.User
	operator models.User

	clock time.Time
	mu    sync.Mutex
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: repository.NewMemoryStore(),
		clock: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.ledger = limits.NewMemoryLedger(limits.Caps{
		Daily:   map[string]decimal.Decimal{"USD": dec("50000")},
		Monthly: map[string]decimal.Decimal{"USD": dec("200000")},
	}).WithClock(f.now)

	for _, c := range []models.Currency{usd, ngn, btc, eth} {
		require.NoError(t, f.store.UpsertCurrency(ctx, c))
	}
	require.NoError(t, f.store.UpdateFeeConfig(ctx, testFees()))
	require.NoError(t, f.store.ReplaceRatePair(ctx, usdBTCPair()))
	require.NoError(t, f.store.ReplaceRatePair(ctx, btcUSDPair()))

	f.customer = models.User{ID: uuid.New(), Email: "alex@example.com", Role: models.RoleCustomer}
	f.operator = models.User{ID: uuid.New(), Email: "desk@otc.example", Role: models.RoleOperator}
	require.NoError(t, f.store.CreateUser(ctx, &f.customer))
	require.NoError(t, f.store.CreateUser(ctx, &f.operator))

	feed := &ratefeed.StaticFeed{Rates: map[string]decimal.Decimal{
		"USD/BTC": dec("0.0000156"),
		"BTC/USD": dec("64000"),
	}}
	sink := events.NopSink{}
	f.rates = NewRateService(f.store, feed, sink).WithClock(f.now)
	f.quotes = NewQuoteService(f.store, f.rates, f.ledger, sink, 15*time.Minute).WithClock(f.now)
	f.orders = NewOrderService(f.store, sink).WithClock(f.now)
	f.accounts = NewAccountService(f.store)
	return f
}

func (f *fixture) buyRequest(amount string) GenerateRequest {
	return GenerateRequest{
		UserID:       f.customer.ID,
		TradeType:    models.TradeBuy,
		FromCurrency: "USD",
		ToCurrency:   "BTC",
		FromAmount:   dec(amount),
	}
}

func TestGenerateLocksPriceAndWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	assert.Equal(t, models.QuotePending, quote.Status)
	assert.Equal(t, models.OriginStandard, quote.Origin)
	assert.True(t, quote.Rate.Equal(usdBTCPair().FinalBuyRate))
	assert.Equal(t, f.now().Add(15*time.Minute), quote.ExpiresAt)

	stored, err := f.quotes.Get(ctx, quote.ID, f.customer.ID)
	require.NoError(t, err)
	assert.True(t, stored.NetToAmount.Equal(quote.NetToAmount))
}

func TestGenerateMatchesPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	preview, err := f.quotes.Preview(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	assert.True(t, preview.NetToAmount.Equal(quote.NetToAmount))
	assert.True(t, preview.TotalFee.Equal(quote.TotalFee))
	assert.True(t, preview.Rate.Equal(quote.Rate))
}

func TestGenerateEnforcesMinimumTrade(t *testing.T) {
	f := newFixture(t)
	_, err := f.quotes.Generate(context.Background(), f.buyRequest("49.99"))
	assert.ErrorIs(t, err, models.ErrBelowMinimumTrade)
}

func TestGenerateSwapSkipsFiatFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := dec("20.6")
	require.NoError(t, f.store.ReplaceRatePair(ctx, models.RatePair{
		FromCurrency:  "BTC",
		ToCurrency:    "ETH",
		BaseRate:      base,
		BuyMarkup:     dec("0.02"),
		SellMarkup:    dec("0.02"),
		FinalBuyRate:  base.Mul(dec("1.02")),
		FinalSellRate: base.Mul(dec("0.98")),
	}))

	// A 1 BTC swap pays out ~21 ETH. The payout count sits under the
	// fiat floor of 50 numerically, but the floor is fiat-denominated
	// and a crypto swap has no fiat leg.
	quote, err := f.quotes.Generate(ctx, GenerateRequest{
		UserID:       f.customer.ID,
		TradeType:    models.TradeSwap,
		FromCurrency: "BTC",
		ToCurrency:   "ETH",
		FromAmount:   dec("1"),
	})
	require.NoError(t, err)

	assert.True(t, quote.GrossToAmount.Equal(dec("21.012")))
	assert.True(t, quote.WithdrawalFee.IsZero())
	assert.Equal(t, models.QuotePending, quote.Status)
}

func TestGenerateEnforcesDailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.quotes.Generate(ctx, f.buyRequest("40000"))
	require.NoError(t, err)
	_, err = f.quotes.Generate(ctx, f.buyRequest("20000"))
	assert.ErrorIs(t, err, models.ErrLimitExceeded)

	// Next day the daily window resets.
	f.advance(24 * time.Hour)
	_, err = f.quotes.Generate(ctx, f.buyRequest("20000"))
	require.NoError(t, err)
}

func TestGenerateRejectsUnknownPair(t *testing.T) {
	f := newFixture(t)
	req := f.buyRequest("1000")
	req.ToCurrency = "ETH"
	_, err := f.quotes.Generate(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestQuoteExpiresLazilyOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	f.advance(16 * time.Minute)
	got, err := f.quotes.Get(ctx, quote.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, got.Status)

	// The stored row was flipped too, not just the response.
	stored, err := f.store.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, stored.Status)
}

func TestExpireOverdueSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	_, err = f.quotes.Generate(ctx, f.buyRequest("2000"))
	require.NoError(t, err)

	f.advance(20 * time.Minute)
	n, err := f.quotes.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Sweep is idempotent.
	n, err = f.quotes.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejectByOwnerCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	got, err := f.quotes.Reject(ctx, quote.ID, f.customer.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteCanceled, got.Status)

	// A finished quote cannot be rejected again.
	_, err = f.quotes.Reject(ctx, quote.ID, f.customer.ID, false)
	assert.ErrorIs(t, err, models.ErrAlreadyFinal)
}

func TestRejectByOperatorRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	got, err := f.quotes.Reject(ctx, quote.ID, f.operator.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteRejected, got.Status)
}

func TestRejectHidesForeignQuotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = f.quotes.Reject(ctx, quote.ID, stranger, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.quotes.Get(ctx, quote.ID, stranger)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIssuePrivilegedRequiresEligibilityAndJustification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := PrivilegedRequest{
		OperatorID:    f.operator.ID,
		TargetUserID:  f.customer.ID,
		TradeType:     models.TradeBuy,
		FromCurrency:  "USD",
		ToCurrency:    "BTC",
		FromAmount:    dec("100000"),
		OverrideRate:  dec("0.0000160"),
		Justification: "volume client, agreed on the desk call",
	}

	// Not flagged privileged yet.
	_, err := f.quotes.IssuePrivileged(ctx, req)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	require.NoError(t, f.accounts.SetPrivileged(ctx, f.customer.ID, true))

	missing := req
	missing.Justification = "  "
	_, err = f.quotes.IssuePrivileged(ctx, missing)
	assert.ErrorIs(t, err, models.ErrJustificationRequired)

	quote, err := f.quotes.IssuePrivileged(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OriginPrivileged, quote.Origin)
	require.NotNil(t, quote.OperatorID)
	assert.Equal(t, f.operator.ID, *quote.OperatorID)
	assert.True(t, quote.Rate.Equal(dec("0.0000160")))
	assert.Equal(t, f.now().Add(15*time.Minute), quote.ExpiresAt)
}

func TestIssuePrivilegedWaivesAdminFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.accounts.SetPrivileged(ctx, f.customer.ID, true))

	quote, err := f.quotes.IssuePrivileged(ctx, PrivilegedRequest{
		OperatorID:    f.operator.ID,
		TargetUserID:  f.customer.ID,
		TradeType:     models.TradeSell,
		FromCurrency:  "BTC",
		ToCurrency:    "USD",
		FromAmount:    dec("2"),
		OverrideRate:  dec("64500"),
		WaiveAdminFee: true,
		Justification: "fee waiver approved",
	})
	require.NoError(t, err)

	assert.True(t, quote.AdminFee.IsZero())
	// Withdrawal fee still applies to the fiat payout.
	assert.True(t, quote.WithdrawalFee.Equal(dec("5")))
	assert.True(t, quote.GrossToAmount.Equal(dec("129000")))
	assert.True(t, quote.NetToAmount.Equal(dec("128995")))
}

func TestPrivilegedQuoteSkipsTradingLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.accounts.SetPrivileged(ctx, f.customer.ID, true))

	// Far above the 50k daily USD cap that binds standard quotes.
	_, err := f.quotes.IssuePrivileged(ctx, PrivilegedRequest{
		OperatorID:    f.operator.ID,
		TargetUserID:  f.customer.ID,
		TradeType:     models.TradeBuy,
		FromCurrency:  "USD",
		ToCurrency:    "BTC",
		FromAmount:    dec("500000"),
		OverrideRate:  dec("0.0000160"),
		Justification: "desk-approved block trade",
	})
	require.NoError(t, err)
}
