package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/ratefeed"
	"github.com/seyio/otc-desk/internal/repository"
)

func TestRefreshAllRecomputesFinalRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.rates.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refreshed)
	assert.Zero(t, report.Failed)

	pair, err := f.rates.GetRate(ctx, "BTC", "USD")
	require.NoError(t, err)
	assert.True(t, pair.BaseRate.Equal(dec("64000")))
	assert.True(t, pair.FinalBuyRate.Equal(dec("64000").Mul(dec("1.02"))), "final buy %s", pair.FinalBuyRate)
	assert.True(t, pair.FinalSellRate.Equal(dec("64000").Mul(dec("0.98"))), "final sell %s", pair.FinalSellRate)
}

func TestRefreshKeepsOldRateOnFeedFailure(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.UpdateFeeConfig(ctx, testFees()))
	stale := btcUSDPair()
	require.NoError(t, store.ReplaceRatePair(ctx, stale))

	feed := &ratefeed.StaticFeed{Err: errors.New("feed down")}
	rates := NewRateService(store, feed, events.NopSink{})

	report, err := rates.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Refreshed)

	// The stale pair keeps serving.
	pair, err := rates.GetRate(ctx, "BTC", "USD")
	require.NoError(t, err)
	assert.True(t, pair.FinalBuyRate.Equal(stale.FinalBuyRate))
}

func TestRefreshRejectsNonPositiveBaseRate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.UpdateFeeConfig(ctx, testFees()))
	require.NoError(t, store.ReplaceRatePair(ctx, btcUSDPair()))

	feed := &ratefeed.StaticFeed{Rates: map[string]decimal.Decimal{"BTC/USD": decimal.Zero}}
	rates := NewRateService(store, feed, events.NopSink{})

	report, err := rates.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestGetRateUnknownPair(t *testing.T) {
	f := newFixture(t)
	_, err := f.rates.GetRate(context.Background(), "ETH", "NGN")
	assert.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestEnsurePairFetchesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The static feed has no ETH/USD entry, so EnsurePair must fail cleanly.
	_, err := f.rates.EnsurePair(ctx, "ETH", "USD")
	assert.Error(t, err)

	pair, err := f.rates.EnsurePair(ctx, "USD", "BTC")
	require.NoError(t, err)
	assert.True(t, pair.BaseRate.Equal(dec("0.0000156")))

	_, err = f.rates.EnsurePair(ctx, "USD", "USD")
	assert.ErrorIs(t, err, models.ErrSameCurrency)
	_, err = f.rates.EnsurePair(ctx, "USD", "XXX")
	assert.ErrorIs(t, err, models.ErrUnknownCurrency)
}
