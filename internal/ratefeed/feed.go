package ratefeed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Feed represents the external market-data feed supplying raw base rates.
type Feed interface {
	// FetchBaseRate returns the raw market rate for converting one unit of
	// from into to. Unreachable feeds return an error; the caller keeps the
	// previously cached rate.
	FetchBaseRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// MockFeed simulates a market-data feed for local development and testing.
// It serves rates from a static table with a small random jitter and fails
// a configurable fraction of the time.
type MockFeed struct {
	// FailureRate is the probability of a fetch failing (0.0 to 1.0).
	FailureRate float64
	// Latency bounds the simulated round trip.
	Latency time.Duration

	rates map[string]decimal.Decimal
}

// NewMockFeed creates a feed with indicative USD-denominated rates.
func NewMockFeed() *MockFeed {
	return &MockFeed{
		FailureRate: 0,
		Latency:     50 * time.Millisecond,
		rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("1.08"),
			"GBP": decimal.RequireFromString("1.27"),
			"NGN": decimal.RequireFromString("0.00065"),
			"BTC": decimal.RequireFromString("64000"),
			"ETH": decimal.RequireFromString("3100"),
			"USDT": decimal.RequireFromString("1.0"),
		},
	}
}

// FetchBaseRate derives a cross rate from the USD table: rate = usd(from)/usd(to).
func (f *MockFeed) FetchBaseRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if f.Latency > 0 {
		select {
		case <-time.After(f.Latency):
		case <-ctx.Done():
			return decimal.Zero, fmt.Errorf("rate feed call canceled: %w", ctx.Err())
		}
	}

	if rand.Float64() < f.FailureRate {
		return decimal.Zero, fmt.Errorf("rate feed temporarily unavailable")
	}

	fromUSD, ok1 := f.rates[from]
	toUSD, ok2 := f.rates[to]
	if !ok1 || !ok2 || toUSD.IsZero() {
		return decimal.Zero, fmt.Errorf("rate feed has no quote for %s/%s", from, to)
	}
	return fromUSD.Div(toUSD), nil
}

// StaticFeed serves fixed rates and never fails. Used in tests.
type StaticFeed struct {
	Rates map[string]decimal.Decimal // keyed "FROM/TO"
	Err   error
}

func (f *StaticFeed) FetchBaseRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	rate, ok := f.Rates[from+"/"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate for %s/%s", from, to)
	}
	return rate, nil
}
