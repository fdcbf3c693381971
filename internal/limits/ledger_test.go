package limits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCaps() Caps {
	return Caps{
		Daily:   map[string]decimal.Decimal{"USD": dec("1000")},
		Monthly: map[string]decimal.Decimal{"USD": dec("3000")},
	}
}

func TestMemoryLedgerDailyCap(t *testing.T) {
	ledger := NewMemoryLedger(testCaps())
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, ledger.CheckAndReserve(ctx, user, "USD", dec("600")))
	require.NoError(t, ledger.CheckAndReserve(ctx, user, "USD", dec("400")))
	err := ledger.CheckAndReserve(ctx, user, "USD", dec("0.01"))
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestMemoryLedgerMonthlyCapOutlivesDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger(testCaps()).WithClock(func() time.Time { return now })
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.CheckAndReserve(ctx, user, "USD", dec("1000")))
		now = now.Add(24 * time.Hour)
	}
	// Daily window is fresh but the month is spent.
	err := ledger.CheckAndReserve(ctx, user, "USD", dec("1"))
	assert.ErrorIs(t, err, models.ErrLimitExceeded)

	// A new month resets everything.
	now = now.AddDate(0, 1, 0)
	require.NoError(t, ledger.CheckAndReserve(ctx, user, "USD", dec("1000")))
}

func TestMemoryLedgerPerUserIsolation(t *testing.T) {
	ledger := NewMemoryLedger(testCaps())
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, uuid.New(), "USD", dec("1000")))
	require.NoError(t, ledger.CheckAndReserve(ctx, uuid.New(), "USD", dec("1000")))
}

func TestMemoryLedgerUncappedCurrency(t *testing.T) {
	ledger := NewMemoryLedger(testCaps())
	require.NoError(t, ledger.CheckAndReserve(context.Background(), uuid.New(), "EUR", dec("999999999")))
}

func TestMemoryLedgerRejectsNonPositive(t *testing.T) {
	ledger := NewMemoryLedger(testCaps())
	err := ledger.CheckAndReserve(context.Background(), uuid.New(), "USD", decimal.Zero)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestToMicros(t *testing.T) {
	assert.EqualValues(t, 1_000_000, toMicros(dec("1")))
	assert.EqualValues(t, 1_500, toMicros(dec("0.0015")))
	assert.EqualValues(t, 0, toMicros(dec("0.0000001")))
}
