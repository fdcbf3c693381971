package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/models"
)

func (f *fixture) verifiedWallet(t *testing.T, currency string) models.SettlementDestination {
	t.Helper()
	ctx := context.Background()
	dest, err := f.accounts.AddDestination(ctx, f.customer.ID, models.DestinationWallet, currency, "cold wallet", "bc1qexampleaddress")
	require.NoError(t, err)
	require.NoError(t, f.accounts.VerifyDestination(ctx, dest.ID, true))
	dest.Verified = true
	return dest
}

func (f *fixture) verifiedBank(t *testing.T, currency string) models.SettlementDestination {
	t.Helper()
	ctx := context.Background()
	dest, err := f.accounts.AddDestination(ctx, f.customer.ID, models.DestinationBank, currency, "checking", "DE89370400440532013000")
	require.NoError(t, err)
	require.NoError(t, f.accounts.VerifyDestination(ctx, dest.ID, true))
	dest.Verified = true
	return dest
}

func TestAcceptMaterializesOrderVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	order, err := f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	require.NoError(t, err)

	assert.Equal(t, quote.ID, order.QuoteID)
	assert.Equal(t, models.OrderPaymentPending, order.Status)
	assert.Equal(t, wallet.ID, order.DestinationID)
	assert.Equal(t, models.DestinationWallet, order.DestinationKind)
	assert.True(t, order.Rate.Equal(quote.Rate))
	assert.True(t, order.GrossToAmount.Equal(quote.GrossToAmount))
	assert.True(t, order.AdminFee.Equal(quote.AdminFee))
	assert.True(t, order.NetToAmount.Equal(quote.NetToAmount))
	assert.Regexp(t, `^OTC-\d{8}-\d{6}-[0-9A-F]{8}$`, order.TransactionRef)

	// The quote is now accepted.
	stored, err := f.store.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteAccepted, stored.Status)
}

func TestAcceptIsAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	require.NoError(t, err)
	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyAccepted)

	orders, err := f.orders.ListForUser(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, models.ErrAlreadyAccepted)
		}
	}
	assert.Equal(t, 1, wins)

	orders, err := f.orders.ListForUser(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestAcceptExpiredQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	f.advance(16 * time.Minute)
	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	assert.ErrorIs(t, err, models.ErrQuoteExpired)

	// The overdue row was marked expired on the way out.
	stored, err := f.store.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, stored.Status)
}

func TestAcceptRequiresDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrDestinationRequired)

	// A reference that resolves to nothing is a mismatch, not a missing field.
	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrDestinationMismatch)
}

func TestAcceptRejectsForeignDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := models.User{ID: uuid.New(), Email: "sam@example.com", Role: models.RoleCustomer}
	require.NoError(t, f.store.CreateUser(ctx, &stranger))
	dest, err := f.accounts.AddDestination(ctx, stranger.ID, models.DestinationWallet, "BTC", "their wallet", "bc1qstranger")
	require.NoError(t, err)
	require.NoError(t, f.accounts.VerifyDestination(ctx, dest.ID, true))

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, dest.ID)
	assert.ErrorIs(t, err, models.ErrDestinationMismatch)
}

func TestAcceptRejectsMismatchedDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Buy pays out BTC; a USD bank account is the wrong kind and currency.
	bank := f.verifiedBank(t, "USD")
	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, bank.ID)
	assert.ErrorIs(t, err, models.ErrDestinationMismatch)
}

func TestAcceptRejectsUnverifiedDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dest, err := f.accounts.AddDestination(ctx, f.customer.ID, models.DestinationWallet, "BTC", "new wallet", "bc1qunverified")
	require.NoError(t, err)

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	_, err = f.orders.Accept(ctx, quote.ID, f.customer.ID, dest.ID)
	assert.ErrorIs(t, err, models.ErrDestinationMismatch)
}

func TestSellSettlesToBankAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bank := f.verifiedBank(t, "USD")

	quote, err := f.quotes.Generate(ctx, GenerateRequest{
		UserID:       f.customer.ID,
		TradeType:    models.TradeSell,
		FromCurrency: "BTC",
		ToCurrency:   "USD",
		FromAmount:   dec("0.5"),
	})
	require.NoError(t, err)

	order, err := f.orders.Accept(ctx, quote.ID, f.customer.ID, bank.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DestinationBank, order.DestinationKind)
}

func TestAcceptForeignQuoteIsHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)

	_, err = f.orders.Accept(ctx, quote.ID, uuid.New(), wallet.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOrderTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	order, err := f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	require.NoError(t, err)

	for _, next := range []models.OrderStatus{
		models.OrderPaymentConfirmed,
		models.OrderProcessing,
		models.OrderCompleted,
	} {
		order, err = f.orders.Transition(ctx, order.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
	}

	// Completed is terminal.
	_, err = f.orders.Transition(ctx, order.ID, models.OrderFailed)
	assert.ErrorIs(t, err, models.ErrAlreadyFinal)
}

func TestOrderTransitionRejectsSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	order, err := f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	require.NoError(t, err)

	_, err = f.orders.Transition(ctx, order.ID, models.OrderCompleted)
	assert.ErrorIs(t, err, models.ErrAlreadyFinal)
}

func TestGetByQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := f.verifiedWallet(t, "BTC")

	quote, err := f.quotes.Generate(ctx, f.buyRequest("1000"))
	require.NoError(t, err)
	order, err := f.orders.Accept(ctx, quote.ID, f.customer.ID, wallet.ID)
	require.NoError(t, err)

	got, err := f.orders.GetByQuote(ctx, quote.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetByQuote(ctx, quote.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
