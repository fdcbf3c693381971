package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyio/otc-desk/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	usd = models.Currency{Code: "USD", Decimals: 2, Class: models.AssetFiat, Active: true}
	ngn = models.Currency{Code: "NGN", Decimals: 2, Class: models.AssetFiat, Active: true}
	btc = models.Currency{Code: "BTC", Decimals: 8, Class: models.AssetCrypto, Active: true}
	eth = models.Currency{Code: "ETH", Decimals: 8, Class: models.AssetCrypto, Active: true}
)

func testFees() models.FeeConfig {
	return models.FeeConfig{
		AdminFeePct:   dec("0.01"),
		BuyMarkupPct:  dec("0.02"),
		SellMarkupPct: dec("0.02"),
		WithdrawalFees: map[string]decimal.Decimal{
			"USD": dec("5"),
			"NGN": dec("500"),
		},
		MinTradeFiat: dec("50"),
	}
}

func usdBTCPair() models.RatePair {
	base := dec("0.0000156")
	return models.RatePair{
		FromCurrency:  "USD",
		ToCurrency:    "BTC",
		BaseRate:      base,
		FinalBuyRate:  base.Mul(dec("1.02")),
		FinalSellRate: base.Mul(dec("0.98")),
	}
}

func btcUSDPair() models.RatePair {
	base := dec("64000")
	return models.RatePair{
		FromCurrency:  "BTC",
		ToCurrency:    "USD",
		BaseRate:      base,
		FinalBuyRate:  base.Mul(dec("1.02")),
		FinalSellRate: base.Mul(dec("0.98")),
	}
}

func TestPriceBuyUsesBuyRateAndSkipsWithdrawalFee(t *testing.T) {
	res, err := Price(models.TradeBuy, usd, btc, dec("1000"), usdBTCPair(), testFees())
	require.NoError(t, err)

	assert.True(t, res.Rate.Equal(usdBTCPair().FinalBuyRate), "rate %s", res.Rate)
	assert.True(t, res.WithdrawalFee.IsZero(), "crypto payout must not carry a withdrawal fee")
	// gross = 1000 * 0.0000156 * 1.02 = 0.0159120000 quantized to 8dp
	assert.True(t, res.GrossToAmount.Equal(dec("0.015912")), "gross %s", res.GrossToAmount)
	assert.True(t, res.NetToAmount.Equal(res.GrossToAmount), "net equals gross when no withdrawal fee")
	// admin fee = 1% of 1000 USD
	assert.True(t, res.AdminFee.Equal(dec("10")), "admin fee %s", res.AdminFee)
	assert.True(t, res.TotalFee.Equal(dec("10")))
}

func TestPriceSellUsesSellRateAndSubtractsWithdrawalFee(t *testing.T) {
	res, err := Price(models.TradeSell, btc, usd, dec("0.5"), btcUSDPair(), testFees())
	require.NoError(t, err)

	assert.True(t, res.Rate.Equal(btcUSDPair().FinalSellRate))
	// gross = 0.5 * 64000 * 0.98 = 31360.00
	assert.True(t, res.GrossToAmount.Equal(dec("31360")), "gross %s", res.GrossToAmount)
	assert.True(t, res.WithdrawalFee.Equal(dec("5")))
	assert.True(t, res.NetToAmount.Equal(dec("31355")), "net %s", res.NetToAmount)
	// admin fee denominated in BTC, quantized to 8dp
	assert.True(t, res.AdminFee.Equal(dec("0.005")), "admin fee %s", res.AdminFee)
}

func TestPriceNetNeverNegative(t *testing.T) {
	pair := models.RatePair{
		FromCurrency:  "BTC",
		ToCurrency:    "USD",
		BaseRate:      dec("4"),
		FinalBuyRate:  dec("4"),
		FinalSellRate: dec("4"),
	}
	res, err := Price(models.TradeSell, btc, usd, dec("0.5"), pair, testFees())
	require.NoError(t, err)

	// gross 2.00 USD, withdrawal fee 5 USD: clamp at zero.
	assert.True(t, res.NetToAmount.IsZero(), "net %s", res.NetToAmount)
}

func TestPriceRejectsNonPositiveAmount(t *testing.T) {
	_, err := Price(models.TradeBuy, usd, btc, decimal.Zero, usdBTCPair(), testFees())
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = Price(models.TradeBuy, usd, btc, dec("-5"), usdBTCPair(), testFees())
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestPriceRejectsInactiveCurrency(t *testing.T) {
	inactive := btc
	inactive.Active = false
	_, err := Price(models.TradeBuy, usd, inactive, dec("100"), usdBTCPair(), testFees())
	assert.ErrorIs(t, err, models.ErrUnknownCurrency)
}

func TestPriceRejectsSameCurrencySwap(t *testing.T) {
	pair := models.RatePair{FromCurrency: "BTC", ToCurrency: "BTC", FinalBuyRate: dec("1"), FinalSellRate: dec("1")}
	_, err := Price(models.TradeSwap, btc, btc, dec("1"), pair, testFees())
	assert.ErrorIs(t, err, models.ErrSameCurrency)
}

func TestPriceSwapUsesBuyRate(t *testing.T) {
	base := dec("20.645")
	pair := models.RatePair{
		FromCurrency:  "BTC",
		ToCurrency:    "ETH",
		BaseRate:      base,
		FinalBuyRate:  base.Mul(dec("1.02")),
		FinalSellRate: base.Mul(dec("0.98")),
	}
	res, err := Price(models.TradeSwap, btc, eth, dec("1"), pair, testFees())
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(pair.FinalBuyRate))
	assert.True(t, res.WithdrawalFee.IsZero())
}

func TestPriceIsDeterministic(t *testing.T) {
	a, err := Price(models.TradeSell, btc, usd, dec("0.25"), btcUSDPair(), testFees())
	require.NoError(t, err)
	b, err := Price(models.TradeSell, btc, usd, dec("0.25"), btcUSDPair(), testFees())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
