package service

import (
	"github.com/shopspring/decimal"

	"github.com/seyio/otc-desk/internal/domain"
	"github.com/seyio/otc-desk/internal/models"
)

// PricingResult is the full fee breakdown for a prospective trade.
type PricingResult struct {
	Rate          decimal.Decimal `json:"rate"`
	GrossToAmount decimal.Decimal `json:"gross_to_amount"`
	// AdminFee is denominated in the source currency and collected
	// out-of-band; it is not subtracted from the payout.
	AdminFee      decimal.Decimal `json:"admin_fee"`
	WithdrawalFee decimal.Decimal `json:"withdrawal_fee"`
	TotalFee      decimal.Decimal `json:"total_fee"`
	NetToAmount   decimal.Decimal `json:"net_to_amount"`
}

// Price computes the customer-facing breakdown for a trade. It is a pure
// function: no side effects, deterministic for the same inputs, safe to call
// repeatedly for preview rendering before a quote is committed. Both the
// preview path and the quote commit path go through here so the two can
// never diverge.
func Price(tradeType models.TradeType, from, to models.Currency, fromAmount decimal.Decimal, pair models.RatePair, fees models.FeeConfig) (PricingResult, error) {
	if fromAmount.LessThanOrEqual(decimal.Zero) {
		return PricingResult{}, models.ErrInvalidAmount
	}
	if !from.Active || !to.Active {
		return PricingResult{}, models.ErrUnknownCurrency
	}
	if tradeType == models.TradeSwap && from.Code == to.Code {
		return PricingResult{}, models.ErrSameCurrency
	}

	rate := pair.FinalBuyRate
	if tradeType == models.TradeSell {
		rate = pair.FinalSellRate
	}

	gross := domain.Quantize(fromAmount.Mul(rate), to.Decimals)
	adminFee := domain.Quantize(fromAmount.Mul(fees.AdminFeePct), from.Decimals)

	// Fixed withdrawal fees apply to fiat payouts only; crypto payouts and
	// crypto-to-crypto swaps waive them.
	withdrawalFee := decimal.Zero
	if to.Class == models.AssetFiat {
		withdrawalFee = fees.WithdrawalFee(to.Code)
	}

	// The admin fee is debited in the source currency, so only the
	// withdrawal fee reduces the payout. TotalFee mixes units; the caller
	// displays the components separately.
	net := domain.ClampNonNegative(gross.Sub(withdrawalFee))

	return PricingResult{
		Rate:          rate,
		GrossToAmount: gross,
		AdminFee:      adminFee,
		WithdrawalFee: withdrawalFee,
		TotalFee:      adminFee.Add(withdrawalFee),
		NetToAmount:   net,
	}, nil
}
