package domain

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// FinalBuyRate applies the desk's buy markup to a raw market rate:
// base x (1 + markup). This is the rate customers pay when buying.
func FinalBuyRate(base, buyMarkup decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Add(buyMarkup))
}

// FinalSellRate applies the desk's sell markup to a raw market rate:
// base x (1 - markup). This is the rate customers receive when selling.
func FinalSellRate(base, sellMarkup decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Sub(sellMarkup))
}

// Quantize rounds an amount to the precision of its currency, rounding
// half away from zero the way bank statements do.
func Quantize(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Round(decimals)
}

// ClampNonNegative floors an amount at zero. Fee subtraction must never
// produce a negative payout.
func ClampNonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
