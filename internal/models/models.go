package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetClass distinguishes fiat currencies from crypto assets.
type AssetClass string

const (
	AssetFiat   AssetClass = "fiat"
	AssetCrypto AssetClass = "crypto"
)

// Currency is static reference data maintained by operators, never by trading flow.
type Currency struct {
	Code      string     `json:"code"`
	Decimals  int32      `json:"decimals"`
	Class     AssetClass `json:"class"`
	Active    bool       `json:"active"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RatePair holds the cached derived rates for an ordered (from, to) currency pair.
// Mutated only by a rate refresh, always as a whole-row replace so readers see
// either the old or the new pair, never a torn one.
type RatePair struct {
	FromCurrency  string          `json:"from_currency"`
	ToCurrency    string          `json:"to_currency"`
	BaseRate      decimal.Decimal `json:"base_rate"`
	BuyMarkup     decimal.Decimal `json:"buy_markup"`
	SellMarkup    decimal.Decimal `json:"sell_markup"`
	FinalBuyRate  decimal.Decimal `json:"final_buy_rate"`
	FinalSellRate decimal.Decimal `json:"final_sell_rate"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FeeConfig is the global pricing configuration. A single versioned row,
// updated by operators without redeploying the pricing logic.
type FeeConfig struct {
	AdminFeePct    decimal.Decimal            `json:"admin_fee_pct"`
	BuyMarkupPct   decimal.Decimal            `json:"buy_markup_pct"`
	SellMarkupPct  decimal.Decimal            `json:"sell_markup_pct"`
	WithdrawalFees map[string]decimal.Decimal `json:"withdrawal_fees"`
	MinTradeFiat   decimal.Decimal            `json:"min_trade_fiat"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// WithdrawalFee returns the fixed fee for paying out into the given fiat
// currency, or zero when none is configured.
func (f FeeConfig) WithdrawalFee(currency string) decimal.Decimal {
	if fee, ok := f.WithdrawalFees[currency]; ok {
		return fee
	}
	return decimal.Zero
}

// TradeType identifies the direction of a trade from the customer's point of view.
type TradeType string

const (
	TradeBuy  TradeType = "buy"  // fiat in, crypto out
	TradeSell TradeType = "sell" // crypto in, fiat out
	TradeSwap TradeType = "swap" // crypto in, crypto out
)

// QuoteOrigin tags which pricing path produced a quote.
type QuoteOrigin string

const (
	OriginStandard   QuoteOrigin = "standard"
	OriginPrivileged QuoteOrigin = "privileged"
)

// QuoteStatus is the lifecycle state of a quote.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
	QuoteExpired  QuoteStatus = "expired"
	QuoteCanceled QuoteStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s QuoteStatus) Terminal() bool {
	return s != QuotePending
}

// Quote is a time-boxed, locked price offer for a single trade.
// Once the status leaves pending, all priced fields are frozen.
type Quote struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	Origin     QuoteOrigin `json:"origin"`
	OperatorID *uuid.UUID  `json:"operator_id,omitempty"`

	TradeType    TradeType       `json:"trade_type"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	FromAmount   decimal.Decimal `json:"from_amount"`

	Rate          decimal.Decimal `json:"rate"`
	GrossToAmount decimal.Decimal `json:"gross_to_amount"`
	AdminFee      decimal.Decimal `json:"admin_fee"`
	WithdrawalFee decimal.Decimal `json:"withdrawal_fee"`
	TotalFee      decimal.Decimal `json:"total_fee"`
	NetToAmount   decimal.Decimal `json:"net_to_amount"`

	Status        QuoteStatus `json:"status"`
	Justification string      `json:"justification,omitempty"`
	OperatorNotes string      `json:"operator_notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// ExpiredAt reports whether the quote validity window has passed at the given
// instant. Stored status may still read pending; callers treat an overdue
// pending quote as expired.
func (q Quote) ExpiredAt(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// OrderStatus tracks settlement progress on a materialized order.
type OrderStatus string

const (
	OrderPaymentPending   OrderStatus = "payment_pending"
	OrderPaymentConfirmed OrderStatus = "payment_confirmed"
	OrderProcessing       OrderStatus = "processing"
	OrderCompleted        OrderStatus = "completed"
	OrderCanceled         OrderStatus = "cancelled"
	OrderFailed           OrderStatus = "failed"
)

// DestinationKind distinguishes bank accounts from crypto wallets.
type DestinationKind string

const (
	DestinationBank   DestinationKind = "bank_account"
	DestinationWallet DestinationKind = "wallet"
)

// SettlementDestination is a user's verified bank account or crypto wallet.
// The trading core only reads these; verification is an operator action.
type SettlementDestination struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Kind      DestinationKind `json:"kind"`
	Currency  string          `json:"currency"`
	Label     string          `json:"label"`
	Details   string          `json:"details"` // IBAN / account number / on-chain address
	Verified  bool            `json:"verified"`
	CreatedAt time.Time       `json:"created_at"`
}

// Order is the immutable record created exactly once from an accepted quote.
// Priced fields are copied verbatim from the quote and never recomputed.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	QuoteID         uuid.UUID       `json:"quote_id"`
	UserID          uuid.UUID       `json:"user_id"`
	TransactionRef  string          `json:"transaction_ref"`
	TradeType       TradeType       `json:"trade_type"`
	FromCurrency    string          `json:"from_currency"`
	ToCurrency      string          `json:"to_currency"`
	FromAmount      decimal.Decimal `json:"from_amount"`
	Rate            decimal.Decimal `json:"rate"`
	GrossToAmount   decimal.Decimal `json:"gross_to_amount"`
	AdminFee        decimal.Decimal `json:"admin_fee"`
	WithdrawalFee   decimal.Decimal `json:"withdrawal_fee"`
	TotalFee        decimal.Decimal `json:"total_fee"`
	NetToAmount     decimal.Decimal `json:"net_to_amount"`
	DestinationID   uuid.UUID       `json:"destination_id"`
	DestinationKind DestinationKind `json:"destination_kind"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// User is the identity record the core trusts for ownership checks.
// Privileged marks eligibility for operator-issued quotes; Role carries the
// authorization claim (explicit, not derived from the email domain).
type User struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Privileged bool      `json:"privileged"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
)
