package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/domain"
	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/limits"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/repository"
)

// QuoteService drives the quote lifecycle: generation through the standard
// pricing pipeline, operator-issued privileged quotes, rejection, and expiry.
type QuoteService struct {
	store    repository.Store
	rates    *RateService
	ledger   limits.Ledger
	sink     events.Sink
	validity time.Duration
	now      func() time.Time
}

func NewQuoteService(store repository.Store, rates *RateService, ledger limits.Ledger, sink events.Sink, validity time.Duration) *QuoteService {
	return &QuoteService{
		store:    store,
		rates:    rates,
		ledger:   ledger,
		sink:     sink,
		validity: validity,
		now:      time.Now,
	}
}

// WithClock overrides the service clock; test hook.
func (s *QuoteService) WithClock(now func() time.Time) *QuoteService {
	s.now = now
	return s
}

// GenerateRequest carries a customer's ask for a standard quote.
type GenerateRequest struct {
	UserID       uuid.UUID
	TradeType    models.TradeType
	FromCurrency string
	ToCurrency   string
	FromAmount   decimal.Decimal
}

// Preview prices a trade without committing anything: no quote row, no limit
// reservation. The breakdown is the same one Generate would lock in.
func (s *QuoteService) Preview(ctx context.Context, req GenerateRequest) (PricingResult, error) {
	from, to, pair, fees, err := s.loadPricingInputs(ctx, req)
	if err != nil {
		return PricingResult{}, err
	}
	return Price(req.TradeType, from, to, req.FromAmount, pair, fees)
}

// Generate runs the full standard path: catalog validation, pricing, minimum
// trade floor, trading-limit reservation, then persists a pending quote with
// a fixed validity window.
func (s *QuoteService) Generate(ctx context.Context, req GenerateRequest) (models.Quote, error) {
	from, to, pair, fees, err := s.loadPricingInputs(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}

	priced, err := Price(req.TradeType, from, to, req.FromAmount, pair, fees)
	if err != nil {
		return models.Quote{}, err
	}

	limitAmount, limitCurrency, hasFiatLeg := s.limitLeg(req, from, to, priced)
	if hasFiatLeg && limitAmount.LessThan(fees.MinTradeFiat) {
		return models.Quote{}, models.ErrBelowMinimumTrade
	}

	if err := s.ledger.CheckAndReserve(ctx, req.UserID, limitCurrency, limitAmount); err != nil {
		if errors.Is(err, models.ErrLimitExceeded) {
			observability.IncrementLimitRejection(limitCurrency)
		}
		return models.Quote{}, err
	}

	now := s.now().UTC()
	quote := models.Quote{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Origin:       models.OriginStandard,
		TradeType:    req.TradeType,
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		FromAmount:   req.FromAmount,

		Rate:          priced.Rate,
		GrossToAmount: priced.GrossToAmount,
		AdminFee:      priced.AdminFee,
		WithdrawalFee: priced.WithdrawalFee,
		TotalFee:      priced.TotalFee,
		NetToAmount:   priced.NetToAmount,

		Status:    models.QuotePending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.validity),
	}
	if err := s.store.CreateQuote(ctx, &quote); err != nil {
		return models.Quote{}, fmt.Errorf("persisting quote: %w", err)
	}

	observability.IncrementQuote(string(models.OriginStandard), "created")
	s.sink.Emit(ctx, events.Event{
		Type:     events.QuoteCreated,
		EntityID: quote.ID,
		UserID:   quote.UserID,
		Fields: map[string]string{
			"trade_type": string(quote.TradeType),
			"pair":       quote.FromCurrency + "/" + quote.ToCurrency,
		},
	})
	return quote, nil
}

// PrivilegedRequest is an operator's ask to issue a bespoke quote.
type PrivilegedRequest struct {
	OperatorID    uuid.UUID
	TargetUserID  uuid.UUID
	TradeType     models.TradeType
	FromCurrency  string
	ToCurrency    string
	FromAmount    decimal.Decimal
	OverrideRate  decimal.Decimal
	WaiveAdminFee bool
	Justification string
	Notes         string
}

// IssuePrivileged creates an operator-priced quote for a privileged customer.
// The override rate replaces the marked-up rate wholesale; fee waivers apply
// on top of the standard config. The result enters the same lifecycle as a
// standard quote: same validity window, same accept path, same order shape.
func (s *QuoteService) IssuePrivileged(ctx context.Context, req PrivilegedRequest) (models.Quote, error) {
	if strings.TrimSpace(req.Justification) == "" {
		return models.Quote{}, models.ErrJustificationRequired
	}
	if req.OverrideRate.LessThanOrEqual(decimal.Zero) {
		return models.Quote{}, models.ErrInvalidAmount
	}
	if req.FromAmount.LessThanOrEqual(decimal.Zero) {
		return models.Quote{}, models.ErrInvalidAmount
	}

	target, err := s.store.GetUser(ctx, req.TargetUserID)
	if err != nil {
		return models.Quote{}, err
	}
	if !target.Privileged {
		return models.Quote{}, fmt.Errorf("user %s is not eligible for privileged quotes: %w", target.ID, models.ErrUnauthorized)
	}

	from, err := s.store.GetCurrency(ctx, req.FromCurrency)
	if err != nil {
		return models.Quote{}, models.ErrUnknownCurrency
	}
	to, err := s.store.GetCurrency(ctx, req.ToCurrency)
	if err != nil {
		return models.Quote{}, models.ErrUnknownCurrency
	}
	if !from.Active || !to.Active {
		return models.Quote{}, models.ErrUnknownCurrency
	}
	if req.TradeType == models.TradeSwap && from.Code == to.Code {
		return models.Quote{}, models.ErrSameCurrency
	}

	fees, err := s.store.GetFeeConfig(ctx)
	if err != nil {
		return models.Quote{}, fmt.Errorf("loading fee config: %w", err)
	}

	gross := domain.Quantize(req.FromAmount.Mul(req.OverrideRate), to.Decimals)
	adminFee := decimal.Zero
	if !req.WaiveAdminFee {
		adminFee = domain.Quantize(req.FromAmount.Mul(fees.AdminFeePct), from.Decimals)
	}
	withdrawalFee := decimal.Zero
	if to.Class == models.AssetFiat {
		withdrawalFee = fees.WithdrawalFee(to.Code)
	}
	net := domain.ClampNonNegative(gross.Sub(withdrawalFee))

	now := s.now().UTC()
	operatorID := req.OperatorID
	quote := models.Quote{
		ID:           uuid.New(),
		UserID:       req.TargetUserID,
		Origin:       models.OriginPrivileged,
		OperatorID:   &operatorID,
		TradeType:    req.TradeType,
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		FromAmount:   req.FromAmount,

		Rate:          req.OverrideRate,
		GrossToAmount: gross,
		AdminFee:      adminFee,
		WithdrawalFee: withdrawalFee,
		TotalFee:      adminFee.Add(withdrawalFee),
		NetToAmount:   net,

		Status:        models.QuotePending,
		Justification: req.Justification,
		OperatorNotes: req.Notes,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.validity),
	}
	if err := s.store.CreateQuote(ctx, &quote); err != nil {
		return models.Quote{}, fmt.Errorf("persisting privileged quote: %w", err)
	}

	observability.IncrementQuote(string(models.OriginPrivileged), "created")
	zap.L().Info("privileged quote issued",
		zap.String("quote_id", quote.ID.String()),
		zap.String("operator_id", operatorID.String()),
		zap.String("target_user_id", req.TargetUserID.String()))
	s.sink.Emit(ctx, events.Event{
		Type:     events.QuoteCreated,
		EntityID: quote.ID,
		UserID:   quote.UserID,
		Fields: map[string]string{
			"origin":      string(models.OriginPrivileged),
			"operator_id": operatorID.String(),
		},
	})
	return quote, nil
}

// Get returns a quote, lazily marking it expired when the validity window has
// passed but the stored status still reads pending. Ownership is enforced by
// the caller passing the authenticated user; operators pass uuid.Nil to skip
// the check.
func (s *QuoteService) Get(ctx context.Context, id, requester uuid.UUID) (models.Quote, error) {
	quote, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return models.Quote{}, err
	}
	if requester != uuid.Nil && quote.UserID != requester {
		return models.Quote{}, models.ErrNotFound
	}
	return s.lazyExpire(ctx, quote), nil
}

// ListForUser returns the user's quotes, newest first, each lazily expired.
func (s *QuoteService) ListForUser(ctx context.Context, userID uuid.UUID, statuses ...models.QuoteStatus) ([]models.Quote, error) {
	quotes, err := s.store.ListQuotesByUser(ctx, userID, statuses...)
	if err != nil {
		return nil, err
	}
	for i := range quotes {
		quotes[i] = s.lazyExpire(ctx, quotes[i])
	}
	return quotes, nil
}

// Reject declines a pending quote. A customer declining their own quote lands
// in cancelled; an operator withdrawing one lands in rejected. Either way the
// quote is finished and can never be accepted.
func (s *QuoteService) Reject(ctx context.Context, id, requester uuid.UUID, asOperator bool) (models.Quote, error) {
	quote, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return models.Quote{}, err
	}
	if !asOperator && quote.UserID != requester {
		return models.Quote{}, models.ErrNotFound
	}

	quote = s.lazyExpire(ctx, quote)
	if quote.Status != models.QuotePending {
		return models.Quote{}, models.ErrAlreadyFinal
	}

	target := models.QuoteCanceled
	action := "cancelled"
	eventType := events.QuoteRejected
	if asOperator {
		target = models.QuoteRejected
		action = "rejected"
	}
	if err := s.store.TransitionQuote(ctx, id, models.QuotePending, target); err != nil {
		return models.Quote{}, err
	}
	quote.Status = target

	observability.IncrementQuote(string(quote.Origin), action)
	s.sink.Emit(ctx, events.Event{
		Type:     eventType,
		EntityID: quote.ID,
		UserID:   quote.UserID,
		Fields:   map[string]string{"status": string(target)},
	})
	return quote, nil
}

// ExpireOverdue sweeps pending quotes whose window has closed. The background
// worker calls this; lazy expiry on read already guarantees correctness, the
// sweep just keeps listings and metrics honest for quotes nobody reads.
func (s *QuoteService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOverdueQuotes(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expiring overdue quotes: %w", err)
	}
	if n > 0 {
		zap.L().Info("expired overdue quotes", zap.Int64("count", n))
	}
	return n, nil
}

// lazyExpire flips an overdue pending quote to expired at read time. The
// conditional transition makes concurrent readers idempotent; losing the race
// to an accept is fine because accept re-checks the window itself.
func (s *QuoteService) lazyExpire(ctx context.Context, quote models.Quote) models.Quote {
	if quote.Status != models.QuotePending || !quote.ExpiredAt(s.now().UTC()) {
		return quote
	}
	err := s.store.TransitionQuote(ctx, quote.ID, models.QuotePending, models.QuoteExpired)
	switch {
	case err == nil:
		quote.Status = models.QuoteExpired
		observability.IncrementQuote(string(quote.Origin), "expired")
		s.sink.Emit(ctx, events.Event{
			Type:     events.QuoteExpired,
			EntityID: quote.ID,
			UserID:   quote.UserID,
		})
	case errors.Is(err, models.ErrAlreadyFinal):
		if refreshed, gerr := s.store.GetQuote(ctx, quote.ID); gerr == nil {
			quote = refreshed
		}
	default:
		zap.L().Warn("lazy expiry failed", zap.String("quote_id", quote.ID.String()), zap.Error(err))
	}
	return quote
}

// loadPricingInputs resolves the catalog, rate and fee rows a standard quote
// needs, translating lookup misses into domain errors.
func (s *QuoteService) loadPricingInputs(ctx context.Context, req GenerateRequest) (models.Currency, models.Currency, models.RatePair, models.FeeConfig, error) {
	var zero models.Currency
	if req.TradeType != models.TradeBuy && req.TradeType != models.TradeSell && req.TradeType != models.TradeSwap {
		return zero, zero, models.RatePair{}, models.FeeConfig{}, fmt.Errorf("unknown trade type %q: %w", req.TradeType, models.ErrInvalidAmount)
	}

	from, err := s.store.GetCurrency(ctx, req.FromCurrency)
	if err != nil {
		return zero, zero, models.RatePair{}, models.FeeConfig{}, models.ErrUnknownCurrency
	}
	to, err := s.store.GetCurrency(ctx, req.ToCurrency)
	if err != nil {
		return zero, zero, models.RatePair{}, models.FeeConfig{}, models.ErrUnknownCurrency
	}

	pair, err := s.rates.GetRate(ctx, req.FromCurrency, req.ToCurrency)
	if err != nil {
		return zero, zero, models.RatePair{}, models.FeeConfig{}, err
	}

	fees, err := s.store.GetFeeConfig(ctx)
	if err != nil {
		return zero, zero, models.RatePair{}, models.FeeConfig{}, fmt.Errorf("loading fee config: %w", err)
	}
	return from, to, pair, fees, nil
}

// limitLeg picks the side of the trade that the minimum-trade floor and the
// limits ledger are denominated in. A crypto-to-crypto swap has no fiat leg:
// the fiat floor does not apply, and the gross payout counts against any cap
// configured for the payout asset.
func (s *QuoteService) limitLeg(req GenerateRequest, from, to models.Currency, priced PricingResult) (decimal.Decimal, string, bool) {
	switch {
	case from.Class == models.AssetFiat:
		return req.FromAmount, from.Code, true
	case to.Class == models.AssetFiat:
		return priced.GrossToAmount, to.Code, true
	default:
		return priced.GrossToAmount, to.Code, false
	}
}
