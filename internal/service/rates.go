package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/domain"
	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/ratefeed"
	"github.com/seyio/otc-desk/internal/repository"
)

// RateService owns the cached rate table: reads serve quoting, refreshes pull
// from the external feed and recompute the marked-up final rates.
type RateService struct {
	store repository.Store
	feed  ratefeed.Feed
	sink  events.Sink
	now   func() time.Time
}

func NewRateService(store repository.Store, feed ratefeed.Feed, sink events.Sink) *RateService {
	return &RateService{store: store, feed: feed, sink: sink, now: time.Now}
}

// WithClock overrides the service clock; test hook.
func (s *RateService) WithClock(now func() time.Time) *RateService {
	s.now = now
	return s
}

// GetRate returns the cached pair for from/to. Quoting never triggers a
// synchronous feed call; a missing pair means the pair is not quotable until
// the next refresh lands.
func (s *RateService) GetRate(ctx context.Context, from, to string) (models.RatePair, error) {
	pair, err := s.store.GetRatePair(ctx, from, to)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.RatePair{}, models.ErrRateUnavailable
		}
		return models.RatePair{}, err
	}
	return pair, nil
}

// ListRates returns the whole cached table for display.
func (s *RateService) ListRates(ctx context.Context) ([]models.RatePair, error) {
	return s.store.ListRatePairs(ctx)
}

// RefreshReport summarizes one refresh cycle.
type RefreshReport struct {
	Refreshed int      `json:"refreshed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RefreshAll re-fetches the base rate for every configured pair and replaces
// each row wholesale. A feed failure for one pair leaves its previous rates
// serving; refresh is per-pair best effort, never all-or-nothing.
func (s *RateService) RefreshAll(ctx context.Context) (RefreshReport, error) {
	pairs, err := s.store.ListRatePairs(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("listing rate pairs: %w", err)
	}
	fees, err := s.store.GetFeeConfig(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("loading fee config: %w", err)
	}

	report := RefreshReport{}
	for _, pair := range pairs {
		base, err := s.feed.FetchBaseRate(ctx, pair.FromCurrency, pair.ToCurrency)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", pair.FromCurrency, pair.ToCurrency, err))
			observability.IncrementRateRefresh("failed")
			zap.L().Warn("rate refresh failed for pair, keeping cached rate",
				zap.String("from", pair.FromCurrency),
				zap.String("to", pair.ToCurrency),
				zap.Error(err))
			continue
		}
		if base.LessThanOrEqual(decimal.Zero) {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: non-positive base rate", pair.FromCurrency, pair.ToCurrency))
			observability.IncrementRateRefresh("rejected")
			continue
		}

		next := models.RatePair{
			FromCurrency:  pair.FromCurrency,
			ToCurrency:    pair.ToCurrency,
			BaseRate:      base,
			BuyMarkup:     fees.BuyMarkupPct,
			SellMarkup:    fees.SellMarkupPct,
			FinalBuyRate:  domain.FinalBuyRate(base, fees.BuyMarkupPct),
			FinalSellRate: domain.FinalSellRate(base, fees.SellMarkupPct),
			UpdatedAt:     s.now().UTC(),
		}
		if err := s.store.ReplaceRatePair(ctx, next); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", pair.FromCurrency, pair.ToCurrency, err))
			observability.IncrementRateRefresh("failed")
			continue
		}
		report.Refreshed++
		observability.IncrementRateRefresh("ok")
	}

	zap.L().Info("rate refresh cycle complete",
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", report.Failed))
	s.sink.Emit(ctx, events.Event{
		Type: events.RatesRefreshed,
		Fields: map[string]string{
			"refreshed": fmt.Sprintf("%d", report.Refreshed),
			"failed":    fmt.Sprintf("%d", report.Failed),
		},
	})
	return report, nil
}

// EnsurePair registers a new (from, to) pair with an immediate fetch so it
// becomes quotable without waiting for the next scheduled refresh.
func (s *RateService) EnsurePair(ctx context.Context, from, to string) (models.RatePair, error) {
	if from == to {
		return models.RatePair{}, models.ErrSameCurrency
	}
	if _, err := s.store.GetCurrency(ctx, from); err != nil {
		return models.RatePair{}, models.ErrUnknownCurrency
	}
	if _, err := s.store.GetCurrency(ctx, to); err != nil {
		return models.RatePair{}, models.ErrUnknownCurrency
	}

	base, err := s.feed.FetchBaseRate(ctx, from, to)
	if err != nil {
		return models.RatePair{}, fmt.Errorf("fetching initial rate for %s/%s: %w", from, to, err)
	}
	fees, err := s.store.GetFeeConfig(ctx)
	if err != nil {
		return models.RatePair{}, fmt.Errorf("loading fee config: %w", err)
	}

	pair := models.RatePair{
		FromCurrency:  from,
		ToCurrency:    to,
		BaseRate:      base,
		BuyMarkup:     fees.BuyMarkupPct,
		SellMarkup:    fees.SellMarkupPct,
		FinalBuyRate:  domain.FinalBuyRate(base, fees.BuyMarkupPct),
		FinalSellRate: domain.FinalSellRate(base, fees.SellMarkupPct),
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.store.ReplaceRatePair(ctx, pair); err != nil {
		return models.RatePair{}, err
	}
	return pair, nil
}
