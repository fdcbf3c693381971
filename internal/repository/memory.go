package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seyio/otc-desk/internal/models"
)

// MemoryStore is an in-process Store used by unit tests and local tooling.
// It mirrors the Postgres semantics exactly: conditional status transitions,
// whole-value rate replacement, and one order per quote.
type MemoryStore struct {
	mu           sync.Mutex
	currencies   map[string]models.Currency
	ratePairs    map[pairKey]models.RatePair
	feeConfig    *models.FeeConfig
	users        map[uuid.UUID]models.User
	destinations map[uuid.UUID]models.SettlementDestination
	quotes       map[uuid.UUID]models.Quote
	orders       map[uuid.UUID]models.Order
	orderByQuote map[uuid.UUID]uuid.UUID
}

type pairKey struct{ from, to string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		currencies:   map[string]models.Currency{},
		ratePairs:    map[pairKey]models.RatePair{},
		users:        map[uuid.UUID]models.User{},
		destinations: map[uuid.UUID]models.SettlementDestination{},
		quotes:       map[uuid.UUID]models.Quote{},
		orders:       map[uuid.UUID]models.Order{},
		orderByQuote: map[uuid.UUID]uuid.UUID{},
	}
}

func (s *MemoryStore) UpsertCurrency(_ context.Context, c models.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now()
	s.currencies[c.Code] = c
	return nil
}

func (s *MemoryStore) GetCurrency(_ context.Context, code string) (models.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.currencies[code]
	if !ok {
		return models.Currency{}, models.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListCurrencies(_ context.Context, activeOnly bool) ([]models.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Currency, 0, len(s.currencies))
	for _, c := range s.currencies {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) ReplaceRatePair(_ context.Context, p models.RatePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratePairs[pairKey{p.FromCurrency, p.ToCurrency}] = p
	return nil
}

func (s *MemoryStore) GetRatePair(_ context.Context, from, to string) (models.RatePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ratePairs[pairKey{from, to}]
	if !ok {
		return models.RatePair{}, models.ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListRatePairs(_ context.Context) ([]models.RatePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RatePair, 0, len(s.ratePairs))
	for _, p := range s.ratePairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromCurrency != out[j].FromCurrency {
			return out[i].FromCurrency < out[j].FromCurrency
		}
		return out[i].ToCurrency < out[j].ToCurrency
	})
	return out, nil
}

func (s *MemoryStore) GetFeeConfig(_ context.Context) (models.FeeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeConfig == nil {
		return models.FeeConfig{}, models.ErrNotFound
	}
	return cloneFeeConfig(*s.feeConfig), nil
}

func (s *MemoryStore) UpdateFeeConfig(_ context.Context, cfg models.FeeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now()
	clone := cloneFeeConfig(cfg)
	s.feeConfig = &clone
	return nil
}

func cloneFeeConfig(cfg models.FeeConfig) models.FeeConfig {
	out := cfg
	out.WithdrawalFees = make(map[string]decimal.Decimal, len(cfg.WithdrawalFees))
	for code, fee := range cfg.WithdrawalFees {
		out.WithdrawalFees[code] = fee
	}
	return out
}

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) SetUserPrivileged(_ context.Context, id uuid.UUID, privileged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.Privileged = privileged
	s.users[id] = u
	return nil
}

func (s *MemoryStore) CreateDestination(_ context.Context, d *models.SettlementDestination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	s.destinations[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDestination(_ context.Context, id uuid.UUID) (models.SettlementDestination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.destinations[id]
	if !ok {
		return models.SettlementDestination{}, models.ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListVerifiedDestinations(_ context.Context, userID uuid.UUID, currency string) ([]models.SettlementDestination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementDestination
	for _, d := range s.destinations {
		if d.UserID != userID || !d.Verified {
			continue
		}
		if currency != "" && d.Currency != currency {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetDestinationVerified(_ context.Context, id uuid.UUID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.destinations[id]
	if !ok {
		return models.ErrNotFound
	}
	d.Verified = verified
	s.destinations[id] = d
	return nil
}

func (s *MemoryStore) CreateQuote(_ context.Context, q *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.ID] = *q
	return nil
}

func (s *MemoryStore) GetQuote(_ context.Context, id uuid.UUID) (models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return models.Quote{}, models.ErrNotFound
	}
	return q, nil
}

func (s *MemoryStore) ListQuotesByUser(_ context.Context, userID uuid.UUID, statuses ...models.QuoteStatus) ([]models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Quote
	for _, q := range s.quotes {
		if q.UserID != userID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, q.Status) {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func containsStatus(statuses []models.QuoteStatus, st models.QuoteStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *MemoryStore) TransitionQuote(_ context.Context, id uuid.UUID, from, to models.QuoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return models.ErrNotFound
	}
	if q.Status != from {
		return models.ErrAlreadyFinal
	}
	q.Status = to
	s.quotes[id] = q
	return nil
}

func (s *MemoryStore) ExpireOverdueQuotes(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, q := range s.quotes {
		if q.Status == models.QuotePending && q.ExpiresAt.Before(cutoff) {
			q.Status = models.QuoteExpired
			s.quotes[id] = q
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AcceptQuoteAndCreateOrder(_ context.Context, now time.Time, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[order.QuoteID]
	if !ok {
		return models.ErrNotFound
	}
	switch {
	case q.Status == models.QuoteAccepted:
		return models.ErrAlreadyAccepted
	case q.Status == models.QuoteExpired,
		q.Status == models.QuotePending && q.ExpiredAt(now):
		return models.ErrQuoteExpired
	case q.Status != models.QuotePending:
		return models.ErrAlreadyFinal
	}
	if _, exists := s.orderByQuote[order.QuoteID]; exists {
		return models.ErrAlreadyAccepted
	}

	q.Status = models.QuoteAccepted
	s.quotes[q.ID] = q

	order.CreatedAt = now
	order.UpdatedAt = now
	s.orders[order.ID] = *order
	s.orderByQuote[order.QuoteID] = order.ID
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetOrderByQuote(_ context.Context, quoteID uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.orderByQuote[quoteID]
	if !ok {
		return models.Order{}, models.ErrNotFound
	}
	return s.orders[id], nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID uuid.UUID) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionOrder(_ context.Context, id uuid.UUID, from, to models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if o.Status != from {
		return models.ErrAlreadyFinal
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}
