package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/repository"
)

// AccountService covers the supporting surfaces around the trading core:
// users, settlement destinations, the currency catalog and the fee config.
type AccountService struct {
	store repository.Store
	now   func() time.Time
}

func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store, now: time.Now}
}

func (s *AccountService) CreateUser(ctx context.Context, email, role string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, fmt.Errorf("invalid email: %w", models.ErrInvalidAmount)
	}
	if role != models.RoleCustomer && role != models.RoleOperator {
		role = models.RoleCustomer
	}
	user := models.User{
		ID:        uuid.New(),
		Email:     email,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.store.GetUser(ctx, id)
}

// SetPrivileged flips a user's eligibility for operator-issued quotes.
func (s *AccountService) SetPrivileged(ctx context.Context, id uuid.UUID, privileged bool) error {
	if err := s.store.SetUserPrivileged(ctx, id, privileged); err != nil {
		return err
	}
	zap.L().Info("user privilege updated",
		zap.String("user_id", id.String()),
		zap.Bool("privileged", privileged))
	return nil
}

// AddDestination registers a settlement destination. It is created unverified;
// an operator verifies it before it can receive settlements.
func (s *AccountService) AddDestination(ctx context.Context, userID uuid.UUID, kind models.DestinationKind, currency, label, details string) (models.SettlementDestination, error) {
	if kind != models.DestinationBank && kind != models.DestinationWallet {
		return models.SettlementDestination{}, fmt.Errorf("unknown destination kind %q: %w", kind, models.ErrDestinationMismatch)
	}
	cur, err := s.store.GetCurrency(ctx, currency)
	if err != nil {
		return models.SettlementDestination{}, models.ErrUnknownCurrency
	}
	if kind == models.DestinationBank && cur.Class != models.AssetFiat {
		return models.SettlementDestination{}, models.ErrDestinationMismatch
	}
	if kind == models.DestinationWallet && cur.Class != models.AssetCrypto {
		return models.SettlementDestination{}, models.ErrDestinationMismatch
	}
	if strings.TrimSpace(details) == "" {
		return models.SettlementDestination{}, models.ErrDestinationRequired
	}

	dest := models.SettlementDestination{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Currency:  currency,
		Label:     label,
		Details:   details,
		Verified:  false,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateDestination(ctx, &dest); err != nil {
		return models.SettlementDestination{}, err
	}
	return dest, nil
}

func (s *AccountService) ListVerifiedDestinations(ctx context.Context, userID uuid.UUID, currency string) ([]models.SettlementDestination, error) {
	return s.store.ListVerifiedDestinations(ctx, userID, currency)
}

// VerifyDestination is the operator action that makes a destination usable.
func (s *AccountService) VerifyDestination(ctx context.Context, id uuid.UUID, verified bool) error {
	return s.store.SetDestinationVerified(ctx, id, verified)
}

// Currency catalog management.

func (s *AccountService) UpsertCurrency(ctx context.Context, c models.Currency) (models.Currency, error) {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return models.Currency{}, models.ErrUnknownCurrency
	}
	if c.Class != models.AssetFiat && c.Class != models.AssetCrypto {
		return models.Currency{}, fmt.Errorf("unknown asset class %q: %w", c.Class, models.ErrUnknownCurrency)
	}
	if c.Decimals < 0 || c.Decimals > 18 {
		return models.Currency{}, fmt.Errorf("decimals out of range: %w", models.ErrInvalidAmount)
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertCurrency(ctx, c); err != nil {
		return models.Currency{}, err
	}
	return c, nil
}

func (s *AccountService) ListCurrencies(ctx context.Context, activeOnly bool) ([]models.Currency, error) {
	return s.store.ListCurrencies(ctx, activeOnly)
}

// Fee configuration.

func (s *AccountService) GetFeeConfig(ctx context.Context) (models.FeeConfig, error) {
	return s.store.GetFeeConfig(ctx)
}

// UpdateFeeConfig replaces the global fee row. Percentages are sanity-bounded;
// a fat-fingered 30 where 0.30 was meant should not silently triple prices.
func (s *AccountService) UpdateFeeConfig(ctx context.Context, cfg models.FeeConfig) (models.FeeConfig, error) {
	one := decimal.NewFromInt(1)
	for _, pct := range []decimal.Decimal{cfg.AdminFeePct, cfg.BuyMarkupPct, cfg.SellMarkupPct} {
		if pct.IsNegative() || pct.GreaterThan(one) {
			return models.FeeConfig{}, fmt.Errorf("percentage out of [0,1]: %w", models.ErrInvalidAmount)
		}
	}
	for code, fee := range cfg.WithdrawalFees {
		if fee.IsNegative() {
			return models.FeeConfig{}, fmt.Errorf("negative withdrawal fee for %s: %w", code, models.ErrInvalidAmount)
		}
	}
	if cfg.MinTradeFiat.IsNegative() {
		return models.FeeConfig{}, models.ErrInvalidAmount
	}
	cfg.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateFeeConfig(ctx, cfg); err != nil {
		return models.FeeConfig{}, err
	}
	zap.L().Info("fee config updated")
	return cfg, nil
}
