package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/seyio/otc-desk/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) UpsertCurrency(ctx context.Context, c models.Currency) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO currencies (code, decimals, class, active, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (code) DO UPDATE
		SET decimals = EXCLUDED.decimals, class = EXCLUDED.class,
		    active = EXCLUDED.active, updated_at = NOW()`,
		c.Code, c.Decimals, c.Class, c.Active)
	if err != nil {
		return fmt.Errorf("upsert currency: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCurrency(ctx context.Context, code string) (models.Currency, error) {
	var c models.Currency
	err := s.db.QueryRow(ctx, `
		SELECT code, decimals, class, active, updated_at
		FROM currencies WHERE code = $1`, code).
		Scan(&c.Code, &c.Decimals, &c.Class, &c.Active, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Currency{}, models.ErrNotFound
		}
		return models.Currency{}, fmt.Errorf("get currency: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCurrencies(ctx context.Context, activeOnly bool) ([]models.Currency, error) {
	query := `SELECT code, decimals, class, active, updated_at FROM currencies ORDER BY code`
	if activeOnly {
		query = `SELECT code, decimals, class, active, updated_at FROM currencies WHERE active ORDER BY code`
	}
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var out []models.Currency
	for rows.Next() {
		var c models.Currency
		if err := rows.Scan(&c.Code, &c.Decimals, &c.Class, &c.Active, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceRatePair(ctx context.Context, p models.RatePair) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rate_pairs (from_currency, to_currency, base_rate, buy_markup,
			sell_markup, final_buy_rate, final_sell_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (from_currency, to_currency) DO UPDATE
		SET base_rate = EXCLUDED.base_rate, buy_markup = EXCLUDED.buy_markup,
		    sell_markup = EXCLUDED.sell_markup, final_buy_rate = EXCLUDED.final_buy_rate,
		    final_sell_rate = EXCLUDED.final_sell_rate, updated_at = EXCLUDED.updated_at`,
		p.FromCurrency, p.ToCurrency, p.BaseRate, p.BuyMarkup,
		p.SellMarkup, p.FinalBuyRate, p.FinalSellRate, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("replace rate pair: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRatePair(ctx context.Context, from, to string) (models.RatePair, error) {
	var p models.RatePair
	err := s.db.QueryRow(ctx, `
		SELECT from_currency, to_currency, base_rate, buy_markup, sell_markup,
		       final_buy_rate, final_sell_rate, updated_at
		FROM rate_pairs WHERE from_currency = $1 AND to_currency = $2`, from, to).
		Scan(&p.FromCurrency, &p.ToCurrency, &p.BaseRate, &p.BuyMarkup,
			&p.SellMarkup, &p.FinalBuyRate, &p.FinalSellRate, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RatePair{}, models.ErrNotFound
		}
		return models.RatePair{}, fmt.Errorf("get rate pair: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListRatePairs(ctx context.Context) ([]models.RatePair, error) {
	rows, err := s.db.Query(ctx, `
		SELECT from_currency, to_currency, base_rate, buy_markup, sell_markup,
		       final_buy_rate, final_sell_rate, updated_at
		FROM rate_pairs ORDER BY from_currency, to_currency`)
	if err != nil {
		return nil, fmt.Errorf("list rate pairs: %w", err)
	}
	defer rows.Close()

	var out []models.RatePair
	for rows.Next() {
		var p models.RatePair
		if err := rows.Scan(&p.FromCurrency, &p.ToCurrency, &p.BaseRate, &p.BuyMarkup,
			&p.SellMarkup, &p.FinalBuyRate, &p.FinalSellRate, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rate pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetFeeConfig(ctx context.Context) (models.FeeConfig, error) {
	var cfg models.FeeConfig
	var feesJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT admin_fee_pct, buy_markup_pct, sell_markup_pct, withdrawal_fees,
		       min_trade_fiat, updated_at
		FROM fee_config WHERE id = 1`).
		Scan(&cfg.AdminFeePct, &cfg.BuyMarkupPct, &cfg.SellMarkupPct, &feesJSON,
			&cfg.MinTradeFiat, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FeeConfig{}, models.ErrNotFound
		}
		return models.FeeConfig{}, fmt.Errorf("get fee config: %w", err)
	}
	cfg.WithdrawalFees = map[string]decimal.Decimal{}
	if len(feesJSON) > 0 {
		if err := json.Unmarshal(feesJSON, &cfg.WithdrawalFees); err != nil {
			return models.FeeConfig{}, fmt.Errorf("decode withdrawal fees: %w", err)
		}
	}
	return cfg, nil
}

func (s *PostgresStore) UpdateFeeConfig(ctx context.Context, cfg models.FeeConfig) error {
	feesJSON, err := json.Marshal(cfg.WithdrawalFees)
	if err != nil {
		return fmt.Errorf("encode withdrawal fees: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO fee_config (id, admin_fee_pct, buy_markup_pct, sell_markup_pct,
			withdrawal_fees, min_trade_fiat, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET admin_fee_pct = EXCLUDED.admin_fee_pct,
		    buy_markup_pct = EXCLUDED.buy_markup_pct,
		    sell_markup_pct = EXCLUDED.sell_markup_pct,
		    withdrawal_fees = EXCLUDED.withdrawal_fees,
		    min_trade_fiat = EXCLUDED.min_trade_fiat,
		    updated_at = NOW()`,
		cfg.AdminFeePct, cfg.BuyMarkupPct, cfg.SellMarkupPct, feesJSON, cfg.MinTradeFiat)
	if err != nil {
		return fmt.Errorf("update fee config: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, role, privileged, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`,
		u.ID, u.Email, u.Role, u.Privileged).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, role, privileged, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Role, &u.Privileged, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, models.ErrNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SetUserPrivileged(ctx context.Context, id uuid.UUID, privileged bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET privileged = $1 WHERE id = $2`, privileged, id)
	if err != nil {
		return fmt.Errorf("set user privileged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateDestination(ctx context.Context, d *models.SettlementDestination) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO settlement_destinations (id, user_id, kind, currency, label, details, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING created_at`,
		d.ID, d.UserID, d.Kind, d.Currency, d.Label, d.Details, d.Verified).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDestination(ctx context.Context, id uuid.UUID) (models.SettlementDestination, error) {
	var d models.SettlementDestination
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, kind, currency, label, details, verified, created_at
		FROM settlement_destinations WHERE id = $1`, id).
		Scan(&d.ID, &d.UserID, &d.Kind, &d.Currency, &d.Label, &d.Details, &d.Verified, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SettlementDestination{}, models.ErrNotFound
		}
		return models.SettlementDestination{}, fmt.Errorf("get destination: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListVerifiedDestinations(ctx context.Context, userID uuid.UUID, currency string) ([]models.SettlementDestination, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, kind, currency, label, details, verified, created_at
		FROM settlement_destinations
		WHERE user_id = $1 AND verified AND ($2 = '' OR currency = $2)
		ORDER BY created_at`, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementDestination
	for rows.Next() {
		var d models.SettlementDestination
		if err := rows.Scan(&d.ID, &d.UserID, &d.Kind, &d.Currency, &d.Label, &d.Details, &d.Verified, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetDestinationVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE settlement_destinations SET verified = $1 WHERE id = $2`, verified, id)
	if err != nil {
		return fmt.Errorf("set destination verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

const quoteColumns = `id, user_id, origin, operator_id, trade_type, from_currency, to_currency,
	from_amount, rate, gross_to_amount, admin_fee, withdrawal_fee, total_fee, net_to_amount,
	status, justification, operator_notes, created_at, expires_at`

func scanQuote(row pgx.Row) (models.Quote, error) {
	var q models.Quote
	err := row.Scan(&q.ID, &q.UserID, &q.Origin, &q.OperatorID, &q.TradeType,
		&q.FromCurrency, &q.ToCurrency, &q.FromAmount, &q.Rate, &q.GrossToAmount,
		&q.AdminFee, &q.WithdrawalFee, &q.TotalFee, &q.NetToAmount, &q.Status,
		&q.Justification, &q.OperatorNotes, &q.CreatedAt, &q.ExpiresAt)
	return q, err
}

func (s *PostgresStore) CreateQuote(ctx context.Context, q *models.Quote) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO quotes (`+quoteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		q.ID, q.UserID, q.Origin, q.OperatorID, q.TradeType, q.FromCurrency, q.ToCurrency,
		q.FromAmount, q.Rate, q.GrossToAmount, q.AdminFee, q.WithdrawalFee, q.TotalFee,
		q.NetToAmount, q.Status, q.Justification, q.OperatorNotes, q.CreatedAt, q.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create quote: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id uuid.UUID) (models.Quote, error) {
	q, err := scanQuote(s.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Quote{}, models.ErrNotFound
		}
		return models.Quote{}, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQuotesByUser(ctx context.Context, userID uuid.UUID, statuses ...models.QuoteStatus) ([]models.Quote, error) {
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+quoteColumns+` FROM quotes
		WHERE user_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC`, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var out []models.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TransitionQuote(ctx context.Context, id uuid.UUID, from, to models.QuoteStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE quotes SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition quote: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetQuote(ctx, id); err != nil {
		return err
	}
	return models.ErrAlreadyFinal
}

func (s *PostgresStore) ExpireOverdueQuotes(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE quotes SET status = $1 WHERE status = $2 AND expires_at < $3`,
		models.QuoteExpired, models.QuotePending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire overdue quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AcceptQuoteAndCreateOrder(ctx context.Context, now time.Time, order *models.Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin accept transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The window is inclusive of the expiry instant, matching Quote.ExpiredAt.
	tag, err := tx.Exec(ctx, `
		UPDATE quotes SET status = $1
		WHERE id = $2 AND status = $3 AND expires_at >= $4`,
		models.QuoteAccepted, order.QuoteID, models.QuotePending, now)
	if err != nil {
		return fmt.Errorf("accept quote: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return s.classifyAcceptConflict(ctx, order.QuoteID, now)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, quote_id, user_id, transaction_ref, trade_type,
			from_currency, to_currency, from_amount, rate, gross_to_amount,
			admin_fee, withdrawal_fee, total_fee, net_to_amount,
			destination_id, destination_kind, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING created_at, updated_at`,
		order.ID, order.QuoteID, order.UserID, order.TransactionRef, order.TradeType,
		order.FromCurrency, order.ToCurrency, order.FromAmount, order.Rate, order.GrossToAmount,
		order.AdminFee, order.WithdrawalFee, order.TotalFee, order.NetToAmount,
		order.DestinationID, order.DestinationKind, order.Status).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrAlreadyAccepted
		}
		return fmt.Errorf("create order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit accept transaction: %w", err)
	}
	return nil
}

// classifyAcceptConflict turns a zero-row conditional accept into the precise
// lifecycle error the caller surfaces to the user.
func (s *PostgresStore) classifyAcceptConflict(ctx context.Context, quoteID uuid.UUID, now time.Time) error {
	q, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	switch {
	case q.Status == models.QuoteAccepted:
		return models.ErrAlreadyAccepted
	case q.Status == models.QuotePending && q.ExpiredAt(now):
		return models.ErrQuoteExpired
	case q.Status == models.QuoteExpired:
		return models.ErrQuoteExpired
	default:
		return models.ErrAlreadyFinal
	}
}

const orderColumns = `id, quote_id, user_id, transaction_ref, trade_type, from_currency,
	to_currency, from_amount, rate, gross_to_amount, admin_fee, withdrawal_fee, total_fee,
	net_to_amount, destination_id, destination_kind, status, created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.QuoteID, &o.UserID, &o.TransactionRef, &o.TradeType,
		&o.FromCurrency, &o.ToCurrency, &o.FromAmount, &o.Rate, &o.GrossToAmount,
		&o.AdminFee, &o.WithdrawalFee, &o.TotalFee, &o.NetToAmount,
		&o.DestinationID, &o.DestinationKind, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, models.ErrNotFound
		}
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) GetOrderByQuote(ctx context.Context, quoteID uuid.UUID) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE quote_id = $1`, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, models.ErrNotFound
		}
		return models.Order{}, fmt.Errorf("get order by quote: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TransitionOrder(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return err
	}
	return models.ErrAlreadyFinal
}
