package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/seyio/otc-desk/internal/models"
)

// Ledger enforces per-user trading caps. The quote lifecycle consults it
// before a quote is issued. Expiry and rejection leave the spend counted:
// caps bound issuance over a window, they are not an exact settlement ledger.
type Ledger interface {
	// CheckAndReserve counts amount against the user's daily and monthly
	// caps for the currency. Returns ErrLimitExceeded when either cap would
	// be breached; the reservation is rolled back in that case.
	CheckAndReserve(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error
}

// Caps holds the configured ceilings per currency. A missing entry means no cap.
type Caps struct {
	Daily   map[string]decimal.Decimal
	Monthly map[string]decimal.Decimal
}

// amounts are tracked in micro-units so Redis counters stay integral.
const microShift = 6

func toMicros(d decimal.Decimal) int64 {
	return d.Shift(microShift).IntPart()
}

// RedisLedger tracks consumption in Redis counters keyed by user, currency
// and window, expiring with the window.
type RedisLedger struct {
	client redis.Cmdable
	caps   Caps
	now    func() time.Time
}

func NewRedisLedger(client redis.Cmdable, caps Caps) *RedisLedger {
	return &RedisLedger{client: client, caps: caps, now: time.Now}
}

func (l *RedisLedger) CheckAndReserve(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	micros := toMicros(amount)
	if micros <= 0 {
		return models.ErrInvalidAmount
	}
	now := l.now().UTC()

	type window struct {
		key string
		cap decimal.Decimal
		ttl time.Duration
	}
	windows := make([]window, 0, 2)
	if cap, ok := l.caps.Daily[currency]; ok {
		windows = append(windows, window{
			key: fmt.Sprintf("limits:%s:%s:d:%s", userID, currency, now.Format("20060102")),
			cap: cap,
			ttl: 48 * time.Hour,
		})
	}
	if cap, ok := l.caps.Monthly[currency]; ok {
		windows = append(windows, window{
			key: fmt.Sprintf("limits:%s:%s:m:%s", userID, currency, now.Format("200601")),
			cap: cap,
			ttl: 32 * 24 * time.Hour,
		})
	}

	reserved := make([]string, 0, len(windows))
	rollback := func() {
		for _, key := range reserved {
			if err := l.client.DecrBy(ctx, key, micros).Err(); err != nil {
				// Counter drift self-corrects when the window expires.
				_ = err
			}
		}
	}

	for _, w := range windows {
		total, err := l.client.IncrBy(ctx, w.key, micros).Result()
		if err != nil {
			rollback()
			return fmt.Errorf("limits ledger unavailable: %w", models.ErrUnavailable)
		}
		reserved = append(reserved, w.key)
		l.client.Expire(ctx, w.key, w.ttl)
		if total > toMicros(w.cap) {
			rollback()
			return models.ErrLimitExceeded
		}
	}
	return nil
}

// MemoryLedger is an in-process Ledger with the same windowing semantics,
// used by unit tests.
type MemoryLedger struct {
	mu     sync.Mutex
	caps   Caps
	counts map[string]int64
	now    func() time.Time
}

func NewMemoryLedger(caps Caps) *MemoryLedger {
	return &MemoryLedger{caps: caps, counts: map[string]int64{}, now: time.Now}
}

// WithClock overrides the ledger clock; test hook.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) CheckAndReserve(_ context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	micros := toMicros(amount)
	if micros <= 0 {
		return models.ErrInvalidAmount
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	dayKey := fmt.Sprintf("%s:%s:d:%s", userID, currency, now.Format("20060102"))
	monthKey := fmt.Sprintf("%s:%s:m:%s", userID, currency, now.Format("200601"))

	if cap, ok := l.caps.Daily[currency]; ok {
		if l.counts[dayKey]+micros > toMicros(cap) {
			return models.ErrLimitExceeded
		}
	}
	if cap, ok := l.caps.Monthly[currency]; ok {
		if l.counts[monthKey]+micros > toMicros(cap) {
			return models.ErrLimitExceeded
		}
	}
	l.counts[dayKey] += micros
	l.counts[monthKey] += micros
	return nil
}
