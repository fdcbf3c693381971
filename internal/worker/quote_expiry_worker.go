package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/service"
)

// QuoteExpiryWorker sweeps overdue pending quotes to expired. Lazy expiry on
// read already keeps answers correct; the sweep keeps the stored rows and
// metrics honest for quotes nobody reads again.
type QuoteExpiryWorker struct {
	quotes   *service.QuoteService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewQuoteExpiryWorker constructs a worker with a default 1m interval.
func NewQuoteExpiryWorker(quotes *service.QuoteService) *QuoteExpiryWorker {
	return &QuoteExpiryWorker{
		quotes:   quotes,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *QuoteExpiryWorker) WithInterval(interval time.Duration) *QuoteExpiryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *QuoteExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("quote expiry worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("quote expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("quote expiry worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *QuoteExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *QuoteExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *QuoteExpiryWorker) runOnce(ctx context.Context) {
	if _, err := w.quotes.ExpireOverdue(ctx); err != nil {
		observability.IncrementWorkerRun("quote_expiry", "failed")
		zap.L().Error("quote expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("quote_expiry", "success")
}
