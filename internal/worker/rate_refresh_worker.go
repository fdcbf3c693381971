package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/service"
)

// RateRefreshWorker keeps the cached rate table fresh by polling the external
// feed at a fixed interval. A failed cycle leaves the previous rates serving.
type RateRefreshWorker struct {
	rates    *service.RateService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateRefreshWorker constructs a worker with a default 30s interval.
func NewRateRefreshWorker(rates *service.RateService) *RateRefreshWorker {
	return &RateRefreshWorker{
		rates:    rates,
		interval: 30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the refresh interval.
func (w *RateRefreshWorker) WithInterval(interval time.Duration) *RateRefreshWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and refreshes rates at the configured interval.
func (w *RateRefreshWorker) Start(ctx context.Context) {
	zap.L().Info("rate refresh worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup so quoting works before the first tick.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("rate refresh worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("rate refresh worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *RateRefreshWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RateRefreshWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *RateRefreshWorker) runOnce(ctx context.Context) {
	report, err := w.rates.RefreshAll(ctx)
	if err != nil {
		observability.IncrementWorkerRun("rate_refresh", "failed")
		zap.L().Error("rate refresh run failed", zap.Error(err))
		return
	}
	if report.Failed > 0 {
		observability.IncrementWorkerRun("rate_refresh", "partial")
		return
	}
	observability.IncrementWorkerRun("rate_refresh", "success")
}
