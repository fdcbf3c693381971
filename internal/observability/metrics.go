package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	quoteCounter          *prometheus.CounterVec
	orderCounter          *prometheus.CounterVec
	rateRefreshCounter    *prometheus.CounterVec
	limitRejectionCounter *prometheus.CounterVec
	eventCounter          *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		quoteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotes_total",
			Help: "Quote lifecycle transitions by origin and action",
		}, []string{"origin", "action"})

		orderCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Order creations and status transitions",
		}, []string{"action"})

		rateRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_refreshes_total",
			Help: "Rate refresh outcomes per currency pair",
		}, []string{"result"})

		limitRejectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_limit_rejections_total",
			Help: "Quote generations rejected by the limits ledger",
		}, []string{"currency"})

		eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_events_total",
			Help: "Lifecycle events emitted to the notification sink",
		}, []string{"type"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"event"})

		prometheus.MustRegister(
			httpDurationHistogram,
			quoteCounter,
			orderCounter,
			rateRefreshCounter,
			limitRejectionCounter,
			eventCounter,
			workerRunCounter,
			idempotencyCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementQuote(origin, action string) {
	if quoteCounter == nil {
		return
	}
	quoteCounter.WithLabelValues(origin, action).Inc()
}

func IncrementOrder(action string) {
	if orderCounter == nil {
		return
	}
	orderCounter.WithLabelValues(action).Inc()
}

func IncrementRateRefresh(result string) {
	if rateRefreshCounter == nil {
		return
	}
	rateRefreshCounter.WithLabelValues(result).Inc()
}

func IncrementLimitRejection(currency string) {
	if limitRejectionCounter == nil {
		return
	}
	limitRejectionCounter.WithLabelValues(currency).Inc()
}

func IncrementEvent(eventType string) {
	if eventCounter == nil {
		return
	}
	eventCounter.WithLabelValues(eventType).Inc()
}

func IncrementIdempotencyEvent(event string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(event).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
