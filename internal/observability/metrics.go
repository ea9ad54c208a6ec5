package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// ChargesTotal counts finalized charges by status, plus idempotent replays.
	ChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_total",
			Help: "Charges by resulting status.",
		},
		[]string{"status"},
	)
	// RefundsTotal counts refund attempts by outcome.
	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_refunds_total",
			Help: "Refund attempts by outcome.",
		},
		[]string{"outcome"},
	)
	// FraudAlertsTotal counts raised alerts.
	FraudAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_fraud_alerts_total",
			Help: "Fraud alerts by rule and severity.",
		},
		[]string{"rule", "severity"},
	)
	// SettlementAttemptsTotal counts individual gateway calls.
	SettlementAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_settlement_attempts_total",
			Help: "Settlement gateway attempts by outcome.",
		},
		[]string{"outcome"},
	)
	// SettlementPoolWait observes how long callers wait for a gateway connection.
	SettlementPoolWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_settlement_pool_wait_seconds",
			Help:    "Time spent waiting for a settlement connection.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
	)
)

// NewMetricsMiddleware Creates HTTP middleware for collecting Prometheus metrics.
// Paths are labelled by route pattern so ids do not explode cardinality.
func NewMetricsMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				path := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						path = pattern
					}
				}

				httpRequestDuration.WithLabelValues(serviceName, r.Method, path).Observe(duration.Seconds())
				httpRequestsTotal.WithLabelValues(serviceName, r.Method, path, strconv.Itoa(ww.Status())).Inc()
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
