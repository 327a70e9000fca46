package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_bridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_bridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PaymentSessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_bridge_sessions_started_total",
			Help: "Total number of payment sessions started",
		},
		[]string{"kind"},
	)

	PaymentSessionsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_bridge_sessions_resolved_total",
			Help: "Total number of payment sessions resolved",
		},
		[]string{"kind", "outcome", "reason"},
	)

	ActivePaymentSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_bridge_active_sessions",
			Help: "Number of payment sessions not yet dismissed",
		},
	)

	DuplicateReturnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_bridge_duplicate_returns_total",
			Help: "Total number of gateway returns ignored as duplicates",
		},
	)

	OptimisticCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_bridge_optimistic_credits_total",
			Help: "Total number of optimistic credits applied",
		},
	)

	OptimisticCoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_bridge_optimistic_coins_total",
			Help: "Total coins credited optimistically",
		},
	)

	OrphanCallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_bridge_orphan_callbacks_total",
			Help: "Total number of gateway returns seen outside a session",
		},
	)

	ResolveCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_bridge_resolve_pending_calls_total",
			Help: "Total number of pending transaction resolve calls",
		},
		[]string{"result"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_bridge_sweep_duration_seconds",
			Help:    "Pending transaction sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_bridge_ledger_calls_total",
			Help: "Total number of ledger API calls",
		},
		[]string{"operation", "status"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordSessionStarted(kind string) {
	PaymentSessionsStartedTotal.WithLabelValues(kind).Inc()
	ActivePaymentSessions.Inc()
}

func RecordSessionClosed() {
	ActivePaymentSessions.Dec()
}

func RecordSessionResolved(kind string, success bool, reason string) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	PaymentSessionsResolvedTotal.WithLabelValues(kind, outcome, reason).Inc()
}

func RecordDuplicateReturn() {
	DuplicateReturnsTotal.Inc()
}

func RecordOptimisticCredit(coins int64) {
	OptimisticCreditsTotal.Inc()
	OptimisticCoinsTotal.Add(float64(coins))
}

func RecordOrphanCallback() {
	OrphanCallbacksTotal.Inc()
}

func RecordResolveCall(result string) {
	ResolveCallsTotal.WithLabelValues(result).Inc()
}

func RecordSweep(duration float64) {
	SweepDuration.Observe(duration)
}

func RecordLedgerCall(operation, status string) {
	LedgerCallsTotal.WithLabelValues(operation, status).Inc()
}
