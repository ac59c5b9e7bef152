// Package metrics provides Prometheus metrics collection for BillGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for BillGate.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Webhook metrics
	WebhookEvents     *prometheus.CounterVec
	WebhookDuration   *prometheus.HistogramVec
	WebhookDuplicates prometheus.Counter

	// Quota gate metrics
	GateDecisions *prometheus.CounterVec

	// Cost breaker metrics
	BreakerBlocks        *prometheus.CounterVec
	BreakerSpendCents    *prometheus.GaugeVec
	BreakerStoreFailures prometheus.Counter

	// Usage reporting metrics
	UsageReports *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileRuns       prometheus.Counter
	ReconcileMismatches *prometheus.CounterVec
	ReconcileLastRun    prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on a custom registry. Useful for
// testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billgate",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "webhook_events_total",
				Help:      "Billing webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billgate",
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"event_type"},
		),
		WebhookDuplicates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "webhook_duplicates_total",
				Help:      "Webhook deliveries suppressed by the idempotency ledger",
			},
		),

		GateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "gate_decisions_total",
				Help:      "Usage gate decisions by tier and outcome",
			},
			[]string{"tier", "allowed"},
		),

		BreakerBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "breaker_blocks_total",
				Help:      "Requests blocked by the cost circuit breaker, by layer",
			},
			[]string{"layer"},
		),
		BreakerSpendCents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "breaker_spend_cents",
				Help:      "Observed spend in the current window, by layer",
			},
			[]string{"layer"},
		),
		BreakerStoreFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "breaker_store_failures_total",
				Help:      "Cost counter store errors (breaker fails open)",
			},
		),

		UsageReports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "usage_reports_total",
				Help:      "Provider usage report attempts by outcome",
			},
			[]string{"outcome"},
		),

		ReconcileRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "reconcile_runs_total",
				Help:      "Total reconciliation job runs",
			},
		),
		ReconcileMismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "reconcile_mismatches_total",
				Help:      "Reconciliation findings by kind",
			},
			[]string{"kind"},
		),
		ReconcileLastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "reconcile_last_run_timestamp",
				Help:      "Unix timestamp of the last reconciliation run",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
