// Package metrics exposes Prometheus instrumentation for the trading
// agent: order flow, monitor activity, collaborator failures, and account
// valuation. All collectors are registered at init and served by the
// status API at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_executed_total",
			Help: "Orders committed to the ledger, by action.",
		},
		[]string{"action"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_rejected_total",
			Help: "Instructions rejected by the execution engine, by reason.",
		},
		[]string{"reason"},
	)

	triggersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_monitor_triggers_total",
			Help: "Price monitor triggers processed, by outcome.",
		},
		[]string{"outcome"},
	)

	warningsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_monitor_warnings_total",
			Help: "Pre-alert warnings emitted by the price monitor.",
		},
	)

	collaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_collaborator_errors_total",
			Help: "External collaborator failures, by kind (quote, analysis, notify).",
		},
		[]string{"kind"},
	)

	pollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_monitor_cycle_seconds",
			Help:    "Duration of one monitor poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	accountCash = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_account_cash",
			Help: "Available cash in the trading account.",
		},
	)

	accountAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_account_total_assets",
			Help: "Total assets (cash + position market value).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ordersExecuted,
		ordersRejected,
		triggersProcessed,
		warningsSent,
		collaboratorErrors,
		pollCycleDuration,
		accountCash,
		accountAssets,
	)
}

// OrderExecuted records a committed order.
func OrderExecuted(action string) { ordersExecuted.WithLabelValues(action).Inc() }

// OrderRejected records an instruction rejected by the execution engine.
func OrderRejected(reason string) { ordersRejected.WithLabelValues(reason).Inc() }

// TriggerProcessed records the outcome of one processed trigger: executed,
// risk_rejected, exec_rejected, no_recommendation, or error.
func TriggerProcessed(outcome string) { triggersProcessed.WithLabelValues(outcome).Inc() }

// WarningSent records an emitted pre-alert.
func WarningSent() { warningsSent.Inc() }

// CollaboratorError records an external collaborator failure.
func CollaboratorError(kind string) { collaboratorErrors.WithLabelValues(kind).Inc() }

// ObservePollCycle records the duration of one monitor poll cycle.
func ObservePollCycle(d time.Duration) { pollCycleDuration.Observe(d.Seconds()) }

// SetAccount publishes the current account valuation.
func SetAccount(cash, totalAssets float64) {
	accountCash.Set(cash)
	accountAssets.Set(totalAssets)
}
