// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. Construct once per
// process; promauto registers every metric with the default registry.
type Metrics struct {
	// Pipeline metrics
	RunsTotal    *prometheus.CounterVec
	StepFailures prometheus.Counter

	// Entry metrics
	SignalsAdmitted prometheus.Counter
	SignalsDenied   *prometheus.CounterVec
	FillsTotal      *prometheus.CounterVec
	OrdersExpired   prometheus.Counter
	OrdersRejected  prometheus.Counter

	// Exit metrics
	CompletionsTotal *prometheus.CounterVec
	NetR             prometheus.Histogram

	// Book metrics
	ActiveTrades  prometheus.Gauge
	PendingOrders prometheus.Gauge

	// Journal metrics
	JournalWriteErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradecore"
	}

	return &Metrics{
		// Pipeline metrics
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by trigger and status",
		}, []string{"trigger", "status"}),
		StepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_failures_total",
			Help:      "Total number of position steps that failed and were isolated",
		}),

		// Entry metrics
		SignalsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "signals_admitted_total",
			Help:      "Total number of signals admitted to the pending book",
		}),
		SignalsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "signals_denied_total",
			Help:      "Total number of signals denied admission by violation code",
		}, []string{"violation"}),
		FillsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "fills_total",
			Help:      "Total number of entry fills by entry type",
		}, []string{"entry_type"}),
		OrdersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "orders_expired_total",
			Help:      "Total number of limit orders expired unfilled",
		}),
		OrdersRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "orders_rejected_total",
			Help:      "Total number of orders rejected by the validity check",
		}),

		// Exit metrics
		CompletionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exit",
			Name:      "completions_total",
			Help:      "Total number of completed trades by exit reason",
		}, []string{"reason"}),
		NetR: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exit",
			Name:      "net_r",
			Help:      "Net R distribution of completed trades",
			Buckets:   []float64{-2, -1, -0.5, -0.25, 0, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		}),

		// Book metrics
		ActiveTrades: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "active_trades",
			Help:      "Current number of open positions",
		}),
		PendingOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "pending_orders",
			Help:      "Current number of pending orders",
		}),

		// Journal metrics
		JournalWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Total number of failed journal writes",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
