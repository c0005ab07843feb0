package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts orders accepted through the REST API
var OrdersSubmitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderexec_orders_submitted_total",
		Help: "Total number of orders accepted for execution",
	},
)

// OrdersTerminal counts orders that reached a terminal status
var OrdersTerminal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderexec_orders_terminal_total",
		Help: "Total number of orders per terminal status",
	},
	[]string{"status"},
)

// JobAttempts counts job executions by outcome (ok, transient, fatal)
var JobAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderexec_job_attempts_total",
		Help: "Total number of job execution attempts by outcome",
	},
	[]string{"outcome"},
)

// JobRetries counts jobs rescheduled after a transient failure
var JobRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderexec_job_retries_total",
		Help: "Total number of jobs rescheduled for retry",
	},
)

// SlippageRejections counts orders failed by the slippage guard
var SlippageRejections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderexec_slippage_rejections_total",
		Help: "Total number of executions rejected for exceeding slippage tolerance",
	},
)

// OrderLatency records latency distribution for full order processing
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "orderexec_order_processing_latency_seconds",
		Help:    "Latency in seconds from job pickup to terminal status",
		Buckets: prometheus.DefBuckets,
	},
)

// StreamClients tracks currently connected status-stream clients
var StreamClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "orderexec_stream_clients",
		Help: "Number of connected websocket status subscribers",
	},
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersTerminal, JobAttempts, JobRetries)
	prometheus.MustRegister(SlippageRejections, OrderLatency, StreamClients)
}
