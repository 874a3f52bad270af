// Package metrics: Prometheus-метрики пайплайна, отдаются на /metrics
// админского сервера.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_signals_total",
			Help: "Routed signals by pattern and result",
		},
		[]string{"pattern", "result"},
	)

	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_gate_decisions_total",
			Help: "Gate decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_orders_total",
			Help: "Order executions by exchange, side and final status",
		},
		[]string{"exchange", "side", "status"},
	)

	OrderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_order_duration_seconds",
			Help:    "Execution duration including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"exchange", "side"},
	)

	FanOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_fanout_sends_total",
			Help: "Copy-trade submissions by result",
		},
		[]string{"result"},
	)

	Panic = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_panic_actions_total",
			Help: "Panic controller actions by action and status",
		},
		[]string{"action", "status"},
	)

	TraceFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_trace_faults_total",
			Help: "Swallowed trace write failures",
		},
	)

	Tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_total",
			Help: "Broker task executions by task and result",
		},
		[]string{"task", "result"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Buffered tasks per queue",
		},
		[]string{"queue"},
	)

	ArmedMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_armed_monitors",
			Help: "Running gate monitors",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Signals,
		GateDecisions,
		Orders,
		OrderDuration,
		FanOut,
		Panic,
		TraceFaults,
		Tasks,
		QueueDepth,
		ArmedMonitors,
	)
}
