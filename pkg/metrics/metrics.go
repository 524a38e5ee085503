package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	NodesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loom_nodes_by_state",
			Help: "Number of nodes currently in each execution state",
		},
		[]string{"state"},
	)

	NodesExecuting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_nodes_executing",
			Help: "Number of node executions currently running on the scheduler",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_dispatch_latency_seconds",
			Help:    "Time taken by one dispatch pass to select and launch runnable nodes",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodeExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_node_execution_duration_seconds",
			Help:    "Time taken by a single node execute() call",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodesExecutedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_nodes_executed_total",
			Help: "Total number of node executions that completed successfully",
		},
	)

	NodesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_nodes_failed_total",
			Help: "Total number of node executions that raised an error",
		},
	)

	DirtyPropagationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_dirty_propagations_total",
			Help: "Total number of nodes marked dirty, including recursive successor propagation",
		},
	)

	RunsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_runs_completed_total",
			Help: "Total number of runs that reached an empty executing set, by outcome",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	// Client fabric metrics
	ClientMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_client_messages_total",
			Help: "Total number of client fabric messages by direction",
		},
		[]string{"direction"}, // "inbound" or "outbound"
	)

	ClientsAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_clients_attached",
			Help: "Number of currently attached execution clients",
		},
	)

	PendingMessagesQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_pending_messages_queued",
			Help: "Number of client messages queued against targets that do not yet exist",
		},
	)

	// Worker transport metrics
	TransportFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_transport_frames_total",
			Help: "Total number of wire protocol frames by direction",
		},
		[]string{"direction"}, // "sent" or "received"
	)

	TransportErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_transport_errors_total",
			Help: "Total number of framing or decode errors on the host<->worker transport",
		},
	)

	// Data store metrics
	DataStoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_data_store_writes_total",
			Help: "Total number of property/data writes by owner kind",
		},
		[]string{"owner_kind"}, // "node" or "package"
	)
)

func init() {
	prometheus.MustRegister(NodesByState)
	prometheus.MustRegister(NodesExecuting)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(NodeExecutionDuration)
	prometheus.MustRegister(NodesExecutedTotal)
	prometheus.MustRegister(NodesFailedTotal)
	prometheus.MustRegister(DirtyPropagationsTotal)
	prometheus.MustRegister(RunsCompletedTotal)

	prometheus.MustRegister(ClientMessagesTotal)
	prometheus.MustRegister(ClientsAttached)
	prometheus.MustRegister(PendingMessagesQueued)

	prometheus.MustRegister(TransportFramesTotal)
	prometheus.MustRegister(TransportErrorsTotal)

	prometheus.MustRegister(DataStoreWritesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
