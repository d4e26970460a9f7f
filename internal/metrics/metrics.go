package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Execution metrics
	ExecutionsActive    *prometheus.GaugeVec
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionTerminals  *prometheus.CounterVec
	ExecutionsPaused    *prometheus.CounterVec
	ExecutionsResumed   *prometheus.CounterVec

	// Node metrics
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	NodeRetries    *prometheus.CounterVec
	BreakerTrips   *prometheus.CounterVec

	// Child document metrics
	ChildrenCreated    *prometheus.CounterVec
	ChildrenUpdated    *prometheus.CounterVec
	ChildrenSuperseded *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderTokens   *prometheus.CounterVec

	// System metrics
	WorkItemsClaimed *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ExecutionsActive: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "quill_executions_active",
					Help: "Number of in-flight workflow executions",
				},
				[]string{"plan_id"},
			),
			ExecutionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_executions_total",
					Help: "Total workflow executions started",
				},
				[]string{"plan_id"},
			),
			ExecutionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "quill_execution_duration_seconds",
					Help:    "Wall time from start to terminal state",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
				},
				[]string{"plan_id", "terminal"},
			),
			ExecutionTerminals: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_execution_terminals_total",
					Help: "Executions by terminal outcome",
				},
				[]string{"plan_id", "terminal"},
			),
			ExecutionsPaused: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_executions_paused_total",
					Help: "Executions suspended for human input",
				},
				[]string{"plan_id", "node_id"},
			),
			ExecutionsResumed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_executions_resumed_total",
					Help: "Executions resumed with human input",
				},
				[]string{"plan_id"},
			),
			NodeExecutions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_node_executions_total",
					Help: "Node executions by type and outcome",
				},
				[]string{"node_type", "outcome"},
			),
			NodeDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "quill_node_duration_seconds",
					Help:    "Node execution duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~163s
				},
				[]string{"node_type"},
			),
			NodeRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_node_retries_total",
					Help: "Failed outcomes counted by the circuit breaker",
				},
				[]string{"plan_id", "node_id"},
			),
			BreakerTrips: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_breaker_trips_total",
					Help: "Circuit breaker force-routes to the blocked terminal",
				},
				[]string{"plan_id", "node_id"},
			),
			ChildrenCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_children_created_total",
					Help: "Child documents created by spawn passes",
				},
				[]string{"doc_type"},
			),
			ChildrenUpdated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_children_updated_total",
					Help: "Child documents updated in place by spawn passes",
				},
				[]string{"doc_type"},
			),
			ChildrenSuperseded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_children_superseded_total",
					Help: "Child documents marked stale by spawn passes",
				},
				[]string{"doc_type"},
			),
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_provider_requests_total",
					Help: "LLM provider requests",
				},
				[]string{"model"},
			),
			ProviderErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_provider_errors_total",
					Help: "LLM provider failures by error code",
				},
				[]string{"error_code"},
			),
			ProviderTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_provider_tokens_total",
					Help: "Tokens consumed by provider calls",
				},
				[]string{"kind"},
			),
			WorkItemsClaimed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_work_items_claimed_total",
					Help: "Work items claimed by workers",
				},
				[]string{"status"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quill_events_published_total",
					Help: "Notification events published",
				},
				[]string{"type"},
			),
		}
	})
	return sharedMetrics
}
