// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the streaming task core.
type Metrics struct {
	// Orchestrator / task lifecycle
	TaskTransitionsTotal *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	TasksInFlight        prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// EventQueue metrics
	EventsEnqueuedTotal *prometheus.CounterVec
	ConsumerLaggedTotal *prometheus.CounterVec
	ActiveQueues        prometheus.Gauge

	// ToolInvoker metrics
	ToolInvocationsTotal    *prometheus.CounterVec
	ToolInvocationDuration  *prometheus.HistogramVec
	ToolInvocationRetries   *prometheus.CounterVec

	// CryptoCache metrics
	CryptoCacheHitsTotal   *prometheus.CounterVec
	CryptoCacheMissesTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_transitions_total",
				Help: "Total number of task state transitions",
			},
			[]string{"service", "from_state", "to_state"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Duration of a task from submission to terminal state",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service", "final_state"},
		),
		TasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tasks_in_flight",
				Help: "Current number of non-terminal tasks",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "kind", "operation"},
		),

		EventsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_queue_enqueued_total",
				Help: "Total number of events enqueued",
			},
			[]string{"service", "event_type"},
		),
		ConsumerLaggedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_consumer_lagged_total",
				Help: "Total number of times a consumer observed a lagged-by-N signal",
			},
			[]string{"service"},
		),
		ActiveQueues: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "event_queues_active",
				Help: "Current number of live event queues (including tapped children)",
			},
		),

		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "Total number of tool invocations",
			},
			[]string{"service", "tool_deployment_type_id", "status"},
		),
		ToolInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_invocation_duration_seconds",
				Help:    "Tool invocation duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "tool_deployment_type_id"},
		),
		ToolInvocationRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocation_retries_total",
				Help: "Total number of tool invocation retry attempts",
			},
			[]string{"service", "tool_deployment_type_id"},
		),

		CryptoCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_cache_hits_total",
				Help: "Total number of CryptoCache lookups served from cache",
			},
			[]string{"service", "key_kind"},
		),
		CryptoCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_cache_misses_total",
				Help: "Total number of CryptoCache lookups that required a repository fetch",
			},
			[]string{"service", "key_kind"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TaskTransitionsTotal,
			m.TaskDuration,
			m.TasksInFlight,
			m.ErrorsTotal,
			m.EventsEnqueuedTotal,
			m.ConsumerLaggedTotal,
			m.ActiveQueues,
			m.ToolInvocationsTotal,
			m.ToolInvocationDuration,
			m.ToolInvocationRetries,
			m.CryptoCacheHitsTotal,
			m.CryptoCacheMissesTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordTaskTransition records a task state transition.
func (m *Metrics) RecordTaskTransition(service, fromState, toState string) {
	m.TaskTransitionsTotal.WithLabelValues(service, fromState, toState).Inc()
}

// RecordTaskCompletion records the end-to-end duration of a task that reached a final state.
func (m *Metrics) RecordTaskCompletion(service, finalState string, duration time.Duration) {
	m.TaskDuration.WithLabelValues(service, finalState).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

// RecordToolInvocation records a completed tool invocation.
func (m *Metrics) RecordToolInvocation(service, toolDeploymentTypeID, status string, duration time.Duration) {
	m.ToolInvocationsTotal.WithLabelValues(service, toolDeploymentTypeID, status).Inc()
	m.ToolInvocationDuration.WithLabelValues(service, toolDeploymentTypeID).Observe(duration.Seconds())
}

// RecordToolInvocationRetry records one retry attempt.
func (m *Metrics) RecordToolInvocationRetry(service, toolDeploymentTypeID string) {
	m.ToolInvocationRetries.WithLabelValues(service, toolDeploymentTypeID).Inc()
}

// RecordCryptoCacheHit records a CryptoCache hit/miss for a key kind ("dek_id" or "dek_alias").
func (m *Metrics) RecordCryptoCacheHit(service, keyKind string, hit bool) {
	if hit {
		m.CryptoCacheHitsTotal.WithLabelValues(service, keyKind).Inc()
	} else {
		m.CryptoCacheMissesTotal.WithLabelValues(service, keyKind).Inc()
	}
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// SetTasksInFlight sets the current non-terminal task count.
func (m *Metrics) SetTasksInFlight(count int) {
	m.TasksInFlight.Set(float64(count))
}

// SetActiveQueues sets the current live event queue count.
func (m *Metrics) SetActiveQueues(count int) {
	m.ActiveQueues.Set(float64(count))
}

func getEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("SOMA_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return getEnvironment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
