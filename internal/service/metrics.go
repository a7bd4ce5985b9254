package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every engine metric.
const metricsNamespace = "toolchest"

// EngineMetrics holds the Prometheus metrics recorded by the execution
// engine. Pass to the services that need to record metrics; a nil
// EngineMetrics disables recording.
type EngineMetrics struct {
	WorkflowExecutions *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	StepRetries        prometheus.Counter
}

// NewEngineMetrics creates and registers the engine metrics with the
// given registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	return &EngineMetrics{
		WorkflowExecutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_executions_total",
				Help:      "Total workflow executions by terminal status",
			},
			[]string{"status"}, // status=completed/failed/cancelled
		),
		StepDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_step_duration_seconds",
				Help:      "Workflow step duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"tool"},
		),
		StepRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_step_retries_total",
				Help:      "Total workflow step retry attempts",
			},
		),
	}
}
