// Package metrics provides internal Prometheus metric collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the orchestration core's Prometheus metrics. A nil
// *Collector is valid and records nothing, so callers never nil-check.
type Collector struct {
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	stageRetriesTotal *prometheus.CounterVec
	checkpointsTotal  *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	activeRuns        prometheus.Gauge
}

// NewCollector creates a metrics collector registered with the default
// Prometheus registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{}

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs by type and outcome",
		},
		[]string{"workflow_type", "outcome"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"workflow_type"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_stage_duration_seconds",
			Help:      "Stage handler invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"stage"},
	)

	c.stageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_stage_retries_total",
			Help:      "Total number of stage retries",
		},
		[]string{"stage"},
	)

	c.checkpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes by status",
		},
		[]string{"status"},
	)

	c.fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_responses_total",
			Help:      "Total number of orchestrator responses by tier",
		},
		[]string{"tier"},
	)

	c.activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_active_runs",
			Help:      "Number of workflow runs currently executing",
		},
	)

	return c
}

// RunStarted records a run entering the engine.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

// RunFinished records a run outcome.
func (c *Collector) RunFinished(workflowType, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.runsTotal.WithLabelValues(workflowType, outcome).Inc()
	c.runDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// StageCompleted records a stage invocation duration.
func (c *Collector) StageCompleted(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// StageRetried records a stage retry.
func (c *Collector) StageRetried(stage string) {
	if c == nil {
		return
	}
	c.stageRetriesTotal.WithLabelValues(stage).Inc()
}

// CheckpointWritten records a checkpoint write attempt.
func (c *Collector) CheckpointWritten(ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.checkpointsTotal.WithLabelValues(status).Inc()
}

// ResponseProduced records which tier answered.
func (c *Collector) ResponseProduced(tier string) {
	if c == nil {
		return
	}
	c.fallbacksTotal.WithLabelValues(tier).Inc()
}
