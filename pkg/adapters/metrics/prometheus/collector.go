package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted   prometheus.Counter
	runsCompleted   *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	activeRuns      prometheus.Gauge
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	capabilityCalls *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	coalesced       *prometheus.CounterVec
	rateLimitWait   *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// A nil reg registers on the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_runs_completed_total",
				Help: "Total number of runs completed by overall status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskmesh_active_runs",
				Help: "Number of currently active runs",
			},
		),
		tasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"capability", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_task_duration_seconds",
				Help:    "Task duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"capability"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_cache_lookups_total",
				Help: "Total number of fingerprint cache lookups",
			},
			[]string{"capability", "hit"},
		),
		capabilityCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_capability_calls_total",
				Help: "Total number of external capability calls",
			},
			[]string{"capability", "result"},
		),
		callLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_capability_latency_seconds",
				Help:    "Capability call latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"capability"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_capability_retries_total",
				Help: "Total number of retried capability calls",
			},
			[]string{"capability"},
		),
		coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_capability_coalesced_total",
				Help: "Total number of calls served by an identical in-flight call",
			},
			[]string{"capability"},
		),
		rateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate limit token",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"capability"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskmesh_capability_in_flight",
				Help: "Number of capability calls currently executing",
			},
			[]string{"capability"},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted() {
	c.runsSubmitted.Inc()
}

// RecordRunCompleted records a run completion
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveRuns sets the number of currently active runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// RecordTaskFinished records a task reaching a terminal status
func (c *Collector) RecordTaskFinished(capability, status string, duration time.Duration) {
	c.tasksFinished.WithLabelValues(capability, status).Inc()
	if duration > 0 {
		c.taskDuration.WithLabelValues(capability).Observe(duration.Seconds())
	}
}

// RecordCacheLookup records a cache hit or miss
func (c *Collector) RecordCacheLookup(capability string, hit bool) {
	c.cacheLookups.WithLabelValues(capability, strconv.FormatBool(hit)).Inc()
}

// RecordCapabilityCall records one external call
func (c *Collector) RecordCapabilityCall(capability, result string, duration time.Duration) {
	c.capabilityCalls.WithLabelValues(capability, result).Inc()
	c.callLatency.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordRetry records a retried call
func (c *Collector) RecordRetry(capability string) {
	c.retries.WithLabelValues(capability).Inc()
}

// RecordCoalesced records a call joined onto an in-flight one
func (c *Collector) RecordCoalesced(capability string) {
	c.coalesced.WithLabelValues(capability).Inc()
}

// ObserveRateLimitWait records how long a call waited for admission
func (c *Collector) ObserveRateLimitWait(capability string, duration time.Duration) {
	c.rateLimitWait.WithLabelValues(capability).Observe(duration.Seconds())
}

// SetInFlight sets the number of executing calls for a capability
func (c *Collector) SetInFlight(capability string, count int) {
	c.inFlight.WithLabelValues(capability).Set(float64(count))
}
