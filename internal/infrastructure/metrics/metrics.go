package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "pregelflow"

// Status label values.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Collector holds all Prometheus metrics for the runtime.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Executor metrics
	Supersteps        *prometheus.CounterVec
	SuperstepDuration *prometheus.HistogramVec
	NodeExecutions    *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	ActiveRuns        prometheus.Gauge

	// Persistence metrics
	CheckpointWrites *prometheus.CounterVec
	StoreOperations  *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec

	// Scheduler metrics
	SchedulerWorkers prometheus.Gauge
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Supersteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "supersteps_total",
				Help:      "Total number of supersteps executed",
			},
			[]string{"graph", "status"},
		),
		SuperstepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "superstep_duration_seconds",
				Help:      "Superstep duration in seconds, barrier and checkpoint included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"graph"},
		),
		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node executions",
			},
			[]string{"graph", "node", "status"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished runs by terminal status",
			},
			[]string{"graph", "status"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs currently executing",
			},
		),
		CheckpointWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_writes_total",
				Help:      "Total number of checkpoints written",
			},
			[]string{"graph", "source"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of checkpoint store operations",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Checkpoint store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SchedulerWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_workers",
				Help:      "Worker pool capacity of the most recently built scheduler",
			},
		),
	}

	registry.MustRegister(
		c.Supersteps,
		c.SuperstepDuration,
		c.NodeExecutions,
		c.Runs,
		c.ActiveRuns,
		c.CheckpointWrites,
		c.StoreOperations,
		c.StoreDuration,
		c.SchedulerWorkers,
	)
	return c
}

var defaultCollector = sync.OnceValue(func() *Collector {
	c := NewCollector(Namespace)
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
})

// Default returns the process collector, which also carries Go runtime and
// process metrics.
func Default() *Collector { return defaultCollector() }

// Registry returns the Prometheus registry for this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSuperstep records one finished superstep.
func (c *Collector) ObserveSuperstep(graph, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Supersteps.WithLabelValues(graph, status).Inc()
	c.SuperstepDuration.WithLabelValues(graph).Observe(d.Seconds())
}

// NodeExecuted records one node execution.
func (c *Collector) NodeExecuted(graph, node string, err error) {
	if c == nil {
		return
	}
	c.NodeExecutions.WithLabelValues(graph, node, status(err)).Inc()
}

// RunStarted increments the active run gauge.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.ActiveRuns.Inc()
}

// RunFinished decrements the active run gauge and counts the terminal status.
func (c *Collector) RunFinished(graph, status string) {
	if c == nil {
		return
	}
	c.ActiveRuns.Dec()
	c.Runs.WithLabelValues(graph, status).Inc()
}

// CheckpointWritten counts one persisted checkpoint.
func (c *Collector) CheckpointWritten(graph, source string) {
	if c == nil {
		return
	}
	c.CheckpointWrites.WithLabelValues(graph, source).Inc()
}

// StoreOperation records one store call.
func (c *Collector) StoreOperation(op string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.StoreOperations.WithLabelValues(op, status(err)).Inc()
	c.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetSchedulerWorkers reports the pool size.
func (c *Collector) SetSchedulerWorkers(n int) {
	if c == nil {
		return
	}
	c.SchedulerWorkers.Set(float64(n))
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
