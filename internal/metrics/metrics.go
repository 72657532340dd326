// Package metrics collects and exposes Prometheus instrumentation for the
// dispatch loop, following the RED (Rate, Errors, Duration) and USE
// (Utilization, Saturation, Errors) methods. A Collector holds every
// metric and registers them all at construction, named
// <system>_<noun>_<unit>.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the broker exposes on /metrics.
type Collector struct {
	jobsSubmitted  prometheus.Counter
	jobsDispatched prometheus.Counter
	jobsFinished   prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsExpired    prometheus.Counter

	dispatchLatency prometheus.Histogram

	jobsQueued      prometheus.Gauge
	jobsActive      prometheus.Gauge
	workersReady    prometheus.Gauge
	workersRegistered prometheus.Gauge

	workersDied prometheus.Counter
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_jobs_submitted_total",
			Help: "Total number of jobs submitted by clients",
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_jobs_dispatched_total",
			Help: "Total number of jobs assigned to a worker",
		}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_jobs_finished_total",
			Help: "Total number of jobs that returned a result",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_jobs_failed_total",
			Help: "Total number of active jobs terminated by a client (worker-reported failures are not counted)",
		}),
		jobsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_jobs_expired_total",
			Help: "Total number of jobs expired due to worker heartbeat loss",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshbroker_dispatch_latency_seconds",
			Help:    "Time between job submission and assignment to a worker",
			Buckets: prometheus.DefBuckets,
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbroker_jobs_queued",
			Help: "Current number of jobs awaiting dispatch or a worker",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbroker_jobs_active",
			Help: "Current number of jobs assigned to a worker",
		}),
		workersReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbroker_workers_ready",
			Help: "Current number of registered workers signalling ready for work",
		}),
		workersRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbroker_workers_registered",
			Help: "Current number of registered workers, ready or not",
		}),
		workersDied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbroker_workers_died_total",
			Help: "Total number of factory-spawned worker processes observed to exit abnormally",
		}),
	}

	prometheus.MustRegister(
		c.jobsSubmitted,
		c.jobsDispatched,
		c.jobsFinished,
		c.jobsFailed,
		c.jobsExpired,
		c.dispatchLatency,
		c.jobsQueued,
		c.jobsActive,
		c.workersReady,
		c.workersRegistered,
		c.workersDied,
	)

	return c
}

func (c *Collector) RecordSubmitted() { c.jobsSubmitted.Inc() }
func (c *Collector) RecordFailed()    { c.jobsFailed.Inc() }

// RecordExpired adds n heartbeat-timeout expirations observed in one
// sweep.
func (c *Collector) RecordExpired(n int) {
	if n > 0 {
		c.jobsExpired.Add(float64(n))
	}
}

// RecordDispatched records a successful match, with the seconds elapsed
// since the job was submitted.
func (c *Collector) RecordDispatched(latencySeconds float64) {
	c.jobsDispatched.Inc()
	c.dispatchLatency.Observe(latencySeconds)
}

// RecordFinished records a worker-delivered result.
func (c *Collector) RecordFinished() {
	c.jobsFinished.Inc()
}

// RecordWorkersDied adds n factory-observed abnormal exits.
func (c *Collector) RecordWorkersDied(n int) {
	if n > 0 {
		c.workersDied.Add(float64(n))
	}
}

// UpdateQueueStats sets the point-in-time gauges the dispatch loop
// recomputes every iteration.
func (c *Collector) UpdateQueueStats(queued, active, workersReady, workersRegistered int) {
	c.jobsQueued.Set(float64(queued))
	c.jobsActive.Set(float64(active))
	c.workersReady.Set(float64(workersReady))
	c.workersRegistered.Set(float64(workersRegistered))
}

// StartServer serves /metrics on the given port. It blocks, so callers
// run it in its own goroutine.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
