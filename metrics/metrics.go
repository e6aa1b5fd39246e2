// Package metrics exposes prometheus collectors for the trace engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "chaintrace"

// Metricer is implemented by Metrics and NoopMetrics.
type Metricer interface {
	RecordJobSubmitted(chain string)
	RecordJobFinished(chain, status string, d time.Duration)
	RecordJobRetry(chain string)
	SetActiveJobs(n int)

	RecordTrace(chain string, edges, skipped int, d time.Duration)
	RecordCache(hits, misses, evictions uint64)
}

type Metrics struct {
	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge

	traceEdges    *prometheus.CounterVec
	traceSkipped  *prometheus.CounterVec
	traceDuration *prometheus.HistogramVec

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
}

var _ Metricer = (*Metrics)(nil)

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Trace jobs accepted for processing.",
		}, []string{"chain"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Trace jobs that reached a terminal status.",
		}, []string{"chain", "status"}),
		jobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "retried_total",
			Help:      "Trace jobs requeued after a transient failure.",
		}, []string{"chain"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall clock time from claim to terminal status.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"chain", "status"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Trace jobs currently being processed.",
		}),
		traceEdges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "trace",
			Name:      "edges_total",
			Help:      "Edges discovered by trace runs.",
		}, []string{"chain"}),
		traceSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "trace",
			Name:      "skipped_nodes_total",
			Help:      "Nodes dropped because they could not be resolved.",
		}, []string{"chain"}),
		traceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "trace",
			Name:      "duration_seconds",
			Help:      "Duration of a single trace run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Result cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Result cache misses.",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Result cache entries evicted at the size cap.",
		}),
	}
}

func (m *Metrics) RecordJobSubmitted(chain string) {
	m.jobsSubmitted.WithLabelValues(chain).Inc()
}

func (m *Metrics) RecordJobFinished(chain, status string, d time.Duration) {
	m.jobsFinished.WithLabelValues(chain, status).Inc()
	m.jobDuration.WithLabelValues(chain, status).Observe(d.Seconds())
}

func (m *Metrics) RecordJobRetry(chain string) {
	m.jobsRetried.WithLabelValues(chain).Inc()
}

func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

func (m *Metrics) RecordTrace(chain string, edges, skipped int, d time.Duration) {
	m.traceEdges.WithLabelValues(chain).Add(float64(edges))
	m.traceSkipped.WithLabelValues(chain).Add(float64(skipped))
	m.traceDuration.WithLabelValues(chain).Observe(d.Seconds())
}

func (m *Metrics) RecordCache(hits, misses, evictions uint64) {
	m.cacheHits.Add(float64(hits))
	m.cacheMisses.Add(float64(misses))
	m.cacheEvictions.Add(float64(evictions))
}

type noopMetrics struct{}

// NoopMetrics discards everything.
var NoopMetrics Metricer = noopMetrics{}

func (noopMetrics) RecordJobSubmitted(string)                      {}
func (noopMetrics) RecordJobFinished(string, string, time.Duration) {}
func (noopMetrics) RecordJobRetry(string)                          {}
func (noopMetrics) SetActiveJobs(int)                              {}
func (noopMetrics) RecordTrace(string, int, int, time.Duration)    {}
func (noopMetrics) RecordCache(uint64, uint64, uint64)             {}
