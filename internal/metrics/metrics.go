// Package metrics exposes the orchestrator's Prometheus metrics. Every
// recorder here is best-effort: a metrics emission failure must never
// affect erasure outcome (spec §4.6), so recorders never return an
// error, and registration collisions are tolerated rather than panicked
// on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the orchestrator's metric vectors, each labeled by the
// deploy environment so one Prometheus instance can scrape multiple
// environments without cardinality surprises elsewhere in the label set.
type Recorder struct {
	requestsProcessed  *prometheus.CounterVec
	partitionsRewritten *prometheus.CounterVec
	erasureDuration    *prometheus.HistogramVec
	erasureFailures    *prometheus.CounterVec
	environment        string
}

// New builds a Recorder and registers its collectors against registry.
// environment is attached to every metric this Recorder emits.
func New(registry prometheus.Registerer, environment string) *Recorder {
	r := &Recorder{
		requestsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erasure_requests_processed_total",
			Help: "Total erasure requests that reached a terminal status.",
		}, []string{"environment", "status"}),
		partitionsRewritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erasure_partitions_rewritten_total",
			Help: "Total curated-dataset partitions rewritten.",
		}, []string{"environment"}),
		erasureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erasure_duration_seconds",
			Help:    "End-to-end duration of a completed erasure request.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s..~34min
		}, []string{"environment"}),
		erasureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erasure_failures_total",
			Help: "Total erasure requests that ended FAILED, by error kind.",
		}, []string{"environment", "kind"}),
		environment: environment,
	}

	for _, c := range []prometheus.Collector{r.requestsProcessed, r.partitionsRewritten, r.erasureDuration, r.erasureFailures} {
		if err := registry.Register(c); err != nil {
			if _, already := err.(prometheus.AlreadyRegisteredError); !already {
				panic(err)
			}
		}
	}
	return r
}

// RecordRequestProcessed increments the processed counter for the given
// terminal status ("COMPLETED" or "FAILED").
func (r *Recorder) RecordRequestProcessed(status string) {
	r.requestsProcessed.WithLabelValues(r.environment, status).Inc()
}

// RecordPartitionsRewritten adds count to the rewritten-partitions total.
func (r *Recorder) RecordPartitionsRewritten(count int) {
	if count <= 0 {
		return
	}
	r.partitionsRewritten.WithLabelValues(r.environment).Add(float64(count))
}

// RecordDuration observes the end-to-end duration of a completed
// request, in seconds.
func (r *Recorder) RecordDuration(seconds float64) {
	r.erasureDuration.WithLabelValues(r.environment).Observe(seconds)
}

// RecordFailure increments the failure counter for the given error kind.
func (r *Recorder) RecordFailure(kind string) {
	r.erasureFailures.WithLabelValues(r.environment, kind).Inc()
}
