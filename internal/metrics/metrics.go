// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

const namespace = "reservoir_area"

// Metrics implements pipeline.Observer on a private registry. A nil
// *Metrics is a valid no-op observer.
type Metrics struct {
	registry *prometheus.Registry

	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	fetchRetries   prometheus.Counter
	stepsDropped   prometheus.Counter
	features       *prometheus.CounterVec
	featureSeconds prometheus.Histogram
	partitions     *prometheus.CounterVec
	lastPartition  prometheus.Gauge
}

var _ pipeline.Observer = (*Metrics)(nil)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Composite fetch attempts by outcome.",
		}, []string{"outcome"}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of composite fetch attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts that were retried.",
		}),
		stepsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_dropped_total",
			Help:      "Time steps skipped for lack of a usable composite.",
		}),
		features: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_total",
			Help:      "Features processed by outcome.",
		}, []string{"outcome"}),
		featureSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feature_duration_seconds",
			Help:      "Time to assemble one feature's series.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		partitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      "Partitions finished by outcome.",
		}, []string{"outcome"}),
		lastPartition: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_partition_index",
			Help:      "Index of the most recently finished partition.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// FetchDone implements pipeline.Observer.
func (m *Metrics) FetchDone(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome(err)).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// FetchRetried implements pipeline.Observer.
func (m *Metrics) FetchRetried() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

// StepDropped implements pipeline.Observer.
func (m *Metrics) StepDropped() {
	if m == nil {
		return
	}
	m.stepsDropped.Inc()
}

// FeatureDone implements pipeline.Observer.
func (m *Metrics) FeatureDone(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.features.WithLabelValues(outcome(err)).Inc()
	m.featureSeconds.Observe(d.Seconds())
}

// PartitionDone implements pipeline.Observer.
func (m *Metrics) PartitionDone(r pipeline.PartitionReport) {
	if m == nil {
		return
	}
	switch {
	case r.Complete():
		m.partitions.WithLabelValues("complete").Inc()
	case r.Exported:
		m.partitions.WithLabelValues("incomplete").Inc()
	default:
		m.partitions.WithLabelValues("export_failed").Inc()
	}
	m.lastPartition.Set(float64(r.Index))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
