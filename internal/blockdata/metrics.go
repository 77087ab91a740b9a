package blockdata

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "blockdata"
)

// Metrics contains metrics exposed by this package. Per-table metrics are
// labeled with "table".
type Metrics struct {
	// Number of reads.
	Reads metrics.Counter
	// Time spent in backend reads, in seconds.
	ReadLatency metrics.Histogram
	// Number of committed writes and deletes.
	Writes metrics.Counter
	// Number of writes and deletes the backend failed or refused.
	WriteFailures metrics.Counter
	// Number of headers served from the header cache.
	HeaderCacheHits metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	tableLabels := append(append([]string{}, labels...), "table")
	return &Metrics{
		Reads: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reads",
			Help:      "Number of reads per table.",
		}, tableLabels).With(labelsAndValues...),
		ReadLatency: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "read_latency_seconds",
			Help:      "Time spent reading from a table backend.",
			Buckets:   stdprometheus.ExponentialBuckets(0.00001, 4, 8),
		}, tableLabels).With(labelsAndValues...),
		Writes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "writes",
			Help:      "Number of committed writes and deletes per table.",
		}, tableLabels).With(labelsAndValues...),
		WriteFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "write_failures",
			Help:      "Number of writes and deletes that were not committed.",
		}, tableLabels).With(labelsAndValues...),
		HeaderCacheHits: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "header_cache_hits",
			Help:      "Number of block headers served from memory.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Reads:           discard.NewCounter(),
		ReadLatency:     discard.NewHistogram(),
		Writes:          discard.NewCounter(),
		WriteFailures:   discard.NewCounter(),
		HeaderCacheHits: discard.NewCounter(),
	}
}
