package statesync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "statesync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of manifests accepted.
	Manifests metrics.Counter
	// Number of verified chunks added to a restoration.
	SnapshotChunk metrics.Counter
	// Number of chunks rejected for not matching their hash.
	RejectedChunks metrics.Counter
	// Number of chunks in the snapshot being restored.
	SnapshotChunkTotal metrics.Gauge
	// Number of snapshots restored.
	RestoredSnapshots metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Manifests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "manifests",
			Help:      "The number of snapshot manifests accepted.",
		}, labels).With(labelsAndValues...),
		SnapshotChunk: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_chunk",
			Help:      "The number of verified chunks that have been received.",
		}, labels).With(labelsAndValues...),
		RejectedChunks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_chunks",
			Help:      "The number of chunks rejected for a hash mismatch.",
		}, labels).With(labelsAndValues...),
		SnapshotChunkTotal: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_chunks_total",
			Help:      "The total number of chunks in the current snapshot.",
		}, labels).With(labelsAndValues...),
		RestoredSnapshots: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "restored_snapshots",
			Help:      "The number of snapshots restored.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Manifests:          discard.NewCounter(),
		SnapshotChunk:      discard.NewCounter(),
		RejectedChunks:     discard.NewCounter(),
		SnapshotChunkTotal: discard.NewGauge(),
		RestoredSnapshots:  discard.NewCounter(),
	}
}
