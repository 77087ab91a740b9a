package request

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "request"
)

// Metrics contains metrics exposed by this package. Counters are labeled
// with the request "kind".
type Metrics struct {
	// Number of requests sent, including resends.
	Sent metrics.Counter
	// Number of requests dropped because every key was already inflight.
	Coalesced metrics.Counter
	// Number of requests that timed out.
	Timeouts metrics.Counter
	// Number of requests sent again after a timeout.
	Resends metrics.Counter
	// Number of requests given up on.
	Abandoned metrics.Counter
	// Number of responses that matched no pending request.
	LateResponses metrics.Counter
	// Number of requests awaiting a response.
	Pending metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	kindLabels := append(append([]string{}, labels...), "kind")
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, kindLabels).With(labelsAndValues...)
	}
	return &Metrics{
		Sent:          counter("sent", "Number of requests sent, including resends."),
		Coalesced:     counter("coalesced", "Number of requests dropped because their resources were already requested."),
		Timeouts:      counter("timeouts", "Number of requests that timed out."),
		Resends:       counter("resends", "Number of requests sent again after a timeout."),
		Abandoned:     counter("abandoned", "Number of requests given up on."),
		LateResponses: counter("late_responses", "Number of responses that matched no pending request."),
		Pending: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending",
			Help:      "Number of requests awaiting a response.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Sent:          discard.NewCounter(),
		Coalesced:     discard.NewCounter(),
		Timeouts:      discard.NewCounter(),
		Resends:       discard.NewCounter(),
		Abandoned:     discard.NewCounter(),
		LateResponses: discard.NewCounter(),
		Pending:       discard.NewGauge(),
	}
}
