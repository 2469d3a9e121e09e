package scheduler

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "scheduler"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of probes attempted.
	ProbesTotal metrics.Counter
	// Number of probes that reached the target.
	ProbesSucceeded metrics.Counter
	// Number of probes that failed.
	ProbesFailed metrics.Counter
	// Number of completed rounds.
	RoundsCompleted metrics.Counter
	// Duration of the last completed round in seconds.
	RoundDuration metrics.Gauge
	// Number of addresses currently in the target set.
	Targets metrics.Gauge
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
		ProbesTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "probes_total",
			Help:      "Number of probes attempted.",
		}, labels).With(labelsAndValues...),
		ProbesSucceeded: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "probes_succeeded_total",
			Help:      "Number of probes that reached the target.",
		}, labels).With(labelsAndValues...),
		ProbesFailed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "probes_failed_total",
			Help:      "Number of probes that failed.",
		}, labels).With(labelsAndValues...),
		RoundsCompleted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rounds_completed_total",
			Help:      "Number of completed rounds.",
		}, labels).With(labelsAndValues...),
		RoundDuration: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "round_duration_seconds",
			Help:      "Duration of the last completed round in seconds.",
		}, labels).With(labelsAndValues...),
		Targets: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "targets",
			Help:      "Number of addresses currently in the target set.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ProbesTotal:     discard.NewCounter(),
		ProbesSucceeded: discard.NewCounter(),
		ProbesFailed:    discard.NewCounter(),
		RoundsCompleted: discard.NewCounter(),
		RoundDuration:   discard.NewGauge(),
		Targets:         discard.NewGauge(),
	}
}
