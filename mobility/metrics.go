package mobility

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "mobility"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of external-address detections attempted.
	Detections metrics.Counter
	// Number of detections that failed.
	DetectionFailures metrics.Counter
	// Number of external-address changes handled.
	AddressChanges metrics.Counter
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
		Detections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "detections_total",
			Help:      "Number of external-address detections attempted.",
		}, labels).With(labelsAndValues...),
		DetectionFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "detection_failures_total",
			Help:      "Number of detections that failed.",
		}, labels).With(labelsAndValues...),
		AddressChanges: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "address_changes_total",
			Help:      "Number of external-address changes handled.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Detections:        discard.NewCounter(),
		DetectionFailures: discard.NewCounter(),
		AddressChanges:    discard.NewCounter(),
	}
}
