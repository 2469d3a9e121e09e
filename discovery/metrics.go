package discovery

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "discovery"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of known peers.
	Peers metrics.Gauge
	// Number of identity announcements we published.
	AnnouncementsSent metrics.Counter
	// Number of peer announcements received and applied.
	AnnouncementsReceived metrics.Counter
	// Number of peer path announcements merged into the topology.
	PathsMerged metrics.Counter
	// Number of peers evicted for silence.
	PeersEvicted metrics.Counter
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
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of known peers.",
		}, labels).With(labelsAndValues...),
		AnnouncementsSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "announcements_sent_total",
			Help:      "Number of identity announcements we published.",
		}, labels).With(labelsAndValues...),
		AnnouncementsReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "announcements_received_total",
			Help:      "Number of peer announcements received and applied.",
		}, labels).With(labelsAndValues...),
		PathsMerged: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "paths_merged_total",
			Help:      "Number of peer path announcements merged into the topology.",
		}, labels).With(labelsAndValues...),
		PeersEvicted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers_evicted_total",
			Help:      "Number of peers evicted for silence.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:                 discard.NewGauge(),
		AnnouncementsSent:     discard.NewCounter(),
		AnnouncementsReceived: discard.NewCounter(),
		PathsMerged:           discard.NewCounter(),
		PeersEvicted:          discard.NewCounter(),
	}
}
