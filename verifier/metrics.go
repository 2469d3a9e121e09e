package verifier

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "verifier"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of verification requests we broadcast.
	RequestsSent metrics.Counter
	// Number of peer verification requests we answered.
	RequestsHandled metrics.Counter
	// Number of peer votes applied to the ledger.
	VotesApplied metrics.Counter
	// Number of votes discarded because the record no longer exists.
	VotesDiscarded metrics.Counter
	// Number of addresses purged by the quorum rule.
	AddressesRemoved metrics.Counter
	// Number of removals vetoed by a reachable vote.
	RemovalsVetoed metrics.Counter
	// Number of addresses currently tracked by the ledger.
	LedgerRecords metrics.Gauge
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
		RequestsSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_sent_total",
			Help:      "Number of verification requests we broadcast.",
		}, labels).With(labelsAndValues...),
		RequestsHandled: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_handled_total",
			Help:      "Number of peer verification requests we answered.",
		}, labels).With(labelsAndValues...),
		VotesApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_applied_total",
			Help:      "Number of peer votes applied to the ledger.",
		}, labels).With(labelsAndValues...),
		VotesDiscarded: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_discarded_total",
			Help:      "Number of votes discarded because the record no longer exists.",
		}, labels).With(labelsAndValues...),
		AddressesRemoved: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "addresses_removed_total",
			Help:      "Number of addresses purged by the quorum rule.",
		}, labels).With(labelsAndValues...),
		RemovalsVetoed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "removals_vetoed_total",
			Help:      "Number of removals vetoed by a reachable vote.",
		}, labels).With(labelsAndValues...),
		LedgerRecords: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ledger_records",
			Help:      "Number of addresses currently tracked by the ledger.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RequestsSent:     discard.NewCounter(),
		RequestsHandled:  discard.NewCounter(),
		VotesApplied:     discard.NewCounter(),
		VotesDiscarded:   discard.NewCounter(),
		AddressesRemoved: discard.NewCounter(),
		RemovalsVetoed:   discard.NewCounter(),
		LedgerRecords:    discard.NewGauge(),
	}
}
