package node

import (
	cfg "github.com/intermap/intermap/config"
	"github.com/intermap/intermap/discovery"
	"github.com/intermap/intermap/mobility"
	"github.com/intermap/intermap/scheduler"
	"github.com/intermap/intermap/verifier"
)

// MetricsProvider returns the metrics objects for every subsystem, labeled
// with the node's moniker.
type MetricsProvider func(moniker string) (*discovery.Metrics, *scheduler.Metrics, *verifier.Metrics, *mobility.Metrics)

// DefaultMetricsProvider returns Metrics build using Prometheus client
// library if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(config *cfg.InstrumentationConfig) MetricsProvider {
	return func(moniker string) (*discovery.Metrics, *scheduler.Metrics, *verifier.Metrics, *mobility.Metrics) {
		if config.Prometheus {
			return discovery.PrometheusMetrics(config.Namespace, "moniker", moniker),
				scheduler.PrometheusMetrics(config.Namespace, "moniker", moniker),
				verifier.PrometheusMetrics(config.Namespace, "moniker", moniker),
				mobility.PrometheusMetrics(config.Namespace, "moniker", moniker)
		}
		return discovery.NopMetrics(), scheduler.NopMetrics(), verifier.NopMetrics(), mobility.NopMetrics()
	}
}
