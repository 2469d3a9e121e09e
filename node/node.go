package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfg "github.com/intermap/intermap/config"
	"github.com/intermap/intermap/discovery"
	"github.com/intermap/intermap/ledger"
	"github.com/intermap/intermap/libs/log"
	"github.com/intermap/intermap/libs/service"
	"github.com/intermap/intermap/mobility"
	"github.com/intermap/intermap/probe"
	"github.com/intermap/intermap/registry"
	"github.com/intermap/intermap/scheduler"
	"github.com/intermap/intermap/topology"
	"github.com/intermap/intermap/transport"
	"github.com/intermap/intermap/types"
	"github.com/intermap/intermap/verifier"
)

// Node is the top level object that ties the coordination core together:
// identity, transport, the shared state (peer set, target registry, ledger,
// topology graph) and the services that drive them.
type Node struct {
	service.BaseService

	config *cfg.Config

	identity *types.NodeIdentity
	peers    *types.PeerSet
	registry *registry.Registry
	ledger   *ledger.Ledger
	graph    *topology.MemoryGraph

	trans    transport.Transport
	resolver discovery.Resolver

	disc  *discovery.Reactor
	sched *scheduler.Scheduler
	verif *verifier.Verifier
	mob   *mobility.Monitor

	prometheusSrv *http.Server
}

type options struct {
	trans    transport.Transport
	prober   probe.Prober
	detector mobility.Detector
	resolver discovery.Resolver
	clock    clock.Clock
	provider MetricsProvider
}

// Option overrides one of the node's default components.
type Option func(*options)

// WithTransport replaces the Kubo transport, primarily for tests.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.trans = t }
}

// WithProber replaces the ICMP prober.
func WithProber(p probe.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithDetector replaces the STUN external-address detector.
func WithDetector(d mobility.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithResolver replaces the DNS resolver used for well-known targets.
func WithResolver(r discovery.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithClock injects a clock into every timer-driven service.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetricsProvider replaces the default metrics provider.
func WithMetricsProvider(p MetricsProvider) Option {
	return func(o *options) { o.provider = p }
}

// New builds a node from config. The transport must be reachable: a node
// that cannot join the shared channels is useless, so a dead daemon fails
// construction instead of limping along.
func New(config *cfg.Config, logger log.Logger, opts ...Option) (*Node, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	nodeID, err := types.LoadOrGenNodeID(config.NodeIDFile())
	if err != nil {
		return nil, fmt.Errorf("loading node ID: %w", err)
	}
	identity := types.NewNodeIdentity(nodeID)

	trans := o.trans
	if trans == nil {
		trans, err = transport.NewKubo(
			logger.With("module", "transport"),
			config.Transport.APIAddress,
			config.Transport.ResubscribeMaxBackoff,
		)
		if err != nil {
			return nil, fmt.Errorf("connecting transport: %w", err)
		}
	}

	prober := o.prober
	if prober == nil {
		prober = probe.NewICMPProber(logger.With("module", "probe"))
	}

	detector := o.detector
	if detector == nil {
		detector = mobility.NewSTUNDetector(config.Mobility.STUNServers, config.Mobility.STUNTimeout)
	}

	provider := o.provider
	if provider == nil {
		provider = DefaultMetricsProvider(config.Instrumentation)
	}
	discMetrics, schedMetrics, verifMetrics, mobMetrics := provider(config.Moniker)

	peers := types.NewPeerSet()
	reg := registry.New(logger.With("module", "registry"))
	ldgr := ledger.New(logger.With("module", "ledger"))
	graph := topology.NewMemoryGraph()

	verifOpts := []verifier.Option{verifier.WithMetrics(verifMetrics)}
	discOpts := []discovery.Option{discovery.WithMetrics(discMetrics)}
	schedOpts := []scheduler.Option{scheduler.WithMetrics(schedMetrics)}
	mobOpts := []mobility.Option{mobility.WithMetrics(mobMetrics)}
	if o.clock != nil {
		verifOpts = append(verifOpts, verifier.WithClock(o.clock))
		discOpts = append(discOpts, discovery.WithClock(o.clock))
		schedOpts = append(schedOpts, scheduler.WithClock(o.clock))
		mobOpts = append(mobOpts, mobility.WithClock(o.clock))
	}

	verif := verifier.New(
		config.Verify, config.Trace,
		identity, ldgr, reg, graph, prober, trans,
		verifOpts...,
	)
	verif.SetLogger(logger.With("module", "verifier"))

	disc := discovery.New(
		config.Discovery, config.Transport.PublishTimeout,
		identity, peers, reg, graph, trans,
		discOpts...,
	)
	disc.SetLogger(logger.With("module", "discovery"))

	sched := scheduler.New(
		config.Trace, config.Transport.PublishTimeout,
		identity, reg, ldgr, graph, prober, trans, verif,
		schedOpts...,
	)
	sched.SetLogger(logger.With("module", "scheduler"))

	mob := mobility.New(
		config.Mobility, config.Trace, config.Transport.PublishTimeout,
		identity, reg, graph, trans, detector,
		mobOpts...,
	)
	mob.SetLogger(logger.With("module", "mobility"))

	n := &Node{
		config:   config,
		identity: identity,
		peers:    peers,
		registry: reg,
		ledger:   ldgr,
		graph:    graph,
		trans:    trans,
		resolver: o.resolver,
		disc:     disc,
		sched:    sched,
		verif:    verif,
		mob:      mob,
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// OnStart implements service.Service. Start order matters: the verifier and
// discovery reactors must be consuming before the mobility monitor announces
// and before the scheduler produces failures to escalate.
func (n *Node) OnStart() error {
	n.seedWellKnown()

	if err := n.verif.Start(); err != nil {
		return err
	}
	if err := n.disc.Start(); err != nil {
		return err
	}
	if err := n.sched.Start(); err != nil {
		return err
	}
	if err := n.mob.Start(); err != nil {
		return err
	}

	if n.config.Instrumentation.Prometheus {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}
	return nil
}

// OnStop implements service.Service. Stop order reverses Start.
func (n *Node) OnStop() {
	n.Logger.Info("stopping node")

	if err := n.mob.Stop(); err != nil {
		n.Logger.Error("error stopping mobility monitor", "err", err)
	}
	if err := n.sched.Stop(); err != nil {
		n.Logger.Error("error stopping scheduler", "err", err)
	}
	if err := n.disc.Stop(); err != nil {
		n.Logger.Error("error stopping discovery", "err", err)
	}
	if err := n.verif.Stop(); err != nil {
		n.Logger.Error("error stopping verifier", "err", err)
	}

	if err := n.trans.Close(); err != nil {
		n.Logger.Error("error closing transport", "err", err)
	}

	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			n.Logger.Error("prometheus HTTP server shutdown error", "err", err)
		}
	}
}

// seedWellKnown schedules the configured well-known targets. Failures are
// logged and skipped; a node with zero seeds still discovers targets from
// peers and its own subnet.
func (n *Node) seedWellKnown() {
	if len(n.config.WellKnownTargets) == 0 {
		return
	}

	resolver := n.resolver
	if resolver == nil {
		r, err := discovery.NewDNSResolver()
		if err != nil {
			n.Logger.Error("no DNS resolver, hostname seeds will be skipped", "err", err)
			resolver = discovery.StaticResolver{}
		} else {
			resolver = r
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	added := discovery.SeedWellKnown(ctx, n.Logger, n.registry, resolver, n.config.WellKnownTargets)
	n.Logger.Info("seeded well-known targets", "added", added)
}

// startPrometheusServer starts a Prometheus HTTP server, listening for
// metrics collectors on addr.
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// Error starting or closing listener:
			n.Logger.Error("prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

// Identity returns the node's identity.
func (n *Node) Identity() *types.NodeIdentity { return n.identity }

// Peers returns the discovered peer set.
func (n *Node) Peers() *types.PeerSet { return n.peers }

// Registry returns the target registry.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Ledger returns the reachability ledger.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Graph returns the topology graph.
func (n *Node) Graph() *topology.MemoryGraph { return n.graph }

// MobilityEvents returns the recent external-address changes.
func (n *Node) MobilityEvents() []types.MobilityEvent { return n.mob.Events() }
