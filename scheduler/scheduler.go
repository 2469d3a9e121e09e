package scheduler

import (
	"context"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/intermap/intermap/config"
	"github.com/intermap/intermap/ledger"
	"github.com/intermap/intermap/libs/service"
	"github.com/intermap/intermap/probe"
	"github.com/intermap/intermap/registry"
	"github.com/intermap/intermap/topology"
	"github.com/intermap/intermap/transport"
	"github.com/intermap/intermap/types"
)

// Escalator receives targets whose probe failed after they had been mapped.
// In production it is the verifier; tests plug in a recorder.
type Escalator interface {
	EscalateFailure(addr netip.Addr)
}

// Scheduler drives the perpetual probing loop: snapshot the target set,
// probe each address in order, merge successful paths into the topology and
// announce them, escalate failures for addresses the ledger knows, sleep,
// repeat. The loop never terminates on its own; the registry is expected to
// change underneath it between (and during) rounds.
//
// There is deliberately no rate limiting here. One outstanding probe at a
// time with a per-probe timeout bounds the send rate by construction.
type Scheduler struct {
	service.BaseService

	cfg *config.TraceConfig

	self   *types.NodeIdentity
	reg    *registry.Registry
	ldgr   *ledger.Ledger
	topo   topology.Graph
	prober probe.Prober
	trans  transport.Transport
	esc    Escalator

	publishTimeout time.Duration

	clock   clock.Clock
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock, letting tests drive the inter-round pause.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics attaches metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(
	cfg *config.TraceConfig,
	publishTimeout time.Duration,
	self *types.NodeIdentity,
	reg *registry.Registry,
	ldgr *ledger.Ledger,
	topo topology.Graph,
	prober probe.Prober,
	trans transport.Transport,
	esc Escalator,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		cfg:            cfg,
		publishTimeout: publishTimeout,
		self:           self,
		reg:            reg,
		ldgr:           ldgr,
		topo:           topo,
		prober:         prober,
		trans:          trans,
		esc:            esc,
		clock:          clock.New(),
		metrics:        NopMetrics(),
		done:           make(chan struct{}),
	}
	s.BaseService = *service.NewBaseService(nil, "Scheduler", s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStart implements service.Service.
func (s *Scheduler) OnStart() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.roundLoop()
	return nil
}

// OnStop implements service.Service. It cancels any in-flight probe and
// waits for the loop to exit.
func (s *Scheduler) OnStop() {
	s.cancel()
	<-s.done
}

func (s *Scheduler) roundLoop() {
	defer close(s.done)

	for {
		s.runRound()

		timer := s.clock.Timer(s.cfg.RoundInterval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runRound probes every target in the current snapshot once. Targets removed
// from the registry after the snapshot was taken are skipped at probe time,
// so a mid-round subnet retraction stops their probes immediately.
func (s *Scheduler) runRound() {
	targets := s.reg.Snapshot()
	s.metrics.Targets.Set(float64(len(targets)))
	if len(targets) == 0 {
		return
	}

	start := s.clock.Now()
	s.Logger.Info("starting probe round", "targets", len(targets))

	probed, succeeded := 0, 0
	for _, t := range targets {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if !s.reg.Contains(t.Address) {
			continue
		}

		probed++
		if s.probeOne(t.Address) {
			succeeded++
		}
	}

	elapsed := s.clock.Now().Sub(start)
	s.metrics.RoundsCompleted.Add(1)
	s.metrics.RoundDuration.Set(elapsed.Seconds())
	s.Logger.Info("probe round complete",
		"probed", probed, "succeeded", succeeded, "took", elapsed)
}

// probeOne traces a single target and reports whether it was reachable.
func (s *Scheduler) probeOne(addr netip.Addr) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProbeTimeout)
	res, err := s.prober.Trace(ctx, addr, s.cfg.MaxHops, s.cfg.ProbeTimeout)
	cancel()

	s.metrics.ProbesTotal.Add(1)
	now := s.clock.Now()

	if err != nil {
		s.metrics.ProbesFailed.Add(1)
		s.Logger.Debug("probe failed", "target", addr, "err", err)
		// Only failures for addresses we once reached are worth a network
		// round trip; a target that never answered is just unmapped space.
		if s.ldgr.Has(addr) {
			s.esc.EscalateFailure(addr)
		}
		return false
	}

	s.metrics.ProbesSucceeded.Add(1)
	s.topo.UpsertPath(res.Hops)
	s.ldgr.RecordProbeSuccess(addr, s.self.NodeID, now)
	for _, hop := range res.Hops {
		s.ldgr.RecordProbeSuccess(hop.Addr, s.self.NodeID, now)
	}
	s.announcePath(addr, res.Hops, now)
	return true
}

// announcePath shares one probed path on the topology channel. A publish
// failure is logged and dropped; the path is already merged locally and the
// next round re-announces it.
func (s *Scheduler) announcePath(target netip.Addr, hops []types.Hop, now time.Time) {
	msg := types.NewPathAnnouncement(s.self.NodeID, target, hops, now)
	raw, err := types.EncodeMessage(msg)
	if err != nil {
		s.Logger.Error("failed to encode path announcement", "target", target, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.publishTimeout)
	defer cancel()
	if err := s.trans.Publish(ctx, transport.ChannelTopology, raw); err != nil {
		s.Logger.Error("failed to announce path", "target", target, "err", err)
	}
}
