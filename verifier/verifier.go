package verifier

import (
	"context"
	"errors"
	"net/netip"

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

// Verifier runs the collaborative dead-address verification protocol.
//
// A single failed probe is weak evidence: congestion, a local firewall or an
// asymmetric route all look like a dead address from one vantage point. So a
// qualifying failure only broadcasts a verification request; the address is
// purged when a quorum of distinct nodes voted unreachable and nobody voted
// reachable. One reachable vote vetoes removal.
//
// Inbound protocol messages are buffered in a queue and handled by a single
// consumer, so votes from one sender apply in the order sent. Quorum
// evaluation runs on its own timer to batch responses instead of thrashing
// per vote.
type Verifier struct {
	service.BaseService

	verifyCfg *config.VerifyConfig
	traceCfg  *config.TraceConfig

	self   *types.NodeIdentity
	ldgr   *ledger.Ledger
	reg    *registry.Registry
	topo   topology.Graph
	prober probe.Prober
	trans  transport.Transport

	clock   clock.Clock
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock injects a clock, letting tests drive the sweep timer.
func WithClock(c clock.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithMetrics attaches metrics.
func WithMetrics(m *Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New wires a Verifier. It does not touch the network until Start.
func New(
	verifyCfg *config.VerifyConfig,
	traceCfg *config.TraceConfig,
	self *types.NodeIdentity,
	ldgr *ledger.Ledger,
	reg *registry.Registry,
	topo topology.Graph,
	prober probe.Prober,
	trans transport.Transport,
	opts ...Option,
) *Verifier {
	v := &Verifier{
		verifyCfg: verifyCfg,
		traceCfg:  traceCfg,
		self:      self,
		ldgr:      ldgr,
		reg:       reg,
		topo:      topo,
		prober:    prober,
		trans:     trans,
		clock:     clock.New(),
		metrics:   NopMetrics(),
	}
	v.BaseService = *service.NewBaseService(nil, "Verifier", v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// OnStart implements service.Service: it subscribes to the verification
// channel and starts the consumer and sweep goroutines.
func (v *Verifier) OnStart() error {
	v.ctx, v.cancel = context.WithCancel(context.Background())

	sub, err := v.trans.Subscribe(v.ctx, transport.ChannelVerification)
	if err != nil {
		v.cancel()
		return err
	}

	go v.consumeLoop(sub)
	go v.sweepLoop()
	return nil
}

// OnStop implements service.Service.
func (v *Verifier) OnStop() {
	v.cancel()
}

// EscalateFailure is called by the scheduler when a probe failed for an
// address the ledger already knows. It records the self vote and, if no
// verification is pending yet, broadcasts a request. The pending flag is
// flipped atomically, so concurrent escalations for the same address produce
// exactly one broadcast.
func (v *Verifier) EscalateFailure(addr netip.Addr) {
	now := v.clock.Now()
	if !v.ldgr.RecordProbeFailure(addr, v.self.NodeID, now) {
		// Never mapped; a first-time failure carries no information.
		return
	}
	if !v.ldgr.SetPending(addr, now) {
		v.Logger.Debug("verification already pending", "addr", addr)
		return
	}

	req := types.NewVerificationRequest(addr, v.self.NodeID, now)
	if err := v.publish(req); err != nil {
		v.Logger.Error("failed to broadcast verification request, will retry on next failure",
			"addr", addr, "err", err)
		return
	}
	v.metrics.RequestsSent.Add(1)
	v.Logger.Info("requested verification", "addr", addr)
}

func (v *Verifier) consumeLoop(sub <-chan transport.RawMessage) {
	for {
		select {
		case <-v.ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			msg, err := types.DecodeMessage(raw.Data)
			if err != nil {
				// Foreign traffic on a public topic is normal.
				if !errors.Is(err, types.ErrUnknownMessageType) && !errors.Is(err, types.ErrProtocolMismatch) {
					v.Logger.Debug("dropping undecodable verification message", "err", err)
				}
				continue
			}

			switch m := msg.(type) {
			case *types.VerificationRequest:
				v.handleRequest(m)
			case *types.VerificationResponse:
				v.handleResponse(m)
			default:
				v.Logger.Debug("unexpected message on verification channel", "type", msg.Type())
			}
		}
	}
}

// handleRequest answers a peer's verification request with an immediate
// out-of-schedule probe.
func (v *Verifier) handleRequest(req *types.VerificationRequest) {
	if req.Requester == v.self.NodeID {
		// Our own broadcast echoed back.
		return
	}
	addr := req.Addr()
	v.Logger.Info("verifying on behalf of peer", "addr", addr, "requester", req.Requester)

	ctx, cancel := context.WithTimeout(v.ctx, v.traceCfg.ProbeTimeout)
	res, err := v.prober.Trace(ctx, addr, v.traceCfg.MaxHops, v.traceCfg.ProbeTimeout)
	cancel()

	reachable := err == nil
	now := v.clock.Now()
	if reachable {
		// A successful probe is a successful probe, wherever it came from:
		// merge the path and record the sighting.
		v.topo.UpsertPath(res.Hops)
		v.ldgr.RecordProbeSuccess(addr, v.self.NodeID, now)
		for _, hop := range res.Hops {
			v.ldgr.RecordProbeSuccess(hop.Addr, v.self.NodeID, now)
		}
		// An address we can reach stays worth watching.
		if added, err := v.reg.Add(addr, types.OriginVerification); err == nil && added {
			v.Logger.Debug("scheduling verified address", "addr", addr)
		}
	} else {
		v.ldgr.RecordProbeFailure(addr, v.self.NodeID, now)
	}

	resp := types.NewVerificationResponse(addr, v.self.NodeID, reachable, len(res.Hops), now)
	if err := v.publish(resp); err != nil {
		v.Logger.Error("failed to publish verification response", "addr", addr, "err", err)
		return
	}
	v.metrics.RequestsHandled.Add(1)
}

// handleResponse applies a peer's vote. Flapping responders overwrite their
// previous vote; votes for purged addresses are discarded.
func (v *Verifier) handleResponse(resp *types.VerificationResponse) {
	if resp.Responder == v.self.NodeID {
		return
	}
	addr := resp.Addr()
	if v.ldgr.ApplyVote(addr, resp.Responder, resp.Reachable, v.clock.Now()) {
		v.metrics.VotesApplied.Add(1)
		v.Logger.Debug("applied verification vote",
			"addr", addr, "responder", resp.Responder, "reachable", resp.Reachable)
	} else {
		v.metrics.VotesDiscarded.Add(1)
		v.Logger.Debug("discarded vote for unknown address",
			"addr", addr, "responder", resp.Responder)
	}
}

func (v *Verifier) sweepLoop() {
	ticker := v.clock.Ticker(v.verifyCfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			v.sweep()
		}
	}
}

// sweep runs one quorum evaluation pass and applies the verdicts.
func (v *Verifier) sweep() {
	res := v.ldgr.Sweep(v.clock.Now(), v.verifyCfg.Quorum, v.verifyCfg.PendingTimeout)

	for _, addr := range res.Removed {
		v.topo.RemoveAddress(addr)
		v.reg.Remove(addr)
		v.metrics.AddressesRemoved.Add(1)
		v.Logger.Info("removed dead address by quorum", "addr", addr, "quorum", v.verifyCfg.Quorum)
	}
	for _, addr := range res.Vetoed {
		v.metrics.RemovalsVetoed.Add(1)
		v.Logger.Info("removal vetoed by reachable vote", "addr", addr)
	}
	for _, addr := range res.Expired {
		v.Logger.Debug("verification expired without verdict", "addr", addr)
	}

	v.metrics.LedgerRecords.Set(float64(v.ldgr.Size()))
}

func (v *Verifier) publish(msg types.Message) error {
	raw, err := types.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return v.trans.Publish(v.ctx, transport.ChannelVerification, raw)
}
