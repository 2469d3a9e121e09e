package discovery

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/intermap/intermap/config"
	"github.com/intermap/intermap/libs/service"
	"github.com/intermap/intermap/registry"
	"github.com/intermap/intermap/topology"
	"github.com/intermap/intermap/transport"
	"github.com/intermap/intermap/types"
)

// Reactor maintains the peer set and the shared view of the network. It
// publishes our identity on the discovery channel as a heartbeat, applies
// peers' announcements and path publications, and evicts peers that fall
// silent. Eviction is expected churn: residential nodes come and go, and a
// returning peer is simply re-discovered.
type Reactor struct {
	service.BaseService

	cfg *config.DiscoveryConfig

	self  *types.NodeIdentity
	peers *types.PeerSet
	reg   *registry.Registry
	topo  topology.Graph
	trans transport.Transport

	publishTimeout time.Duration

	clock   clock.Clock
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithClock injects a clock, letting tests drive the timers.
func WithClock(c clock.Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// WithMetrics attaches metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Reactor) { r.metrics = m }
}

func New(
	cfg *config.DiscoveryConfig,
	publishTimeout time.Duration,
	self *types.NodeIdentity,
	peers *types.PeerSet,
	reg *registry.Registry,
	topo topology.Graph,
	trans transport.Transport,
	opts ...Option,
) *Reactor {
	r := &Reactor{
		cfg:            cfg,
		publishTimeout: publishTimeout,
		self:           self,
		peers:          peers,
		reg:            reg,
		topo:           topo,
		trans:          trans,
		clock:          clock.New(),
		metrics:        NopMetrics(),
	}
	r.BaseService = *service.NewBaseService(nil, "Discovery", r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStart implements service.Service: it subscribes to the discovery and
// topology channels and starts the announce and eviction timers.
func (r *Reactor) OnStart() error {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	discSub, err := r.trans.Subscribe(r.ctx, transport.ChannelDiscovery)
	if err != nil {
		r.cancel()
		return err
	}
	topoSub, err := r.trans.Subscribe(r.ctx, transport.ChannelTopology)
	if err != nil {
		r.cancel()
		return err
	}

	go r.consumeLoop(discSub)
	go r.consumeLoop(topoSub)
	go r.announceLoop()
	go r.evictionLoop()
	return nil
}

// OnStop implements service.Service.
func (r *Reactor) OnStop() {
	r.cancel()
}

// Announce publishes our identity on the discovery channel. Before the
// external address is detected there is nothing meaningful to announce and
// the call is a no-op.
func (r *Reactor) Announce() {
	ip := r.self.ExternalIP()
	if !ip.IsValid() {
		r.Logger.Debug("skipping announcement, external address not yet known")
		return
	}

	msg := types.NewAnnouncement(r.self.NodeID, ip, r.clock.Now())
	raw, err := types.EncodeMessage(msg)
	if err != nil {
		r.Logger.Error("failed to encode announcement", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.publishTimeout)
	defer cancel()
	if err := r.trans.Publish(ctx, transport.ChannelDiscovery, raw); err != nil {
		r.Logger.Error("failed to publish announcement", "err", err)
		return
	}
	r.metrics.AnnouncementsSent.Add(1)
}

func (r *Reactor) announceLoop() {
	r.Announce()

	ticker := r.clock.Ticker(r.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Announce()
		}
	}
}

func (r *Reactor) evictionLoop() {
	ticker := r.clock.Ticker(r.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			evicted := r.peers.EvictSilent(r.clock.Now(), r.cfg.PeerTimeout)
			for _, p := range evicted {
				r.metrics.PeersEvicted.Add(1)
				r.Logger.Info("evicted silent peer", "peer", p.PeerID, "last_seen", p.LastHeartbeatAt)
			}
			r.metrics.Peers.Set(float64(r.peers.Size()))
		}
	}
}

func (r *Reactor) consumeLoop(sub <-chan transport.RawMessage) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			msg, err := types.DecodeMessage(raw.Data)
			if err != nil {
				// Foreign traffic on a public topic is normal.
				if !errors.Is(err, types.ErrUnknownMessageType) && !errors.Is(err, types.ErrProtocolMismatch) {
					r.Logger.Debug("dropping undecodable message", "err", err)
				}
				continue
			}

			switch m := msg.(type) {
			case *types.Announcement:
				r.handleAnnouncement(m)
			case *types.PathAnnouncement:
				r.handlePath(m)
			default:
				// Verification traffic has its own reactor.
			}
		}
	}
}

// handleAnnouncement upserts the sender's peer record and schedules its
// external address for probing. A heartbeat from a known peer only refreshes
// the record.
func (r *Reactor) handleAnnouncement(m *types.Announcement) {
	if m.NodeID == r.self.NodeID {
		return
	}

	ip, err := netip.ParseAddr(m.ExternalIP)
	if err != nil {
		return
	}
	ip = ip.Unmap()

	isNew := r.peers.Upsert(types.PeerRecord{
		PeerID:          m.NodeID,
		ExternalIP:      ip,
		LastHeartbeatAt: r.clock.Now(),
	})
	r.metrics.AnnouncementsReceived.Add(1)
	r.metrics.Peers.Set(float64(r.peers.Size()))

	if isNew {
		r.Logger.Info("discovered peer", "peer", m.NodeID, "addr", ip)
		if _, err := r.reg.Add(ip, types.OriginPeer); err != nil {
			// Peers behind NAT may announce a non-public address.
			r.Logger.Debug("peer address not schedulable", "peer", m.NodeID, "addr", ip, "err", err)
		}
	}
}

// handlePath merges a peer's probed path into the local topology. Paths are
// trusted as-is; every node sees the same announcements, so the graphs
// converge.
func (r *Reactor) handlePath(m *types.PathAnnouncement) {
	if m.NodeID == r.self.NodeID {
		return
	}
	r.topo.UpsertPath(m.HopList())
	r.metrics.PathsMerged.Add(1)
	r.Logger.Debug("merged peer path", "peer", m.NodeID, "target", m.Target, "hops", len(m.Hops))
}
