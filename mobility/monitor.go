package mobility

import (
	"context"
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

// subnetCleaner is implemented by topology graphs that can drop a whole
// prefix. The optional old-location cleanup uses it when available.
type subnetCleaner interface {
	RemoveSubnet(prefix netip.Prefix) int
}

// Monitor tracks the node's external address and reconciles the system when
// it changes: the previous own-subnet targets are retracted, the new subnet
// is expanded, and the new identity is announced. The probing loop and the
// verification protocol are not paused during the handover; a half-probed
// round simply skips targets that were retracted mid-round.
//
// Address changes apply immediately. A node flapping between two networks
// remaps on every heartbeat, which is the intended behavior: each detected
// address is the truth for as long as it is detected.
type Monitor struct {
	service.BaseService

	cfg      *config.MobilityConfig
	traceCfg *config.TraceConfig

	self     *types.NodeIdentity
	reg      *registry.Registry
	topo     topology.Graph
	trans    transport.Transport
	detector Detector

	publishTimeout time.Duration

	events  *types.MobilityLog
	clock   clock.Clock
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects a clock, letting tests drive the heartbeat.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithMetrics attaches metrics.
func WithMetrics(mt *Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func New(
	cfg *config.MobilityConfig,
	traceCfg *config.TraceConfig,
	publishTimeout time.Duration,
	self *types.NodeIdentity,
	reg *registry.Registry,
	topo topology.Graph,
	trans transport.Transport,
	detector Detector,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		cfg:            cfg,
		traceCfg:       traceCfg,
		publishTimeout: publishTimeout,
		self:           self,
		reg:            reg,
		topo:           topo,
		trans:          trans,
		detector:       detector,
		events:         types.NewMobilityLog(cfg.EventHistory),
		clock:          clock.New(),
		metrics:        NopMetrics(),
	}
	m.BaseService = *service.NewBaseService(nil, "Mobility", m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the retained address-change events, oldest first.
func (m *Monitor) Events() []types.MobilityEvent {
	return m.events.Events()
}

// OnStart implements service.Service. The first detection runs synchronously
// so the identity carries an external address before anything is announced;
// if it fails the node starts anyway and retries on the heartbeat.
func (m *Monitor) OnStart() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if err := m.CheckNow(m.ctx); err != nil {
		m.Logger.Error("initial external address detection failed, will retry", "err", err)
	}

	go m.heartbeatLoop()
	return nil
}

// OnStop implements service.Service.
func (m *Monitor) OnStop() {
	m.cancel()
}

func (m *Monitor) heartbeatLoop() {
	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckNow(m.ctx); err != nil {
				m.Logger.Error("external address detection failed", "err", err)
			}
		}
	}
}

// CheckNow runs one detection and applies any address change.
func (m *Monitor) CheckNow(ctx context.Context) error {
	m.metrics.Detections.Add(1)
	addr, err := m.detector.Detect(ctx)
	if err != nil {
		m.metrics.DetectionFailures.Add(1)
		return err
	}
	m.applyAddress(addr.Unmap())
	return nil
}

// applyAddress reconciles the node with a freshly detected external address.
func (m *Monitor) applyAddress(addr netip.Addr) {
	old := m.self.ExternalIP()
	if addr == old {
		return
	}
	m.self.SetExternalIP(addr)

	if old.IsValid() {
		m.events.Append(types.MobilityEvent{
			Timestamp:  m.clock.Now(),
			OldAddress: old,
			NewAddress: addr,
		})
		m.metrics.AddressChanges.Add(1)
		m.Logger.Info("external address changed", "old", old, "new", addr)
	} else {
		m.Logger.Info("external address detected", "addr", addr)
	}

	if m.traceCfg.AutoMapOwnSubnet {
		m.remapOwnSubnet(addr)
	}
	m.announce(addr)
}

// remapOwnSubnet retracts the previous own-subnet targets and expands the
// new network. A change that stays inside the same prefix skips the remap:
// the target set is already correct.
func (m *Monitor) remapOwnSubnet(addr netip.Addr) {
	oldPrefix := m.reg.OwnSubnet()

	newPrefix, err := addr.Unmap().Prefix(m.traceCfg.SubnetPrefixLen)
	if err != nil {
		m.Logger.Error("cannot derive own subnet", "addr", addr, "err", err)
		return
	}
	if newPrefix == oldPrefix {
		return
	}

	retracted := m.reg.RemoveAll(func(t types.TraceTarget) bool {
		return t.Origin == types.OriginOwnSubnet
	})

	added, err := m.reg.ExpandOwnSubnet(addr, m.traceCfg.SubnetPrefixLen)
	if err != nil {
		m.Logger.Error("own subnet expansion failed", "addr", addr, "err", err)
	}
	m.Logger.Info("remapped own subnet",
		"old", oldPrefix, "new", newPrefix, "retracted", retracted, "added", added)

	if m.cfg.CleanupOldLocation && oldPrefix.IsValid() {
		if cleaner, ok := m.topo.(subnetCleaner); ok {
			dropped := cleaner.RemoveSubnet(oldPrefix)
			m.Logger.Info("dropped old location from topology",
				"subnet", oldPrefix, "addresses", dropped)
		}
	}
}

// announce publishes the identity with the new address so peers update their
// records ahead of the periodic heartbeat.
func (m *Monitor) announce(addr netip.Addr) {
	msg := types.NewAnnouncement(m.self.NodeID, addr, m.clock.Now())
	raw, err := types.EncodeMessage(msg)
	if err != nil {
		m.Logger.Error("failed to encode announcement", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.publishTimeout)
	defer cancel()
	if err := m.trans.Publish(ctx, transport.ChannelDiscovery, raw); err != nil {
		m.Logger.Error("failed to announce new address", "err", err)
	}
}
