package scheduler

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermap/intermap/config"
	"github.com/intermap/intermap/ledger"
	"github.com/intermap/intermap/libs/log"
	imsync "github.com/intermap/intermap/libs/sync"
	"github.com/intermap/intermap/probe"
	"github.com/intermap/intermap/registry"
	"github.com/intermap/intermap/topology"
	"github.com/intermap/intermap/transport"
	"github.com/intermap/intermap/types"
)

var (
	target1 = netip.MustParseAddr("8.8.8.8")
	target2 = netip.MustParseAddr("9.9.9.9")
)

// escRecorder records escalated addresses.
type escRecorder struct {
	mtx   imsync.Mutex
	addrs []netip.Addr
}

func (r *escRecorder) EscalateFailure(addr netip.Addr) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.addrs = append(r.addrs, addr)
}

func (r *escRecorder) escalated() []netip.Addr {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]netip.Addr, len(r.addrs))
	copy(out, r.addrs)
	return out
}

type fixture struct {
	clk    *clock.Mock
	bus    *transport.Memory
	prober *probe.MockProber
	reg    *registry.Registry
	ldgr   *ledger.Ledger
	graph  *topology.MemoryGraph
	esc    *escRecorder
	self   *types.NodeIdentity
	s      *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clk:    clock.NewMock(),
		bus:    transport.NewMemory("test-bus"),
		prober: probe.NewMockProber(),
		reg:    registry.New(log.TestingLogger()),
		ldgr:   ledger.New(log.TestingLogger()),
		graph:  topology.NewMemoryGraph(),
		esc:    &escRecorder{},
		self:   types.NewNodeIdentity("node-self"),
	}
	f.s = New(
		config.TestTraceConfig(), time.Second,
		f.self, f.reg, f.ldgr, f.graph, f.prober, f.bus, f.esc,
		WithClock(f.clk),
	)
	f.s.SetLogger(log.TestingLogger())
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.Start())
	t.Cleanup(func() {
		if f.s.IsRunning() {
			require.NoError(t, f.s.Stop())
		}
	})
}

func TestRoundProbesSnapshot(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)
	_, err = f.reg.Add(target2, types.OriginWellKnown)
	require.NoError(t, err)

	hop := netip.MustParseAddr("203.0.113.1")
	f.prober.SetPath(target1,
		types.Hop{Addr: hop, RTT: 3 * time.Millisecond},
		types.Hop{Addr: target1, RTT: 12 * time.Millisecond},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tap, err := f.bus.Subscribe(ctx, transport.ChannelTopology)
	require.NoError(t, err)

	f.start(t)

	// The first round runs immediately.
	require.Eventually(t, func() bool {
		return f.prober.CallCount(target1) == 1 && f.prober.CallCount(target2) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Success: path merged, every hop marked reachable, path announced.
	require.Eventually(t, func() bool {
		return f.graph.HasEdge(hop, target1)
	}, 2*time.Second, 10*time.Millisecond)

	rec, ok := f.ldgr.Get(target1)
	require.True(t, ok)
	assert.Contains(t, rec.ReachableBy, f.self.NodeID)
	hopRec, ok := f.ldgr.Get(hop)
	require.True(t, ok)
	assert.Contains(t, hopRec.ReachableBy, f.self.NodeID)

	select {
	case raw := <-tap:
		msg, err := types.DecodeMessage(raw.Data)
		require.NoError(t, err)
		pa, ok := msg.(*types.PathAnnouncement)
		require.True(t, ok)
		assert.Equal(t, target1.String(), pa.Target)
		assert.Len(t, pa.Hops, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no path announcement published")
	}

	// Failure for a never-mapped address: no escalation, no record.
	assert.Empty(t, f.esc.escalated())
	assert.False(t, f.ldgr.Has(target2))
}

func TestFailureEscalatesWhenMapped(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)

	// Mapped in a previous round, now failing.
	f.ldgr.RecordProbeSuccess(target1, f.self.NodeID, f.clk.Now())
	f.prober.SetError(target1, probe.ErrTimeout)

	f.start(t)

	require.Eventually(t, func() bool {
		esc := f.esc.escalated()
		return len(esc) == 1 && esc[0] == target1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoundsRepeatOnInterval(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)

	f.start(t)

	require.Eventually(t, func() bool {
		return f.prober.CallCount(target1) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Let the loop arm the inter-round timer, then advance past it.
	time.Sleep(20 * time.Millisecond)
	f.clk.Add(config.TestTraceConfig().RoundInterval)

	require.Eventually(t, func() bool {
		return f.prober.CallCount(target1) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransportOutageKeepsRoundsRunning(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)

	hop := netip.MustParseAddr("203.0.113.1")
	f.prober.SetPath(target1,
		types.Hop{Addr: hop, RTT: 3 * time.Millisecond},
		types.Hop{Addr: target1, RTT: 12 * time.Millisecond},
	)

	// The bus is down before the scheduler even starts. Announcements fail,
	// probing and local merging must not.
	f.bus.SetDown(true)

	f.start(t)

	require.Eventually(t, func() bool {
		return f.prober.CallCount(target1) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.graph.HasEdge(hop, target1)
	}, 2*time.Second, 10*time.Millisecond)
	rec, ok := f.ldgr.Get(target1)
	require.True(t, ok)
	assert.Contains(t, rec.ReachableBy, f.self.NodeID)

	// The next round still arms and fires.
	time.Sleep(20 * time.Millisecond)
	f.clk.Add(config.TestTraceConfig().RoundInterval)

	require.Eventually(t, func() bool {
		return f.prober.CallCount(target1) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// proberFunc adapts a function to the Prober interface.
type proberFunc func(ctx context.Context, target netip.Addr, maxHops int, timeout time.Duration) (probe.Result, error)

func (f proberFunc) Trace(ctx context.Context, target netip.Addr, maxHops int, timeout time.Duration) (probe.Result, error) {
	return f(ctx, target, maxHops, timeout)
}

func TestMidRoundRetractionSkipsTargets(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)
	_, err = f.reg.Add(target2, types.OriginWellKnown)
	require.NoError(t, err)

	probed := make(chan netip.Addr, 8)
	// Probing the first target retracts the second; the snapshot is stale by
	// the time the loop reaches it.
	prober := proberFunc(func(_ context.Context, target netip.Addr, _ int, _ time.Duration) (probe.Result, error) {
		probed <- target
		f.reg.Remove(target2)
		return probe.Result{}, probe.ErrUnreachable
	})

	s := New(
		config.TestTraceConfig(), time.Second,
		f.self, f.reg, f.ldgr, f.graph, prober, f.bus, f.esc,
		WithClock(f.clk),
	)
	s.SetLogger(log.TestingLogger())
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	select {
	case addr := <-probed:
		assert.Equal(t, target1, addr, "snapshot order is by address")
	case <-time.After(2 * time.Second):
		t.Fatal("no probe happened")
	}

	select {
	case addr := <-probed:
		t.Fatalf("retracted target still probed: %s", addr)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerStopsMidRound(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 3*time.Second))

	f := newFixture(t)
	_, err := f.reg.Add(target1, types.OriginWellKnown)
	require.NoError(t, err)
	_, err = f.reg.Add(target2, types.OriginWellKnown)
	require.NoError(t, err)

	started := make(chan struct{})
	block := make(chan struct{})
	prober := proberFunc(func(ctx context.Context, target netip.Addr, _ int, _ time.Duration) (probe.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return probe.Result{}, probe.ErrUnreachable
	})

	s := New(
		config.TestTraceConfig(), time.Second,
		f.self, f.reg, f.ldgr, f.graph, prober, f.bus, f.esc,
		WithClock(f.clk),
	)
	s.SetLogger(log.TestingLogger())
	require.NoError(t, s.Start())

	<-started
	// Stop must cancel the in-flight probe and return.
	require.NoError(t, s.Stop())
	close(block)
}
