package topology

import (
	"net/netip"

	"gonum.org/v1/gonum/graph/simple"

	imsync "github.com/intermap/intermap/libs/sync"
	"github.com/intermap/intermap/types"
)

// MemoryGraph is an in-process Graph on a gonum weighted undirected graph.
// Edge weights are the RTT delta between consecutive hops in milliseconds,
// the closest thing a traceroute gives to a per-link latency.
type MemoryGraph struct {
	mtx    imsync.RWMutex
	g      *simple.WeightedUndirectedGraph
	ids    map[netip.Addr]int64
	addrs  map[int64]netip.Addr
	nextID int64
}

var _ Graph = (*MemoryGraph)(nil)

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		g:     simple.NewWeightedUndirectedGraph(0, 0),
		ids:   make(map[netip.Addr]int64),
		addrs: make(map[int64]netip.Addr),
	}
}

// UpsertPath implements Graph.
func (m *MemoryGraph) UpsertPath(hops []types.Hop) {
	if len(hops) == 0 {
		return
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	prevID := m.ensureNode(hops[0].Addr)
	for i := 1; i < len(hops); i++ {
		id := m.ensureNode(hops[i].Addr)
		if id != prevID {
			delta := hops[i].RTT - hops[i-1].RTT
			if delta < 0 {
				delta = -delta
			}
			weight := float64(delta.Microseconds()) / 1e3
			m.g.SetWeightedEdge(m.g.NewWeightedEdge(simple.Node(prevID), simple.Node(id), weight))
		}
		prevID = id
	}
}

// RemoveAddress implements Graph.
func (m *MemoryGraph) RemoveAddress(addr netip.Addr) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	id, ok := m.ids[addr]
	if !ok {
		return
	}
	m.g.RemoveNode(id)
	delete(m.ids, addr)
	delete(m.addrs, id)
}

// RemoveSubnet drops every node inside prefix and returns how many were
// removed. Used by the mobility monitor's optional old-location cleanup.
func (m *MemoryGraph) RemoveSubnet(prefix netip.Prefix) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	removed := 0
	for addr, id := range m.ids {
		if prefix.Contains(addr) {
			m.g.RemoveNode(id)
			delete(m.ids, addr)
			delete(m.addrs, id)
			removed++
		}
	}
	return removed
}

// HasAddress reports whether addr is in the graph.
func (m *MemoryGraph) HasAddress(addr netip.Addr) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	_, ok := m.ids[addr]
	return ok
}

// HasEdge reports whether an edge exists between two addresses.
func (m *MemoryGraph) HasEdge(a, b netip.Addr) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	aid, ok := m.ids[a]
	if !ok {
		return false
	}
	bid, ok := m.ids[b]
	if !ok {
		return false
	}
	return m.g.HasEdgeBetween(aid, bid)
}

// NumAddresses returns the node count.
func (m *MemoryGraph) NumAddresses() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.ids)
}

// Addresses returns every mapped address, in no particular order.
func (m *MemoryGraph) Addresses() []netip.Addr {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	out := make([]netip.Addr, 0, len(m.ids))
	for addr := range m.ids {
		out = append(out, addr)
	}
	return out
}

// ensureNode returns the graph ID for addr, creating the node if needed.
// Caller holds the write lock.
func (m *MemoryGraph) ensureNode(addr netip.Addr) int64 {
	if id, ok := m.ids[addr]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.ids[addr] = id
	m.addrs[id] = addr
	m.g.AddNode(simple.Node(id))
	return id
}
