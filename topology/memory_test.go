package topology

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/intermap/intermap/types"
)

func path(rawAddrs ...string) []types.Hop {
	hops := make([]types.Hop, len(rawAddrs))
	for i, raw := range rawAddrs {
		hops[i] = types.Hop{
			Addr: netip.MustParseAddr(raw),
			RTT:  time.Duration(i+1) * 10 * time.Millisecond,
		}
	}
	return hops
}

func TestUpsertPath(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(path("203.0.113.1", "198.51.100.1", "8.8.8.8"))

	assert.Equal(t, 3, g.NumAddresses())
	assert.True(t, g.HasEdge(netip.MustParseAddr("203.0.113.1"), netip.MustParseAddr("198.51.100.1")))
	assert.True(t, g.HasEdge(netip.MustParseAddr("198.51.100.1"), netip.MustParseAddr("8.8.8.8")))
	assert.False(t, g.HasEdge(netip.MustParseAddr("203.0.113.1"), netip.MustParseAddr("8.8.8.8")))
}

func TestUpsertPathIdempotent(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(path("203.0.113.1", "8.8.8.8"))
	g.UpsertPath(path("203.0.113.1", "8.8.8.8"))

	assert.Equal(t, 2, g.NumAddresses())
}

func TestUpsertPathMergesOverlap(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(path("203.0.113.1", "198.51.100.1", "8.8.8.8"))
	g.UpsertPath(path("203.0.113.1", "198.51.100.1", "9.9.9.9"))

	// The shared prefix is one set of nodes, not duplicated.
	assert.Equal(t, 4, g.NumAddresses())
}

func TestUpsertPathEmptyAndSingle(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(nil)
	assert.Zero(t, g.NumAddresses())

	// A single-hop path creates the node with no edges.
	g.UpsertPath(path("8.8.8.8"))
	assert.Equal(t, 1, g.NumAddresses())
	assert.True(t, g.HasAddress(netip.MustParseAddr("8.8.8.8")))
}

func TestUpsertPathRepeatedHop(t *testing.T) {
	g := NewMemoryGraph()

	// Consecutive duplicate hops must not create self-edges.
	g.UpsertPath(path("203.0.113.1", "203.0.113.1", "8.8.8.8"))
	assert.Equal(t, 2, g.NumAddresses())
}

func TestRemoveAddress(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(path("203.0.113.1", "198.51.100.1", "8.8.8.8"))
	g.RemoveAddress(netip.MustParseAddr("198.51.100.1"))

	assert.Equal(t, 2, g.NumAddresses())
	assert.False(t, g.HasAddress(netip.MustParseAddr("198.51.100.1")))
	assert.False(t, g.HasEdge(netip.MustParseAddr("203.0.113.1"), netip.MustParseAddr("198.51.100.1")))

	// Removing an unknown address is a no-op.
	g.RemoveAddress(netip.MustParseAddr("192.0.2.1"))
	assert.Equal(t, 2, g.NumAddresses())
}

func TestRemoveSubnet(t *testing.T) {
	g := NewMemoryGraph()

	g.UpsertPath(path("203.0.113.1", "203.0.113.7", "8.8.8.8"))

	removed := g.RemoveSubnet(netip.MustParsePrefix("203.0.113.0/24"))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, g.NumAddresses())
	assert.True(t, g.HasAddress(netip.MustParseAddr("8.8.8.8")))
}
