package registry

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermap/intermap/libs/log"
	"github.com/intermap/intermap/types"
)

func TestRegistryAdd(t *testing.T) {
	reg := New(log.TestingLogger())

	added, err := reg.Add(netip.MustParseAddr("8.8.8.8"), types.OriginWellKnown)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, reg.Size())
	assert.True(t, reg.Contains(netip.MustParseAddr("8.8.8.8")))

	// Re-adding is a no-op, not an error.
	added, err = reg.Add(netip.MustParseAddr("8.8.8.8"), types.OriginPeer)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, reg.Size())

	// The original origin survives a duplicate add.
	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.OriginWellKnown, snap[0].Origin)
}

func TestRegistryRejectsNonPublic(t *testing.T) {
	reg := New(log.TestingLogger())

	for _, raw := range []string{"192.168.1.1", "10.0.0.1", "127.0.0.1", "224.0.0.1"} {
		_, err := reg.Add(netip.MustParseAddr(raw), types.OriginPeer)
		require.Error(t, err, "expected rejection of %s", raw)
		assert.ErrorAs(t, err, &ErrInvalidAddress{})
	}
	assert.Zero(t, reg.Size())
}

func TestRegistryRemove(t *testing.T) {
	reg := New(log.TestingLogger())

	addr := netip.MustParseAddr("203.0.113.99")
	_, err := reg.Add(addr, types.OriginPeer)
	require.NoError(t, err)

	reg.Remove(addr)
	assert.False(t, reg.Contains(addr))

	// Removing twice is a no-op.
	reg.Remove(addr)
	assert.Zero(t, reg.Size())
}

func TestRegistrySnapshotSorted(t *testing.T) {
	reg := New(log.TestingLogger())

	for _, raw := range []string{"9.9.9.9", "1.1.1.1", "8.8.8.8"} {
		_, err := reg.Add(netip.MustParseAddr(raw), types.OriginWellKnown)
		require.NoError(t, err)
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "1.1.1.1", snap[0].Address.String())
	assert.Equal(t, "8.8.8.8", snap[1].Address.String())
	assert.Equal(t, "9.9.9.9", snap[2].Address.String())
}

func TestRegistryRemoveAll(t *testing.T) {
	reg := New(log.TestingLogger())

	_, err := reg.Add(netip.MustParseAddr("8.8.8.8"), types.OriginWellKnown)
	require.NoError(t, err)
	_, err = reg.Add(netip.MustParseAddr("9.9.9.9"), types.OriginPeer)
	require.NoError(t, err)

	removed := reg.RemoveAll(func(tgt types.TraceTarget) bool {
		return tgt.Origin == types.OriginPeer
	})
	assert.Equal(t, 1, removed)
	assert.True(t, reg.Contains(netip.MustParseAddr("8.8.8.8")))
	assert.False(t, reg.Contains(netip.MustParseAddr("9.9.9.9")))
}

func TestExpandOwnSubnet(t *testing.T) {
	reg := New(log.TestingLogger())

	self := netip.MustParseAddr("203.0.113.42")
	added, err := reg.ExpandOwnSubnet(self, 24)
	require.NoError(t, err)

	// 256 minus network, broadcast and self.
	assert.Equal(t, 253, added)
	assert.Equal(t, 253, reg.Size())

	assert.False(t, reg.Contains(self), "own address must not be a target")
	assert.False(t, reg.Contains(netip.MustParseAddr("203.0.113.0")))
	assert.False(t, reg.Contains(netip.MustParseAddr("203.0.113.255")))
	assert.True(t, reg.Contains(netip.MustParseAddr("203.0.113.1")))
	assert.True(t, reg.Contains(netip.MustParseAddr("203.0.113.254")))

	assert.Equal(t, netip.MustParsePrefix("203.0.113.0/24"), reg.OwnSubnet())
}

func TestExpandOwnSubnetSlash31(t *testing.T) {
	reg := New(log.TestingLogger())

	// RFC 3021 pair: the peer address is the only target.
	added, err := reg.ExpandOwnSubnet(netip.MustParseAddr("203.0.113.42"), 31)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.True(t, reg.Contains(netip.MustParseAddr("203.0.113.43")))
	assert.False(t, reg.Contains(netip.MustParseAddr("203.0.113.42")))
}

func TestExpandOwnSubnetSamePrefixNoop(t *testing.T) {
	reg := New(log.TestingLogger())

	self := netip.MustParseAddr("203.0.113.42")
	_, err := reg.ExpandOwnSubnet(self, 24)
	require.NoError(t, err)

	// A different host in the same network must not re-expand.
	added, err := reg.ExpandOwnSubnet(netip.MustParseAddr("203.0.113.77"), 24)
	require.NoError(t, err)
	assert.Zero(t, added)
	// 203.0.113.77 was added by the first expansion and stays.
	assert.True(t, reg.Contains(netip.MustParseAddr("203.0.113.77")))
}

func TestExpandOwnSubnetRejectsPrivate(t *testing.T) {
	reg := New(log.TestingLogger())

	_, err := reg.ExpandOwnSubnet(netip.MustParseAddr("192.168.1.5"), 24)
	require.Error(t, err)
	assert.Zero(t, reg.Size())
}

func TestExpandOwnSubnetRecoversAfterPrivateDetour(t *testing.T) {
	reg := New(log.TestingLogger())

	self := netip.MustParseAddr("203.0.113.42")
	_, err := reg.ExpandOwnSubnet(self, 24)
	require.NoError(t, err)

	// Captive portal: targets retracted, expansion fails.
	reg.RemoveAll(func(tgt types.TraceTarget) bool {
		return tgt.Origin == types.OriginOwnSubnet
	})
	_, err = reg.ExpandOwnSubnet(netip.MustParseAddr("192.168.1.5"), 24)
	require.Error(t, err)

	// Back on the original network the same prefix expands again.
	added, err := reg.ExpandOwnSubnet(self, 24)
	require.NoError(t, err)
	assert.Equal(t, 253, added)
}

func TestExpandOwnSubnetChange(t *testing.T) {
	reg := New(log.TestingLogger())

	_, err := reg.ExpandOwnSubnet(netip.MustParseAddr("203.0.113.42"), 24)
	require.NoError(t, err)

	removed := reg.RemoveAll(func(tgt types.TraceTarget) bool {
		return tgt.Origin == types.OriginOwnSubnet
	})
	assert.Equal(t, 253, removed)

	added, err := reg.ExpandOwnSubnet(netip.MustParseAddr("198.51.100.10"), 24)
	require.NoError(t, err)
	assert.Equal(t, 253, added)
	assert.True(t, reg.Contains(netip.MustParseAddr("198.51.100.1")))
	assert.False(t, reg.Contains(netip.MustParseAddr("203.0.113.1")))
}
