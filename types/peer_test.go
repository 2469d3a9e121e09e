package types

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerSetUpsert(t *testing.T) {
	ps := NewPeerSet()
	now := time.Now()

	isNew := ps.Upsert(PeerRecord{PeerID: "node-a", ExternalIP: netip.MustParseAddr("203.0.113.5"), LastHeartbeatAt: now})
	assert.True(t, isNew)
	assert.Equal(t, 1, ps.Size())

	// A heartbeat refreshes the record without changing membership.
	isNew = ps.Upsert(PeerRecord{PeerID: "node-a", ExternalIP: netip.MustParseAddr("203.0.113.5"), LastHeartbeatAt: now.Add(time.Minute)})
	assert.False(t, isNew)
	assert.Equal(t, 1, ps.Size())

	rec, ok := ps.Get("node-a")
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Minute), rec.LastHeartbeatAt)
}

func TestPeerSetEvictSilent(t *testing.T) {
	ps := NewPeerSet()
	now := time.Now()

	ps.Upsert(PeerRecord{PeerID: "node-a", LastHeartbeatAt: now})
	ps.Upsert(PeerRecord{PeerID: "node-b", LastHeartbeatAt: now.Add(-10 * time.Minute)})
	ps.Upsert(PeerRecord{PeerID: "node-c", LastHeartbeatAt: now.Add(-6 * time.Minute)})

	evicted := ps.EvictSilent(now, 5*time.Minute)
	require.Len(t, evicted, 2)
	assert.Equal(t, "node-b", evicted[0].PeerID)
	assert.Equal(t, "node-c", evicted[1].PeerID)

	assert.Equal(t, 1, ps.Size())
	assert.True(t, ps.Has("node-a"))

	// A returning peer is simply re-discovered.
	isNew := ps.Upsert(PeerRecord{PeerID: "node-b", LastHeartbeatAt: now})
	assert.True(t, isNew)
}

func TestMobilityLogBounded(t *testing.T) {
	l := NewMobilityLog(3)

	for i := 0; i < 5; i++ {
		l.Append(MobilityEvent{Timestamp: time.Unix(int64(i), 0)})
	}

	events := l.Events()
	require.Len(t, events, 3)
	assert.Equal(t, time.Unix(2, 0), events[0].Timestamp)
	assert.Equal(t, time.Unix(4, 0), events[2].Timestamp)
}

func TestGenerateNodeID(t *testing.T) {
	a := GenerateNodeID()
	b := GenerateNodeID()

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^node-[0-9a-f]{12}$`, a)
}

func TestLoadOrGenNodeID(t *testing.T) {
	path := t.TempDir() + "/node_id"

	id1, err := LoadOrGenNodeID(path)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// The same file yields the same identity.
	id2, err := LoadOrGenNodeID(path)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
