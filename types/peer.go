package types

import (
	"net/netip"
	"sort"
	"time"

	imsync "github.com/intermap/intermap/libs/sync"
)

// PeerRecord tracks one discovered remote node. Records are created on the
// first discovery message and refreshed by every heartbeat.
type PeerRecord struct {
	PeerID          string
	ExternalIP      netip.Addr
	LastHeartbeatAt time.Time
}

// Silent reports whether the peer has not been heard from within timeout.
func (p PeerRecord) Silent(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastHeartbeatAt) > timeout
}

// PeerSet is a concurrent set of peer records keyed by peer ID.
type PeerSet struct {
	mtx   imsync.RWMutex
	peers map[string]PeerRecord
}

func NewPeerSet() *PeerSet {
	return &PeerSet{
		peers: make(map[string]PeerRecord),
	}
}

// Upsert adds or refreshes a peer record. It returns true if the peer was not
// known before.
func (ps *PeerSet) Upsert(rec PeerRecord) bool {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()

	_, known := ps.peers[rec.PeerID]
	ps.peers[rec.PeerID] = rec
	return !known
}

// Get returns the record for the given peer ID.
func (ps *PeerSet) Get(peerID string) (PeerRecord, bool) {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()

	rec, ok := ps.peers[peerID]
	return rec, ok
}

// Has reports whether the peer is known.
func (ps *PeerSet) Has(peerID string) bool {
	_, ok := ps.Get(peerID)
	return ok
}

// Size returns the number of known peers.
func (ps *PeerSet) Size() int {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	return len(ps.peers)
}

// List returns the known peers sorted by peer ID.
func (ps *PeerSet) List() []PeerRecord {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()

	out := make([]PeerRecord, 0, len(ps.peers))
	for _, rec := range ps.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// EvictSilent removes and returns every peer that has been silent for longer
// than timeout. Silence is expected churn, not an error.
func (ps *PeerSet) EvictSilent(now time.Time, timeout time.Duration) []PeerRecord {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()

	var evicted []PeerRecord
	for id, rec := range ps.peers {
		if rec.Silent(now, timeout) {
			evicted = append(evicted, rec)
			delete(ps.peers, id)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].PeerID < evicted[j].PeerID })
	return evicted
}
