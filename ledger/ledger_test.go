package ledger

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermap/intermap/libs/log"
)

var (
	addr1 = netip.MustParseAddr("203.0.113.99")
	addr2 = netip.MustParseAddr("198.51.100.7")
)

func TestRecordProbeSuccessCreates(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	assert.False(t, l.Has(addr1))
	l.RecordProbeSuccess(addr1, "node-a", now)
	assert.True(t, l.Has(addr1))

	rec, ok := l.Get(addr1)
	require.True(t, ok)
	assert.Equal(t, []string{"node-a"}, rec.ReachableBy)
	assert.Empty(t, rec.UnreachableBy)
	assert.Equal(t, now, rec.LastVerifiedAt)
}

func TestRecordProbeFailureNeedsRecord(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	// A failure for a never-mapped address is not recorded.
	assert.False(t, l.RecordProbeFailure(addr1, "node-a", now))
	assert.False(t, l.Has(addr1))

	l.RecordProbeSuccess(addr1, "node-a", now)
	assert.True(t, l.RecordProbeFailure(addr1, "node-a", now))
}

func TestVoteSetsDisjoint(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	require.True(t, l.ApplyVote(addr1, "node-b", false, now))

	// node-b flips to reachable: it must leave the unreachable set.
	require.True(t, l.ApplyVote(addr1, "node-b", true, now))

	rec, ok := l.Get(addr1)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, rec.ReachableBy)
	assert.Empty(t, rec.UnreachableBy)

	// And back again.
	require.True(t, l.ApplyVote(addr1, "node-b", false, now))
	rec, _ = l.Get(addr1)
	assert.Equal(t, []string{"node-a"}, rec.ReachableBy)
	assert.Equal(t, []string{"node-b"}, rec.UnreachableBy)
}

func TestVoteForUnknownAddressDiscarded(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	assert.False(t, l.ApplyVote(addr1, "node-b", false, now))
	assert.False(t, l.Has(addr1), "a discarded vote must not create a record")
}

func TestSetPendingDedup(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	assert.False(t, l.SetPending(addr1, now), "no record yet")

	l.RecordProbeSuccess(addr1, "node-a", now)
	assert.True(t, l.SetPending(addr1, now))
	assert.False(t, l.SetPending(addr1, now), "already pending")
	assert.True(t, l.Pending(addr1))
}

func TestSweepQuorumRemoves(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	require.True(t, l.RecordProbeFailure(addr1, "node-a", now))
	require.True(t, l.SetPending(addr1, now))
	require.True(t, l.ApplyVote(addr1, "node-b", false, now))
	require.True(t, l.ApplyVote(addr1, "node-c", false, now))

	res := l.Sweep(now, 3, 10*time.Minute)
	assert.Equal(t, []netip.Addr{addr1}, res.Removed)
	assert.Empty(t, res.Vetoed)
	assert.Empty(t, res.Expired)

	assert.False(t, l.Has(addr1), "quorum removal deletes the record")

	// A second sweep finds nothing: removal happens exactly once.
	res = l.Sweep(now, 3, 10*time.Minute)
	assert.Empty(t, res.Removed)
}

func TestSweepVeto(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	require.True(t, l.RecordProbeFailure(addr1, "node-a", now))
	require.True(t, l.SetPending(addr1, now))

	// Plenty of unreachable votes, but one node still reaches it.
	require.True(t, l.ApplyVote(addr1, "node-b", false, now))
	require.True(t, l.ApplyVote(addr1, "node-c", false, now))
	require.True(t, l.ApplyVote(addr1, "node-d", false, now))
	require.True(t, l.ApplyVote(addr1, "node-e", true, now))

	res := l.Sweep(now, 3, 10*time.Minute)
	assert.Equal(t, []netip.Addr{addr1}, res.Vetoed)
	assert.Empty(t, res.Removed)

	assert.True(t, l.Has(addr1), "vetoed addresses stay mapped")
	assert.False(t, l.Pending(addr1), "veto clears the pending flag")
}

func TestSweepBelowQuorumWaits(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	require.True(t, l.RecordProbeFailure(addr1, "node-a", now))
	require.True(t, l.SetPending(addr1, now))
	require.True(t, l.ApplyVote(addr1, "node-b", false, now))

	res := l.Sweep(now.Add(time.Minute), 3, 10*time.Minute)
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Vetoed)
	assert.Empty(t, res.Expired)
	assert.True(t, l.Pending(addr1), "still collecting votes")
}

func TestSweepExpiry(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	require.True(t, l.RecordProbeFailure(addr1, "node-a", now))
	require.True(t, l.SetPending(addr1, now))

	res := l.Sweep(now.Add(11*time.Minute), 3, 10*time.Minute)
	assert.Equal(t, []netip.Addr{addr1}, res.Expired)

	assert.True(t, l.Has(addr1))
	assert.False(t, l.Pending(addr1))
	// The flag can be set again for a later escalation.
	assert.True(t, l.SetPending(addr1, now.Add(12*time.Minute)))
}

func TestSweepIgnoresNonPending(t *testing.T) {
	l := New(log.TestingLogger())
	now := time.Now()

	l.RecordProbeSuccess(addr1, "node-a", now)
	l.RecordProbeSuccess(addr2, "node-a", now)
	require.True(t, l.RecordProbeFailure(addr2, "node-a", now))
	require.True(t, l.ApplyVote(addr2, "node-b", false, now))
	require.True(t, l.ApplyVote(addr2, "node-c", false, now))

	// addr2 has quorum unreachable votes but was never marked pending.
	res := l.Sweep(now, 3, 10*time.Minute)
	assert.Empty(t, res.Removed)
	assert.Equal(t, 2, l.Size())
}
