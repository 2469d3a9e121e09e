package ledger

import (
	"net/netip"
	"sort"
	"time"

	"github.com/intermap/intermap/libs/log"
	imsync "github.com/intermap/intermap/libs/sync"
)

// record is the per-address consensus state. A node's vote lives in exactly
// one of the two sets; applying a vote always removes the voter from the
// opposite set first.
type record struct {
	reachableBy   map[string]struct{}
	unreachableBy map[string]struct{}

	pending        bool
	pendingSince   time.Time
	lastVerifiedAt time.Time
}

// RecordView is a copy of one record, safe to inspect without holding any
// ledger lock.
type RecordView struct {
	Address        netip.Addr
	ReachableBy    []string
	UnreachableBy  []string
	Pending        bool
	LastVerifiedAt time.Time
}

// Ledger tracks which nodes have confirmed each mapped address reachable or
// unreachable. A record exists only for addresses that were mapped at least
// once: votes for unknown addresses are discarded, never buffered. This is
// also the resolution of the vote-vs-deletion race (last write wins, the
// late vote is dropped).
type Ledger struct {
	logger log.Logger

	mtx     imsync.RWMutex
	records map[netip.Addr]*record
}

// New returns an empty ledger.
func New(logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ledger{
		logger:  logger,
		records: make(map[netip.Addr]*record),
	}
}

// Has reports whether the address was ever mapped and not yet purged.
func (l *Ledger) Has(addr netip.Addr) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	_, ok := l.records[addr]
	return ok
}

// Size returns the number of tracked addresses.
func (l *Ledger) Size() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return len(l.records)
}

// Get returns a copy of the record for addr.
func (l *Ledger) Get(addr netip.Addr) (RecordView, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	rec, ok := l.records[addr]
	if !ok {
		return RecordView{}, false
	}
	return viewOf(addr, rec), true
}

// RecordProbeSuccess registers a successful local probe of addr: the record
// is created if this is the first sighting, and the self vote moves to the
// reachable set.
func (l *Ledger) RecordProbeSuccess(addr netip.Addr, selfID string, now time.Time) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, ok := l.records[addr]
	if !ok {
		rec = newRecord()
		l.records[addr] = rec
	}
	rec.vote(selfID, true)
	rec.lastVerifiedAt = now
}

// RecordProbeFailure registers a failed local probe. It only applies to
// addresses already in the ledger (a first-time failure for a never-mapped
// address carries no information) and reports whether the address was known.
func (l *Ledger) RecordProbeFailure(addr netip.Addr, selfID string, now time.Time) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, ok := l.records[addr]
	if !ok {
		return false
	}
	rec.vote(selfID, false)
	rec.lastVerifiedAt = now
	return true
}

// ApplyVote records a peer's verification verdict for addr. A responder's
// vote is always its most recent one: flapping overwrites, it never
// accumulates. Votes for unknown addresses are discarded; the return value
// reports whether the vote was applied.
func (l *Ledger) ApplyVote(addr netip.Addr, responder string, reachable bool, now time.Time) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, ok := l.records[addr]
	if !ok {
		return false
	}
	rec.vote(responder, reachable)
	rec.lastVerifiedAt = now
	return true
}

// SetPending marks addr as under verification. It returns false if the
// record does not exist or verification is already pending, which is the
// broadcast-storm guard: only the caller that flipped the flag may publish
// a request.
func (l *Ledger) SetPending(addr netip.Addr, now time.Time) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, ok := l.records[addr]
	if !ok || rec.pending {
		return false
	}
	rec.pending = true
	rec.pendingSince = now
	return true
}

// Pending reports whether addr is under verification.
func (l *Ledger) Pending(addr netip.Addr) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	rec, ok := l.records[addr]
	return ok && rec.pending
}

// SweepResult is the outcome of one quorum evaluation pass.
type SweepResult struct {
	// Removed addresses reached the unreachable quorum with no veto. Their
	// records no longer exist.
	Removed []netip.Addr
	// Vetoed addresses had at least one reachable vote: the pending flag is
	// cleared and the address stays mapped.
	Vetoed []netip.Addr
	// Expired addresses were pending longer than the timeout without
	// reaching a verdict; the flag is cleared so they can be escalated again.
	Expired []netip.Addr
}

// Sweep runs the quorum rule over every pending record. For each:
//
//   - any reachable vote vetoes removal and clears the pending flag, even if
//     unreachable votes exist from other vantage points (regional outages
//     deliberately never purge an address);
//   - otherwise, quorum unreachable votes delete the record entirely;
//   - otherwise, a verification pending longer than pendingTimeout is
//     abandoned.
//
// Sweep runs on a timer rather than per vote to batch evaluation.
func (l *Ledger) Sweep(now time.Time, quorum int, pendingTimeout time.Duration) SweepResult {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	var res SweepResult
	for addr, rec := range l.records {
		if !rec.pending {
			continue
		}

		switch {
		case len(rec.reachableBy) >= 1:
			rec.pending = false
			res.Vetoed = append(res.Vetoed, addr)
		case len(rec.unreachableBy) >= quorum:
			delete(l.records, addr)
			res.Removed = append(res.Removed, addr)
		case now.Sub(rec.pendingSince) > pendingTimeout:
			rec.pending = false
			res.Expired = append(res.Expired, addr)
		}
	}

	sortAddrs(res.Removed)
	sortAddrs(res.Vetoed)
	sortAddrs(res.Expired)
	return res
}

func newRecord() *record {
	return &record{
		reachableBy:   make(map[string]struct{}),
		unreachableBy: make(map[string]struct{}),
	}
}

func (r *record) vote(nodeID string, reachable bool) {
	if reachable {
		delete(r.unreachableBy, nodeID)
		r.reachableBy[nodeID] = struct{}{}
	} else {
		delete(r.reachableBy, nodeID)
		r.unreachableBy[nodeID] = struct{}{}
	}
}

func viewOf(addr netip.Addr, rec *record) RecordView {
	v := RecordView{
		Address:        addr,
		ReachableBy:    make([]string, 0, len(rec.reachableBy)),
		UnreachableBy:  make([]string, 0, len(rec.unreachableBy)),
		Pending:        rec.pending,
		LastVerifiedAt: rec.lastVerifiedAt,
	}
	for id := range rec.reachableBy {
		v.ReachableBy = append(v.ReachableBy, id)
	}
	for id := range rec.unreachableBy {
		v.UnreachableBy = append(v.UnreachableBy, id)
	}
	sort.Strings(v.ReachableBy)
	sort.Strings(v.UnreachableBy)
	return v
}

func sortAddrs(addrs []netip.Addr) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
