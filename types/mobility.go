package types

import (
	"net/netip"
	"time"

	imsync "github.com/intermap/intermap/libs/sync"
)

// MobilityEvent records one external-address change. Events are diagnostics
// only and are never consulted for correctness decisions.
type MobilityEvent struct {
	Timestamp  time.Time
	OldAddress netip.Addr
	NewAddress netip.Addr
}

// MobilityLog is a bounded ring of the most recent mobility events.
type MobilityLog struct {
	mtx    imsync.Mutex
	events []MobilityEvent
	limit  int
}

// NewMobilityLog returns a log retaining at most limit events.
func NewMobilityLog(limit int) *MobilityLog {
	if limit <= 0 {
		limit = 1
	}
	return &MobilityLog{limit: limit}
}

// Append records an event, dropping the oldest if the ring is full.
func (l *MobilityLog) Append(ev MobilityEvent) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.events = append(l.events, ev)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
}

// Events returns the retained events, oldest first.
func (l *MobilityLog) Events() []MobilityEvent {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	out := make([]MobilityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *MobilityLog) Len() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.events)
}
