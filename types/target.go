package types

import (
	"fmt"
	"net/netip"
	"time"
)

// Origin tags why an address entered the target set. Informational only: it
// never deduplicates targets across origins.
type Origin uint8

const (
	// OriginOwnSubnet marks targets produced by expanding our external
	// address's network.
	OriginOwnSubnet Origin = iota + 1
	// OriginPeer marks the external address of a discovered peer.
	OriginPeer
	// OriginWellKnown marks operator-configured anchor targets.
	OriginWellKnown
	// OriginVerification marks addresses probed on behalf of a peer's
	// verification request.
	OriginVerification
)

func (o Origin) String() string {
	switch o {
	case OriginOwnSubnet:
		return "own_subnet"
	case OriginPeer:
		return "peer"
	case OriginWellKnown:
		return "well_known"
	case OriginVerification:
		return "verification"
	default:
		return fmt.Sprintf("origin(%d)", o)
	}
}

// TraceTarget is one address queued for probing.
type TraceTarget struct {
	Address netip.Addr
	Origin  Origin
	AddedAt time.Time
}

func (t TraceTarget) String() string {
	return fmt.Sprintf("%s(%s)", t.Address, t.Origin)
}

// Hop is one element of a probed path.
type Hop struct {
	Addr netip.Addr
	RTT  time.Duration
}

func (h Hop) String() string {
	return fmt.Sprintf("%s/%s", h.Addr, h.RTT)
}
