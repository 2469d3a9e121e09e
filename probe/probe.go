package probe

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/intermap/intermap/types"
)

var (
	// ErrTimeout means the probe deadline expired before the target answered.
	ErrTimeout = errors.New("probe timed out")
	// ErrUnreachable means the path ended before the target (administratively
	// filtered, routed into a black hole, or the host is down). Both errors
	// are expected, frequent outcomes that feed the verification protocol.
	ErrUnreachable = errors.New("target unreachable")
)

// Result is a completed probe: the ordered path to the target and the
// method the adapter used to obtain it. Method is a diagnostic tag only.
type Result struct {
	Target netip.Addr
	Hops   []types.Hop
	Method string
}

// Prober discovers the path to a single address. Implementations must honor
// ctx and never outlive the given timeout; how the path is obtained (ICMP,
// TCP SYN, a platform utility) is the adapter's business.
type Prober interface {
	Trace(ctx context.Context, target netip.Addr, maxHops int, timeout time.Duration) (Result, error)
}
