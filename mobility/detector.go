package mobility

import (
	"context"
	"net/netip"
)

// Detector discovers this node's current external address. Implementations
// must honor ctx; a failed detection is an expected, transient outcome and
// callers keep the previous address until the next attempt.
type Detector interface {
	Detect(ctx context.Context) (netip.Addr, error)
}
