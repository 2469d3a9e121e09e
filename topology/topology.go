package topology

import (
	"net/netip"

	"github.com/intermap/intermap/types"
)

// Graph is the shared topology map. The coordination core mutates it through
// exactly two operations and never reads it back for decisions; everything
// else (serialization, visualization) belongs to other layers.
type Graph interface {
	// UpsertPath merges one probed path into the graph: a node per hop, an
	// edge per consecutive hop pair.
	UpsertPath(hops []types.Hop)

	// RemoveAddress drops an address and all its edges. Unknown addresses
	// are a no-op.
	RemoveAddress(addr netip.Addr)
}
