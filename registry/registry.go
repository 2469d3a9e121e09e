package registry

import (
	"net/netip"
	"sort"
	"time"

	"github.com/intermap/intermap/libs/log"
	imsync "github.com/intermap/intermap/libs/sync"
	"github.com/intermap/intermap/types"
)

// Registry owns the set of addresses this node intends to probe and why.
// It is the single enforcement point for the public-address boundary: a
// private or malformed address is rejected at Add and can never appear
// mid-pipeline.
//
// The set is keyed by address. Origin is informational and does not
// deduplicate: re-adding a known address refreshes nothing and keeps the
// original origin.
type Registry struct {
	logger log.Logger

	mtx     imsync.RWMutex
	targets map[netip.Addr]types.TraceTarget

	// last expanded own-subnet prefix; expansion reruns only when it changes
	ownSubnet netip.Prefix
}

// New returns an empty registry.
func New(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		logger:  logger,
		targets: make(map[netip.Addr]types.TraceTarget),
	}
}

// Add inserts an address into the target set. It returns ErrInvalidAddress
// for private, reserved or malformed addresses and reports whether the
// address was newly inserted.
func (r *Registry) Add(addr netip.Addr, origin types.Origin) (bool, error) {
	if !IsPublic(addr) {
		return false, ErrInvalidAddress{Addr: addr.String(), Reason: "not a public unicast address"}
	}
	addr = addr.Unmap()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.targets[addr]; ok {
		return false, nil
	}
	r.targets[addr] = types.TraceTarget{
		Address: addr,
		Origin:  origin,
		AddedAt: time.Now(),
	}
	return true, nil
}

// Remove drops a single address. Removing an unknown address is a no-op.
func (r *Registry) Remove(addr netip.Addr) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.targets, addr.Unmap())
}

// RemoveAll drops every target matching pred and returns how many were
// removed. The removal is atomic with respect to Snapshot: once it returns,
// no removed target can appear in a later snapshot.
func (r *Registry) RemoveAll(pred func(types.TraceTarget) bool) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	removed := 0
	for addr, t := range r.targets {
		if pred(t) {
			delete(r.targets, addr)
			removed++
		}
	}
	return removed
}

// Contains reports whether the address is currently scheduled.
func (r *Registry) Contains(addr netip.Addr) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	_, ok := r.targets[addr.Unmap()]
	return ok
}

// Size returns the number of scheduled targets.
func (r *Registry) Size() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.targets)
}

// Snapshot returns the current target set ordered by address. The slice is a
// copy; the scheduler iterates it without holding any registry lock.
func (r *Registry) Snapshot() []types.TraceTarget {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]types.TraceTarget, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

// ExpandOwnSubnet turns self's /prefixLen network into individual targets
// with origin OwnSubnet, excluding self and the network/broadcast addresses.
// Expansion runs once per subnet change: calling it again for the same
// network is a no-op. It returns the number of targets added.
func (r *Registry) ExpandOwnSubnet(self netip.Addr, prefixLen int) (int, error) {
	if !IsPublic(self) {
		// No subnet is expanded now; forgetting the old prefix lets a later
		// return to that network expand it again.
		r.mtx.Lock()
		r.ownSubnet = netip.Prefix{}
		r.mtx.Unlock()
		return 0, ErrInvalidAddress{Addr: self.String(), Reason: "own address is not public"}
	}
	self = self.Unmap()

	prefix, err := self.Prefix(prefixLen)
	if err != nil {
		return 0, ErrInvalidAddress{Addr: self.String(), Reason: err.Error()}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if prefix == r.ownSubnet {
		return 0, nil
	}
	r.ownSubnet = prefix

	added := 0
	now := time.Now()
	for _, addr := range subnetHosts(prefix) {
		if addr == self {
			continue
		}
		if !IsPublic(addr) {
			continue
		}
		if _, ok := r.targets[addr]; ok {
			continue
		}
		r.targets[addr] = types.TraceTarget{Address: addr, Origin: types.OriginOwnSubnet, AddedAt: now}
		added++
	}

	r.logger.Info("expanded own subnet", "subnet", prefix, "added", added)
	return added, nil
}

// OwnSubnet returns the last expanded own-subnet prefix, or the zero Prefix
// if no expansion happened yet.
func (r *Registry) OwnSubnet() netip.Prefix {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.ownSubnet
}

// subnetHosts lists the host addresses of an IPv4 prefix, excluding the
// network and broadcast addresses for prefixes shorter than /31. A /31 is a
// point-to-point pair (RFC 3021) and both addresses are hosts.
func subnetHosts(prefix netip.Prefix) []netip.Addr {
	bits := prefix.Bits()
	base := prefix.Masked().Addr().As4()
	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])

	switch {
	case bits >= 32:
		return []netip.Addr{prefix.Addr()}
	case bits == 31:
		return []netip.Addr{addr4(start), addr4(start + 1)}
	}

	n := 1 << (32 - bits)
	hosts := make([]netip.Addr, 0, n-2)
	for i := 1; i < n-1; i++ {
		hosts = append(hosts, addr4(start+uint32(i)))
	}
	return hosts
}

func addr4(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
