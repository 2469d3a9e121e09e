package registry

import "net/netip"

var (
	cgnatRange    = netip.MustParsePrefix("100.64.0.0/10")
	reservedRange = netip.MustParsePrefix("240.0.0.0/4")
)

// IsPublic reports whether addr is routable on the public internet. Private,
// loopback, link-local, multicast, CGNAT and class E addresses are all
// rejected; documentation ranges (TEST-NETs) are allowed so lab deployments
// can exercise the full pipeline.
func IsPublic(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		// The map is v4-only for now. v6 targets are rejected at the gate
		// rather than half-supported downstream.
		return false
	}

	switch {
	case addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsMulticast(),
		addr.IsPrivate():
		return false
	case cgnatRange.Contains(addr), reservedRange.Contains(addr):
		return false
	}
	return true
}
