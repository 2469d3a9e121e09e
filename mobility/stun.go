package mobility

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// STUNDetector resolves the external address by asking STUN servers for the
// XOR-mapped address of a binding request. Servers are tried in order; the
// first answer wins.
//
// Note: the mapped address belongs to the STUN socket and, behind a symmetric
// NAT, may differ from the address other sockets are mapped to. For subnet
// attribution that distinction does not matter.
type STUNDetector struct {
	servers []string
	timeout time.Duration

	// query asks one server for the mapped address; tests replace it.
	query func(ctx context.Context, server string) (netip.Addr, error)
}

var _ Detector = (*STUNDetector)(nil)

func NewSTUNDetector(servers []string, timeout time.Duration) *STUNDetector {
	d := &STUNDetector{servers: servers, timeout: timeout}
	d.query = d.stunQuery
	return d
}

// Detect implements Detector.
func (d *STUNDetector) Detect(ctx context.Context) (netip.Addr, error) {
	if len(d.servers) == 0 {
		return netip.Addr{}, fmt.Errorf("no STUN servers configured")
	}

	var lastErr error
	for _, server := range d.servers {
		addr, err := d.query(ctx, server)
		if err != nil {
			lastErr = err
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("all STUN servers failed: %w", lastErr)
}

func (d *STUNDetector) stunQuery(ctx context.Context, server string) (netip.Addr, error) {
	uri, err := stunURI(server)
	if err != nil {
		return netip.Addr{}, err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return netip.Addr{}, err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var mapped stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := mapped.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- mapped
		})
		if err != nil {
			fail <- err
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	select {
	case mapped := <-result:
		addr, ok := netip.AddrFromSlice(mapped.IP)
		if !ok {
			return netip.Addr{}, fmt.Errorf("unparseable mapped address %v", mapped.IP)
		}
		return addr.Unmap(), nil
	case err := <-fail:
		return netip.Addr{}, err
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	}
}

// stunURI normalizes a configured server ("host:port" or a full stun: URI)
// into a parsed URI.
func stunURI(server string) (*stun.URI, error) {
	s := strings.TrimSpace(server)
	if s == "" {
		return nil, fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(s, "stun:") {
		s = "stun:" + s
	}
	return stun.ParseURI(s)
}
