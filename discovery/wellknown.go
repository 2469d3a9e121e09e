package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/intermap/intermap/libs/log"
	"github.com/intermap/intermap/registry"
	"github.com/intermap/intermap/types"
)

// Resolver turns a hostname into its IPv4 addresses.
type Resolver interface {
	LookupA(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver queries the system's configured nameservers for A records.
type DNSResolver struct {
	client  *dns.Client
	servers []string
}

var _ Resolver = (*DNSResolver)(nil)

// NewDNSResolver builds a resolver from /etc/resolv.conf.
func NewDNSResolver() (*DNSResolver, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("reading resolv.conf: %w", err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}

	servers := make([]string, len(conf.Servers))
	for i, s := range conf.Servers {
		servers[i] = s + ":" + conf.Port
	}
	return &DNSResolver{
		client:  &dns.Client{Timeout: 5 * time.Second},
		servers: servers,
	}, nil
}

// LookupA implements Resolver. Nameservers are tried in resolv.conf order.
func (r *DNSResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("lookup %s: %s", host, dns.RcodeToString[in.Rcode])
			continue
		}

		var addrs []netip.Addr
		for _, rr := range in.Answer {
			a, ok := rr.(*dns.A)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(a.A)
			if !ok {
				continue
			}
			addrs = append(addrs, addr.Unmap())
		}
		if len(addrs) == 0 {
			lastErr = fmt.Errorf("lookup %s: no A records", host)
			continue
		}
		return addrs, nil
	}
	return nil, lastErr
}

// StaticResolver is a Resolver for tests, backed by a fixed host table.
type StaticResolver map[string][]netip.Addr

var _ Resolver = (StaticResolver)(nil)

// LookupA implements Resolver.
func (s StaticResolver) LookupA(_ context.Context, host string) ([]netip.Addr, error) {
	addrs, ok := s[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	return addrs, nil
}

// SeedWellKnown schedules the configured well-known targets. Each entry is
// an IP literal or a hostname resolved to its A records. A failed resolution
// is logged and skipped; seeding never fails the node. It returns the number
// of targets added.
func SeedWellKnown(ctx context.Context, logger log.Logger, reg *registry.Registry, resolver Resolver, entries []string) int {
	added := 0
	for _, entry := range entries {
		if addr, err := netip.ParseAddr(entry); err == nil {
			if ok, err := reg.Add(addr.Unmap(), types.OriginWellKnown); err != nil {
				logger.Error("well-known target rejected", "entry", entry, "err", err)
			} else if ok {
				added++
			}
			continue
		}

		addrs, err := resolver.LookupA(ctx, entry)
		if err != nil {
			logger.Error("well-known target resolution failed", "entry", entry, "err", err)
			continue
		}
		for _, addr := range addrs {
			if ok, err := reg.Add(addr, types.OriginWellKnown); err != nil {
				logger.Error("well-known target rejected", "entry", entry, "addr", addr, "err", err)
			} else if ok {
				added++
			}
		}
	}
	return added
}
