package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/intermap/intermap/libs/log"
	"github.com/intermap/intermap/types"
)

const icmpMethod = "icmp"

// ICMPProber walks the path to a target by sending echo requests with
// increasing TTLs and collecting the routers' time-exceeded answers. It
// needs a raw ICMP socket, so the process must run privileged (or hold
// CAP_NET_RAW on Linux).
type ICMPProber struct {
	logger log.Logger

	// FilterPrivate drops RFC1918/link-local hops from results. Private hops
	// are real path elements but must never leak into shared state; dropping
	// them at the source keeps every consumer safe by construction.
	FilterPrivate bool
}

var _ Prober = (*ICMPProber)(nil)

// NewICMPProber returns a prober that filters private hops.
func NewICMPProber(logger log.Logger) *ICMPProber {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ICMPProber{logger: logger, FilterPrivate: true}
}

// Trace implements Prober. It succeeds only when the target itself answers;
// a path that dies early returns ErrUnreachable, a silent one ErrTimeout.
func (p *ICMPProber) Trace(ctx context.Context, target netip.Addr, maxHops int, timeout time.Duration) (Result, error) {
	target = target.Unmap()
	if !target.Is4() {
		return Result{}, fmt.Errorf("icmp prober is v4-only, got %s", target)
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return Result{}, fmt.Errorf("opening icmp socket (are we privileged?): %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	dst := &net.IPAddr{IP: target.AsSlice()}
	ident := os.Getpid() & 0xffff

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	var hops []types.Hop
	sawAnswer := false

	for ttl := 1; ttl <= maxHops; ttl++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return Result{}, ErrTimeout
		}

		if err := pc.SetTTL(ttl); err != nil {
			return Result{}, fmt.Errorf("setting ttl %d: %w", ttl, err)
		}

		echo := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Body: &icmp.Echo{ID: ident, Seq: ttl, Data: []byte("intermap")},
		}
		wire, err := echo.Marshal(nil)
		if err != nil {
			return Result{}, err
		}

		sent := time.Now()
		if _, err := conn.WriteTo(wire, dst); err != nil {
			return Result{}, fmt.Errorf("sending echo: %w", err)
		}

		hopAddr, reached, err := p.awaitReply(conn, ident, deadline)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Silent hop. Keep walking: later routers often still answer.
				continue
			}
			return Result{}, err
		}
		sawAnswer = true

		rtt := time.Since(sent)
		if p.keepHop(hopAddr) {
			hops = append(hops, types.Hop{Addr: hopAddr, RTT: rtt})
		}
		if reached || hopAddr == target {
			return Result{Target: target, Hops: hops, Method: icmpMethod}, nil
		}
	}

	if !sawAnswer {
		return Result{}, ErrTimeout
	}
	return Result{}, ErrUnreachable
}

// awaitReply blocks for the next ICMP packet matching our probe. It returns
// the answering address and whether the reply came from the target itself.
func (p *ICMPProber) awaitReply(conn *icmp.PacketConn, ident int, deadline time.Time) (netip.Addr, bool, error) {
	buf := make([]byte, 1500)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return netip.Addr{}, false, err
		}
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return netip.Addr{}, false, err
		}

		msg, err := icmp.ParseMessage(1, buf[:n]) // 1 = iana.ProtocolICMP
		if err != nil {
			continue
		}

		peerAddr, ok := addrOf(peer)
		if !ok {
			continue
		}

		switch msg.Type {
		case ipv4.ICMPTypeEchoReply:
			echo, ok := msg.Body.(*icmp.Echo)
			if !ok || echo.ID != ident {
				continue
			}
			return peerAddr, true, nil
		case ipv4.ICMPTypeTimeExceeded, ipv4.ICMPTypeDestinationUnreachable:
			// The body quotes our original datagram; routers answer for
			// everyone on the host, so trust the TTL walk and take the peer.
			return peerAddr, msg.Type == ipv4.ICMPTypeEchoReply, nil
		default:
			continue
		}
	}
}

func (p *ICMPProber) keepHop(addr netip.Addr) bool {
	if !p.FilterPrivate {
		return true
	}
	return !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast()
}

func addrOf(a net.Addr) (netip.Addr, bool) {
	ipAddr, ok := a.(*net.IPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ipAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
