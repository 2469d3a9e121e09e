package transport

import (
	"context"
	"errors"
	"io"
)

// The three logical channels every node shares. The names are protocol
// state: all generations of nodes subscribe to the same topics.
const (
	// ChannelDiscovery carries identity announcements and heartbeats.
	ChannelDiscovery = "intermap/discovery"
	// ChannelTopology carries path announcements.
	ChannelTopology = "intermap/topology"
	// ChannelVerification carries the dead-address verification protocol.
	ChannelVerification = "intermap/verification"
)

// ErrUnavailable wraps any publish/subscribe failure caused by the
// underlying substrate being down. Policy everywhere: log and retry on the
// next scheduled opportunity, never block on transport recovery.
var ErrUnavailable = errors.New("transport unavailable")

// RawMessage is one inbound pubsub delivery. From identifies the substrate
// peer that published it, which is unrelated to Intermap node IDs.
type RawMessage struct {
	From string
	Data []byte
}

// Transport is the pub/sub and content-addressed storage substrate the node
// rides on. Implementations must be safe for concurrent use.
type Transport interface {
	// Publish sends data on the named channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe delivers every message published on the named channel,
	// including our own echoes, until ctx is canceled. The returned channel
	// is closed when the subscription ends.
	Subscribe(ctx context.Context, channel string) (<-chan RawMessage, error)

	// AddBlob stores a blob and returns its content address.
	AddBlob(ctx context.Context, r io.Reader) (string, error)

	// GetBlob fetches a blob by content address.
	GetBlob(ctx context.Context, cid string) (io.ReadCloser, error)

	// Close tears down all subscriptions.
	Close() error
}
