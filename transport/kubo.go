package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/intermap/intermap/libs/log"
)

// subscriptionBuffer bounds how many undelivered inbound messages we hold
// per channel before applying backpressure to the reader goroutine.
const subscriptionBuffer = 256

// Kubo rides on a local IPFS (Kubo) daemon's HTTP API: pubsub topics for
// the channels, the blockstore for blobs.
type Kubo struct {
	logger log.Logger
	sh     *shell.Shell

	maxBackoff time.Duration

	rootCtx context.Context
	cancel  context.CancelFunc
}

var _ Transport = (*Kubo)(nil)

// NewKubo connects to the daemon at apiAddr (e.g. "127.0.0.1:5001") and
// verifies it answers. A dead daemon is a startup failure: the node cannot
// discover peers without its transport.
func NewKubo(logger log.Logger, apiAddr string, maxBackoff time.Duration) (*Kubo, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	sh := shell.NewShell(apiAddr)
	if _, err := sh.ID(); err != nil {
		return nil, fmt.Errorf("%w: daemon at %s not answering: %v", ErrUnavailable, apiAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Kubo{
		logger:     logger.With("impl", "kubo"),
		sh:         sh,
		maxBackoff: maxBackoff,
		rootCtx:    ctx,
		cancel:     cancel,
	}, nil
}

// Publish implements Transport.
func (k *Kubo) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := k.sh.PubSubPublish(channel, string(data)); err != nil {
		return fmt.Errorf("%w: publish on %s: %v", ErrUnavailable, channel, err)
	}
	return nil
}

// Subscribe implements Transport. The reader goroutine resubscribes with
// exponential backoff whenever the daemon drops the subscription, so a
// daemon restart costs messages but not the subscription itself.
func (k *Kubo) Subscribe(ctx context.Context, channel string) (<-chan RawMessage, error) {
	sub, err := k.sh.PubSubSubscribe(channel)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe to %s: %v", ErrUnavailable, channel, err)
	}

	out := make(chan RawMessage, subscriptionBuffer)
	go k.readLoop(ctx, channel, sub, out)
	return out, nil
}

func (k *Kubo) readLoop(ctx context.Context, channel string, sub *shell.PubSubSubscription, out chan<- RawMessage) {
	defer close(out)
	defer func() {
		_ = sub.Cancel()
	}()

	for {
		// Next blocks on the daemon's HTTP stream; canceling the
		// subscription is the only way to unblock it on shutdown.
		stop := cancelOnDone(ctx, k.rootCtx, sub.Cancel)
		err := k.drain(ctx, sub, out)
		stop()

		if ctx.Err() != nil || k.rootCtx.Err() != nil {
			return
		}
		k.logger.Error("subscription dropped, resubscribing", "channel", channel, "err", err)
		sub = k.resubscribe(ctx, channel)
		if sub == nil {
			return
		}
	}
}

// drain pumps one subscription into out until it errors or a context ends.
func (k *Kubo) drain(ctx context.Context, sub *shell.PubSubSubscription, out chan<- RawMessage) error {
	for {
		msg, err := sub.Next()
		if err != nil {
			return err
		}

		raw := RawMessage{From: msg.From.String(), Data: msg.Data}
		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		case <-k.rootCtx.Done():
			return k.rootCtx.Err()
		}
	}
}

// cancelOnDone runs cancel as soon as either context ends. The returned stop
// releases the watcher once the protected call returned on its own.
func cancelOnDone(a, b context.Context, cancel func() error) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-done:
			return
		}
		_ = cancel()
	}()
	return func() { close(done) }
}

// resubscribe retries until it succeeds or the context ends.
func (k *Kubo) resubscribe(ctx context.Context, channel string) *shell.PubSubSubscription {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = k.maxBackoff
	bo.MaxElapsedTime = 0 // retry forever; shutdown is the only way out

	var sub *shell.PubSubSubscription
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := k.rootCtx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		sub, err = k.sh.PubSubSubscribe(channel)
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil
	}
	return sub
}

// AddBlob implements Transport.
func (k *Kubo) AddBlob(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid, err := k.sh.Add(r)
	if err != nil {
		return "", fmt.Errorf("%w: add blob: %v", ErrUnavailable, err)
	}
	return cid, nil
}

// GetBlob implements Transport.
func (k *Kubo) GetBlob(ctx context.Context, cid string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := k.sh.Cat(cid)
	if err != nil {
		return nil, fmt.Errorf("%w: cat %s: %v", ErrUnavailable, cid, err)
	}
	return rc, nil
}

// Close implements Transport.
func (k *Kubo) Close() error {
	k.cancel()
	return nil
}
