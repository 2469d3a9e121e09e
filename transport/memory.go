package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	imsync "github.com/intermap/intermap/libs/sync"
)

// Memory is an in-process Transport for tests: every subscriber on a channel
// receives every publish, including the publisher's own (pubsub substrates
// echo). Optionally it can be flipped into a failing state to exercise
// transport-outage paths.
type Memory struct {
	mtx   imsync.Mutex
	subs  map[string][]chan RawMessage
	blobs map[string][]byte
	down  bool
	from  string
}

var _ Transport = (*Memory)(nil)

// NewMemory returns an empty bus. from is the substrate-level sender
// identity attached to every delivery.
func NewMemory(from string) *Memory {
	return &Memory{
		subs:  make(map[string][]chan RawMessage),
		blobs: make(map[string][]byte),
		from:  from,
	}
}

// SetDown makes every subsequent call fail with ErrUnavailable (true) or
// restores service (false).
func (m *Memory) SetDown(down bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.down = down
}

// Publish implements Transport.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.down {
		return fmt.Errorf("%w: memory bus down", ErrUnavailable)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	for _, ch := range m.subs[channel] {
		select {
		case ch <- RawMessage{From: m.from, Data: cp}:
		default:
			// Slow subscriber; drop rather than deadlock the publisher.
		}
	}
	return nil
}

// Subscribe implements Transport.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan RawMessage, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.down {
		return nil, fmt.Errorf("%w: memory bus down", ErrUnavailable)
	}

	ch := make(chan RawMessage, subscriptionBuffer)
	m.subs[channel] = append(m.subs[channel], ch)

	go func() {
		<-ctx.Done()
		m.mtx.Lock()
		defer m.mtx.Unlock()
		chans := m.subs[channel]
		for i, c := range chans {
			if c == ch {
				m.subs[channel] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// AddBlob implements Transport. The content address is a plain sha256 hex
// digest, which is all the tests need.
func (m *Memory) AddBlob(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.down {
		return "", fmt.Errorf("%w: memory bus down", ErrUnavailable)
	}

	sum := sha256.Sum256(data)
	cid := hex.EncodeToString(sum[:])
	m.blobs[cid] = data
	return cid, nil
}

// GetBlob implements Transport.
func (m *Memory) GetBlob(ctx context.Context, cid string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.down {
		return nil, fmt.Errorf("%w: memory bus down", ErrUnavailable)
	}

	data, ok := m.blobs[cid]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", cid)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Close implements Transport.
func (m *Memory) Close() error {
	return nil
}
