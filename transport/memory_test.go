package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	bus := NewMemory("local")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := bus.Subscribe(ctx, ChannelDiscovery)
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx, ChannelDiscovery)
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, ChannelTopology)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ChannelDiscovery, []byte("hello")))

	for _, sub := range []<-chan RawMessage{sub1, sub2} {
		select {
		case msg := <-sub:
			assert.Equal(t, "hello", string(msg.Data))
			assert.Equal(t, "local", msg.From)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	// The other channel stays quiet.
	select {
	case <-other:
		t.Fatal("message leaked across channels")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryDown(t *testing.T) {
	bus := NewMemory("local")
	ctx := context.Background()

	bus.SetDown(true)
	err := bus.Publish(ctx, ChannelDiscovery, []byte("x"))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = bus.Subscribe(ctx, ChannelDiscovery)
	assert.ErrorIs(t, err, ErrUnavailable)

	bus.SetDown(false)
	assert.NoError(t, bus.Publish(ctx, ChannelDiscovery, []byte("x")))
}

func TestMemorySubscriptionClosesOnCancel(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	bus := NewMemory("local")
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, ChannelDiscovery)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on cancel")
	}
}

func TestMemoryBlobs(t *testing.T) {
	bus := NewMemory("local")
	ctx := context.Background()

	cid, err := bus.AddBlob(ctx, strings.NewReader("payload"))
	require.NoError(t, err)
	require.NotEmpty(t, cid)

	rc, err := bus.GetBlob(ctx, cid)
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	assert.Equal(t, "payload", string(buf[:n]))

	_, err = bus.GetBlob(ctx, "deadbeef")
	assert.Error(t, err)
}
