package mobility

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSTUNDetectorFallsBackAcrossServers(t *testing.T) {
	d := NewSTUNDetector([]string{"stun.dead.example:3478", "stun.live.example:3478"}, time.Second)

	want := netip.MustParseAddr("203.0.113.42")
	var tried []string
	d.query = func(_ context.Context, server string) (netip.Addr, error) {
		tried = append(tried, server)
		if server == "stun.live.example:3478" {
			return want, nil
		}
		return netip.Addr{}, errors.New("i/o timeout")
	}

	got, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"stun.dead.example:3478", "stun.live.example:3478"}, tried)
}

func TestSTUNDetectorFirstAnswerWins(t *testing.T) {
	d := NewSTUNDetector([]string{"a:3478", "b:3478"}, time.Second)

	var tried []string
	d.query = func(_ context.Context, server string) (netip.Addr, error) {
		tried = append(tried, server)
		return netip.MustParseAddr("203.0.113.1"), nil
	}

	_, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:3478"}, tried, "later servers must not be queried")
}

func TestSTUNDetectorAllServersFail(t *testing.T) {
	d := NewSTUNDetector([]string{"a:3478", "b:3478"}, time.Second)

	sentinel := errors.New("no route to host")
	d.query = func(context.Context, string) (netip.Addr, error) {
		return netip.Addr{}, sentinel
	}

	_, err := d.Detect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestSTUNDetectorNoServers(t *testing.T) {
	d := NewSTUNDetector(nil, time.Second)
	_, err := d.Detect(context.Background())
	require.Error(t, err)
}

func TestSTUNURINormalization(t *testing.T) {
	uri, err := stunURI("stun.l.google.com:19302")
	require.NoError(t, err)
	assert.Equal(t, "stun.l.google.com", uri.Host)
	assert.Equal(t, 19302, uri.Port)

	uri, err = stunURI("stun:stun.example.org:3478")
	require.NoError(t, err)
	assert.Equal(t, "stun.example.org", uri.Host)

	_, err = stunURI("   ")
	require.Error(t, err)
}
