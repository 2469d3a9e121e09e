package types

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := NewAnnouncement("node-abc", netip.MustParseAddr("203.0.113.42"), now)

	raw, err := EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)

	ann, ok := decoded.(*Announcement)
	require.True(t, ok)
	assert.Equal(t, "node-abc", ann.NodeID)
	assert.Equal(t, "203.0.113.42", ann.ExternalIP)
	assert.Equal(t, now, ann.Timestamp.UTC())
}

func TestVerificationRoundTrip(t *testing.T) {
	now := time.Now()
	addr := netip.MustParseAddr("203.0.113.99")

	req := NewVerificationRequest(addr, "node-a", now)
	raw, err := EncodeMessage(req)
	require.NoError(t, err)
	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)
	gotReq, ok := decoded.(*VerificationRequest)
	require.True(t, ok)
	assert.Equal(t, addr, gotReq.Addr())
	assert.Equal(t, "node-a", gotReq.Requester)

	resp := NewVerificationResponse(addr, "node-b", false, 0, now)
	raw, err = EncodeMessage(resp)
	require.NoError(t, err)
	decoded, err = DecodeMessage(raw)
	require.NoError(t, err)
	gotResp, ok := decoded.(*VerificationResponse)
	require.True(t, ok)
	assert.Equal(t, addr, gotResp.Addr())
	assert.False(t, gotResp.Reachable)
}

func TestPathAnnouncementRoundTrip(t *testing.T) {
	hops := []Hop{
		{Addr: netip.MustParseAddr("203.0.113.1"), RTT: 5 * time.Millisecond},
		{Addr: netip.MustParseAddr("198.51.100.1"), RTT: 12 * time.Millisecond},
		{Addr: netip.MustParseAddr("8.8.8.8"), RTT: 20 * time.Millisecond},
	}
	msg := NewPathAnnouncement("node-a", netip.MustParseAddr("8.8.8.8"), hops, time.Now())

	raw, err := EncodeMessage(msg)
	require.NoError(t, err)
	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)

	pa, ok := decoded.(*PathAnnouncement)
	require.True(t, ok)
	got := pa.HopList()
	require.Len(t, got, 3)
	assert.Equal(t, hops[0].Addr, got[0].Addr)
	assert.Equal(t, hops[2].Addr, got[2].Addr)
	assert.Equal(t, hops[1].RTT, got[1].RTT)
}

func TestDecodeRejectsForeignProtocol(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"type":             MsgTypeAnnouncement,
		"protocol_version": "intermap-v0",
		"node_id":          "node-x",
		"external_ip":      "203.0.113.5",
	})
	require.NoError(t, err)

	_, err = DecodeMessage(raw)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"type":             "gossip",
		"protocol_version": ProtocolVersion,
	})
	require.NoError(t, err)

	_, err = DecodeMessage(raw)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	msg := &Announcement{
		MsgType:         MsgTypeAnnouncement,
		ProtocolVersion: ProtocolVersion,
		NodeID:          "",
		ExternalIP:      "203.0.113.5",
	}
	_, err := EncodeMessage(msg)
	assert.Error(t, err)
}

func TestDecodeRejectsInvalidPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"type":             MsgTypeVerifyRequest,
		"protocol_version": ProtocolVersion,
		"address":          "not-an-ip",
		"requester":        "node-a",
	})
	require.NoError(t, err)

	_, err = DecodeMessage(raw)
	assert.Error(t, err)
}
