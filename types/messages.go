package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Message type discriminators, carried in the "type" field of every payload.
// The names are shared protocol state: changing one partitions the network.
const (
	MsgTypeAnnouncement   = "node_announcement"
	MsgTypeVerifyRequest  = "verification_request"
	MsgTypeVerifyResponse = "verification_response"
	MsgTypePath           = "path_announcement"
)

// Message is a payload published on one of the shared channels. The wire
// format is JSON with a type discriminator, matching what every other node
// generation speaks.
type Message interface {
	Type() string
	ValidateBasic() error
}

// Announcement advertises a node's identity on the discovery channel. It
// doubles as the heartbeat: receiving one refreshes the sender's peer record.
type Announcement struct {
	MsgType         string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	NodeID          string    `json:"node_id"`
	ExternalIP      string    `json:"external_ip"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewAnnouncement(nodeID string, externalIP netip.Addr, now time.Time) *Announcement {
	return &Announcement{
		MsgType:         MsgTypeAnnouncement,
		ProtocolVersion: ProtocolVersion,
		NodeID:          nodeID,
		ExternalIP:      externalIP.String(),
		Timestamp:       now,
	}
}

func (*Announcement) Type() string { return MsgTypeAnnouncement }

func (m *Announcement) ValidateBasic() error {
	if m.NodeID == "" {
		return errors.New("empty node_id")
	}
	if _, err := netip.ParseAddr(m.ExternalIP); err != nil {
		return fmt.Errorf("bad external_ip %q: %w", m.ExternalIP, err)
	}
	return nil
}

// VerificationRequest asks every node to probe an address the requester
// could not reach.
type VerificationRequest struct {
	MsgType         string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Address         string    `json:"address"`
	Requester       string    `json:"requester"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewVerificationRequest(addr netip.Addr, requester string, now time.Time) *VerificationRequest {
	return &VerificationRequest{
		MsgType:         MsgTypeVerifyRequest,
		ProtocolVersion: ProtocolVersion,
		Address:         addr.String(),
		Requester:       requester,
		Timestamp:       now,
	}
}

func (*VerificationRequest) Type() string { return MsgTypeVerifyRequest }

func (m *VerificationRequest) ValidateBasic() error {
	if m.Requester == "" {
		return errors.New("empty requester")
	}
	if _, err := netip.ParseAddr(m.Address); err != nil {
		return fmt.Errorf("bad address %q: %w", m.Address, err)
	}
	return nil
}

// Addr returns the parsed target address. ValidateBasic must have passed.
func (m *VerificationRequest) Addr() netip.Addr {
	a, _ := netip.ParseAddr(m.Address)
	return a
}

// VerificationResponse reports the responder's own probe outcome for a
// requested address.
type VerificationResponse struct {
	MsgType         string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Address         string    `json:"address"`
	Responder       string    `json:"responder"`
	Reachable       bool      `json:"reachable"`
	HopCount        int       `json:"hop_count"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewVerificationResponse(addr netip.Addr, responder string, reachable bool, hopCount int, now time.Time) *VerificationResponse {
	return &VerificationResponse{
		MsgType:         MsgTypeVerifyResponse,
		ProtocolVersion: ProtocolVersion,
		Address:         addr.String(),
		Responder:       responder,
		Reachable:       reachable,
		HopCount:        hopCount,
		Timestamp:       now,
	}
}

func (*VerificationResponse) Type() string { return MsgTypeVerifyResponse }

func (m *VerificationResponse) ValidateBasic() error {
	if m.Responder == "" {
		return errors.New("empty responder")
	}
	if _, err := netip.ParseAddr(m.Address); err != nil {
		return fmt.Errorf("bad address %q: %w", m.Address, err)
	}
	return nil
}

// Addr returns the parsed target address. ValidateBasic must have passed.
func (m *VerificationResponse) Addr() netip.Addr {
	a, _ := netip.ParseAddr(m.Address)
	return a
}

// WireHop is the wire shape of one path element.
type WireHop struct {
	Address string  `json:"address"`
	RTTMs   float64 `json:"rtt_ms"`
}

// PathAnnouncement publishes one successfully probed path on the topology
// channel so other nodes can merge it into their graphs.
type PathAnnouncement struct {
	MsgType         string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	NodeID          string    `json:"node_id"`
	Target          string    `json:"target"`
	Hops            []WireHop `json:"hops"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewPathAnnouncement(nodeID string, target netip.Addr, hops []Hop, now time.Time) *PathAnnouncement {
	wire := make([]WireHop, len(hops))
	for i, h := range hops {
		wire[i] = WireHop{
			Address: h.Addr.String(),
			RTTMs:   float64(h.RTT.Microseconds()) / 1e3,
		}
	}
	return &PathAnnouncement{
		MsgType:         MsgTypePath,
		ProtocolVersion: ProtocolVersion,
		NodeID:          nodeID,
		Target:          target.String(),
		Hops:            wire,
		Timestamp:       now,
	}
}

func (*PathAnnouncement) Type() string { return MsgTypePath }

func (m *PathAnnouncement) ValidateBasic() error {
	if m.NodeID == "" {
		return errors.New("empty node_id")
	}
	if len(m.Hops) == 0 {
		return errors.New("empty hop list")
	}
	for i, h := range m.Hops {
		if _, err := netip.ParseAddr(h.Address); err != nil {
			return fmt.Errorf("bad hop %d address %q: %w", i, h.Address, err)
		}
		if h.RTTMs < 0 {
			return fmt.Errorf("negative rtt on hop %d", i)
		}
	}
	return nil
}

// HopList returns the announced path as domain hops, skipping none:
// ValidateBasic must have passed.
func (m *PathAnnouncement) HopList() []Hop {
	hops := make([]Hop, len(m.Hops))
	for i, h := range m.Hops {
		addr, _ := netip.ParseAddr(h.Address)
		hops[i] = Hop{
			Addr: addr,
			RTT:  time.Duration(h.RTTMs * float64(time.Millisecond)),
		}
	}
	return hops
}

//-----------------------------------------------------------------------------
// Codec

// EncodeMessage serializes a message for publishing.
func EncodeMessage(msg Message) ([]byte, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("refusing to encode invalid %s: %w", msg.Type(), err)
	}
	return json.Marshal(msg)
}

type typeProbe struct {
	MsgType         string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// ErrUnknownMessageType is returned by DecodeMessage for payloads from other
// protocols sharing the channel namespace.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrProtocolMismatch is returned for messages from a different protocol
// generation.
var ErrProtocolMismatch = errors.New("protocol version mismatch")

// DecodeMessage parses a payload received from any channel. The caller is
// expected to drop ErrUnknownMessageType and ErrProtocolMismatch payloads
// silently: foreign traffic on a public pubsub topic is normal.
func DecodeMessage(raw []byte) (Message, error) {
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if probe.ProtocolVersion != ProtocolVersion {
		return nil, ErrProtocolMismatch
	}

	var msg Message
	switch probe.MsgType {
	case MsgTypeAnnouncement:
		msg = &Announcement{}
	case MsgTypeVerifyRequest:
		msg = &VerificationRequest{}
	case MsgTypeVerifyResponse:
		msg = &VerificationResponse{}
	case MsgTypePath:
		msg = &PathAnnouncement{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, probe.MsgType)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, err
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}
