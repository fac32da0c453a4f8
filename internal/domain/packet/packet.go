// Package packet implements the versioned envelope exchanged with remote nodes.
package packet

import (
	"bytes"
	"encoding/json"

	"github.com/orris-inc/sidecar/internal/shared/errors"
)

// Packet is one protocol message. Sender and version live in the payload
// header and are mirrored on the envelope when serialized.
type Packet struct {
	Type    Type
	Target  string
	Payload Payload
}

// RawPacket is the envelope as it appears on the wire.
type RawPacket struct {
	Type    string          `json:"type"`
	Target  *string         `json:"target"`
	Sender  string          `json:"sender,omitempty"`
	Ver     string          `json:"ver,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// New builds a packet whose type follows the payload.
func New(target string, payload Payload) *Packet {
	return &Packet{
		Type:    payload.PacketType(),
		Target:  target,
		Payload: payload,
	}
}

func (p *Packet) Sender() string {
	return p.Payload.header().Sender
}

func (p *Packet) Ver() string {
	return p.Payload.header().Ver
}

// Extend stamps sender and protocol version right before transmission.
func (p *Packet) Extend(sender, ver string) *Packet {
	h := p.Payload.header()
	h.Sender = sender
	h.Ver = ver
	return p
}

// Serialize encodes the whole envelope.
func (p *Packet) Serialize(s Serializer) ([]byte, error) {
	payload, err := s.Marshal(p.Payload)
	if err != nil {
		return nil, errors.NewInvalidPacketDataError("cannot encode payload: "+err.Error(), map[string]any{"type": p.Type})
	}
	raw := RawPacket{
		Type:    string(p.Type),
		Sender:  p.Sender(),
		Ver:     p.Ver(),
		Payload: payload,
	}
	if u, ok := p.Payload.(*UnknownPayload); ok && u.RawType != "" {
		raw.Type = u.RawType
	}
	if p.Target != "" {
		target := p.Target
		raw.Target = &target
	}
	return s.Marshal(raw)
}

// Deserialize decodes and validates a whole envelope.
func Deserialize(data []byte, s Serializer) (*Packet, error) {
	var raw RawPacket
	if err := s.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewInvalidPacketDataError("cannot decode packet: "+err.Error(), nil)
	}
	return FromRaw(raw, s)
}

// FromRaw validates the envelope and decodes its payload into the concrete
// type for raw.Type. Unrecognized types decode as UnknownPayload.
func FromRaw(raw RawPacket, s Serializer) (*Packet, error) {
	body := bytes.TrimSpace(raw.Payload)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, errors.NewMissingPayloadError(raw.Sender)
	}

	var h Header
	if err := s.Unmarshal(body, &h); err != nil {
		return nil, errors.NewInvalidPacketDataError("payload is not an object: "+err.Error(), map[string]any{"nodeID": raw.Sender})
	}
	sender := h.Sender
	if sender == "" {
		sender = raw.Sender
	}
	if h.Ver != ProtocolVersion {
		return nil, errors.NewProtocolVersionMismatchError(sender, ProtocolVersion, h.Ver)
	}

	t := ParseType(raw.Type)
	payload := newPayload(t)
	if err := s.Unmarshal(body, payload); err != nil {
		return nil, errors.NewInvalidPacketDataError("cannot decode "+string(t)+" payload: "+err.Error(), map[string]any{"nodeID": sender})
	}
	payload.header().Sender = sender
	if u, ok := payload.(*UnknownPayload); ok {
		u.RawType = raw.Type
	}

	p := &Packet{Type: t, Payload: payload}
	if raw.Target != nil {
		p.Target = *raw.Target
	}
	return p, nil
}

func newPayload(t Type) Payload {
	switch t {
	case TypeRequest:
		return &RequestPayload{}
	case TypeResponse:
		return &ResponsePayload{}
	case TypeEvent:
		return &EventPayload{}
	case TypeDiscover:
		return &DiscoverPayload{}
	case TypeDiscoverServices:
		return &DiscoverServicesPayload{}
	case TypeInfo:
		return &InfoPayload{}
	case TypeServicesInfo:
		return &ServicesInfoPayload{}
	case TypeHeartbeat:
		return &HeartbeatPayload{}
	case TypeRequestHeartbeat:
		return &RequestHeartbeatPayload{}
	case TypeDisconnect:
		return &DisconnectPayload{}
	case TypePing:
		return &PingPayload{}
	case TypePong:
		return &PongPayload{}
	case TypeChannelEvent:
		return &ChannelEventPayload{}
	case TypeChannelEventRequest:
		return &ChannelEventRequestPayload{}
	default:
		return &UnknownPayload{}
	}
}
