package packet

import (
	"encoding/json"
	"maps"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/errors"
)

// Payload is implemented by exactly one struct per packet type.
type Payload interface {
	PacketType() Type
	header() *Header
}

// Header is stamped into every payload just before transmission.
type Header struct {
	Sender string `json:"sender,omitempty"`
	Ver    string `json:"ver,omitempty"`
}

func (h *Header) header() *Header { return h }

type RequestPayload struct {
	Header
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	Meta      map[string]any  `json:"meta"`
	Timeout   float64         `json:"timeout,omitempty"`
	Level     int             `json:"level"`
	Tracing   bool            `json:"tracing"`
	ParentID  string          `json:"parentID,omitempty"`
	RequestID string          `json:"requestID,omitempty"`
	Caller    string          `json:"caller,omitempty"`
	Handler   string          `json:"handler,omitempty"`
}

type ResponsePayload struct {
	Header
	ID      string             `json:"id"`
	Meta    map[string]any     `json:"meta,omitempty"`
	Success bool               `json:"success"`
	Error   *errors.PlainError `json:"error,omitempty"`
	Data    json.RawMessage    `json:"data,omitempty"`
}

type EventPayload struct {
	Header
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Groups    []string        `json:"groups,omitempty"`
	EventType string          `json:"eventType"`
	Meta      map[string]any  `json:"meta"`
	Level     int             `json:"level"`
	Tracing   bool            `json:"tracing"`
	ParentID  string          `json:"parentID,omitempty"`
	RequestID string          `json:"requestID,omitempty"`
	Caller    string          `json:"caller,omitempty"`
	NeedAck   bool            `json:"needAck"`
	Handler   string          `json:"handler,omitempty"`
}

type ChannelEventPayload struct {
	Header
	ID        string            `json:"id"`
	Channel   string            `json:"channel,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Meta      map[string]any    `json:"meta"`
	Tracing   bool              `json:"tracing"`
	RequestID string            `json:"requestID,omitempty"`
	Raw       *runtime.Delivery `json:"raw,omitempty"`
	Handler   string            `json:"handler,omitempty"`
}

type ChannelEventRequestPayload struct {
	Header
	ChannelName string          `json:"channelName"`
	Data        json.RawMessage `json:"data,omitempty"`
	Opts        map[string]any  `json:"opts,omitempty"`
}

// NodeSummary is the redacted description of a node shared with peers.
type NodeSummary struct {
	ID                string             `json:"id"`
	InstanceID        string             `json:"instanceID,omitempty"`
	Available         bool               `json:"available"`
	Local             bool               `json:"local"`
	LastHeartbeatTime int64              `json:"lastHeartbeatTime"`
	OfflineSince      *int64             `json:"offlineSince"`
	Seq               int64              `json:"seq"`
	Client            runtime.ClientInfo `json:"client"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
	Gateway           *gateway.Config    `json:"gateway,omitempty"`
}

type InfoPayload struct {
	Header
	Services     []service.Schema   `json:"services"`
	IPList       []string           `json:"ipList"`
	Hostname     string             `json:"hostname,omitempty"`
	Client       runtime.ClientInfo `json:"client"`
	Config       map[string]any     `json:"config,omitempty"`
	InstanceID   string             `json:"instanceID"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	Seq          int64              `json:"seq"`
	Gateway      *gateway.Config    `json:"gateway,omitempty"`
	SidecarNodes []NodeSummary      `json:"sidecarNodes,omitempty"`
}

// Clone returns a copy that shares no maps or slices with p at the top level.
func (p *InfoPayload) Clone() *InfoPayload {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Services = append([]service.Schema(nil), p.Services...)
	cp.IPList = append([]string(nil), p.IPList...)
	cp.Config = maps.Clone(p.Config)
	cp.Metadata = maps.Clone(p.Metadata)
	cp.SidecarNodes = append([]NodeSummary(nil), p.SidecarNodes...)
	if p.Gateway != nil {
		gw := *p.Gateway
		if gw.Auth != nil {
			auth := *gw.Auth
			gw.Auth = &auth
		}
		cp.Gateway = &gw
	}
	return &cp
}

type ServicesInfoPayload struct {
	Header
	Services []service.Schema `json:"services"`
}

type HeartbeatPayload struct {
	Header
	Seq        *int64   `json:"seq,omitempty"`
	InstanceID string   `json:"instanceID,omitempty"`
	CPU        *float64 `json:"cpu,omitempty"`
}

type PingPayload struct {
	Header
	ID   string `json:"id,omitempty"`
	Time int64  `json:"time"`
}

type PongPayload struct {
	Header
	ID      string `json:"id,omitempty"`
	Time    int64  `json:"time"`
	Arrived int64  `json:"arrived"`
}

type (
	DiscoverPayload         struct{ Header }
	DiscoverServicesPayload struct{ Header }
	RequestHeartbeatPayload struct{ Header }
	DisconnectPayload       struct{ Header }
)

// UnknownPayload keeps the raw object of a packet with an unrecognized type.
type UnknownPayload struct {
	Header
	RawType string
	Fields  map[string]any
}

func (p *UnknownPayload) MarshalJSON() ([]byte, error) {
	out := maps.Clone(p.Fields)
	if out == nil {
		out = map[string]any{}
	}
	if p.Sender != "" {
		out["sender"] = p.Sender
	}
	if p.Ver != "" {
		out["ver"] = p.Ver
	}
	return json.Marshal(out)
}

func (p *UnknownPayload) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &p.Fields); err != nil {
		return err
	}
	p.Sender, _ = p.Fields["sender"].(string)
	p.Ver, _ = p.Fields["ver"].(string)
	delete(p.Fields, "sender")
	delete(p.Fields, "ver")
	return nil
}

func (*RequestPayload) PacketType() Type             { return TypeRequest }
func (*ResponsePayload) PacketType() Type            { return TypeResponse }
func (*EventPayload) PacketType() Type               { return TypeEvent }
func (*ChannelEventPayload) PacketType() Type        { return TypeChannelEvent }
func (*ChannelEventRequestPayload) PacketType() Type { return TypeChannelEventRequest }
func (*InfoPayload) PacketType() Type                { return TypeInfo }
func (*ServicesInfoPayload) PacketType() Type        { return TypeServicesInfo }
func (*HeartbeatPayload) PacketType() Type           { return TypeHeartbeat }
func (*PingPayload) PacketType() Type                { return TypePing }
func (*PongPayload) PacketType() Type                { return TypePong }
func (*DiscoverPayload) PacketType() Type            { return TypeDiscover }
func (*DiscoverServicesPayload) PacketType() Type    { return TypeDiscoverServices }
func (*RequestHeartbeatPayload) PacketType() Type    { return TypeRequestHeartbeat }
func (*DisconnectPayload) PacketType() Type          { return TypeDisconnect }
func (*UnknownPayload) PacketType() Type             { return TypeUnknown }
