package packet

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/errors"
)

// Factory builds packets from call contexts. It performs no I/O and keeps no state.
type Factory struct{}

func NewFactory() Factory {
	return Factory{}
}

func meta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

// Request builds a REQUEST addressed to c.NodeID.
func (Factory) Request(c *runtime.Context) *Packet {
	return New(c.NodeID, &RequestPayload{
		ID:        c.ID,
		Action:    c.Action,
		Params:    c.Params,
		Meta:      meta(c.Meta),
		Timeout:   float64(c.Timeout) / float64(time.Millisecond),
		Level:     c.Level,
		Tracing:   c.Tracing,
		ParentID:  c.ParentID,
		RequestID: c.RequestID,
		Caller:    c.Caller,
		Handler:   c.Handler,
	})
}

// Event builds an EVENT addressed to c.NodeID.
func (Factory) Event(c *runtime.Context) *Packet {
	return New(c.NodeID, &EventPayload{
		ID:        c.ID,
		Event:     c.Event,
		Data:      c.Params,
		Groups:    c.Groups,
		EventType: c.EventType,
		Meta:      meta(c.Meta),
		Level:     c.Level,
		Tracing:   c.Tracing,
		ParentID:  c.ParentID,
		RequestID: c.RequestID,
		Caller:    c.Caller,
		NeedAck:   c.NeedAck,
		Handler:   c.Handler,
	})
}

// ChannelEvent builds a CHANNEL_EVENT addressed to c.NodeID.
func (Factory) ChannelEvent(c *runtime.Context) *Packet {
	return New(c.NodeID, &ChannelEventPayload{
		ID:        c.ID,
		Channel:   c.Channel,
		Data:      c.Params,
		Meta:      meta(c.Meta),
		Tracing:   c.Tracing,
		RequestID: c.RequestID,
		Raw:       c.Delivery,
		Handler:   c.Handler,
	})
}

// Response builds the RESPONSE for request id. A non-nil err wins over data.
func (Factory) Response(target, id string, m map[string]any, data json.RawMessage, err error, localNodeID string) *Packet {
	p := &ResponsePayload{
		ID:      id,
		Meta:    m,
		Success: err == nil,
	}
	if err != nil {
		p.Error = errors.ToPlain(err, localNodeID)
	} else {
		p.Data = data
	}
	return New(target, p)
}

// Info builds an INFO describing the local node and the nodes it bridges.
func (Factory) Info(target string, info runtime.NodeInfo, nodes []NodeSummary) *Packet {
	services := info.Services
	if services == nil {
		services = []service.Schema{}
	}
	ipList := info.IPList
	if ipList == nil {
		ipList = []string{}
	}
	return New(target, &InfoPayload{
		Services:     services,
		IPList:       ipList,
		Hostname:     info.Hostname,
		Client:       info.Client,
		Config:       info.Config,
		InstanceID:   info.InstanceID,
		Metadata:     info.Metadata,
		Seq:          info.Seq,
		SidecarNodes: nodes,
	})
}

func (Factory) ServicesInfo(target string, services []service.Schema) *Packet {
	if services == nil {
		services = []service.Schema{}
	}
	return New(target, &ServicesInfoPayload{Services: services})
}

func (Factory) Heartbeat(target string, seq int64, instanceID string) *Packet {
	return New(target, &HeartbeatPayload{Seq: &seq, InstanceID: instanceID})
}

func (Factory) Discover(target string) *Packet {
	return New(target, &DiscoverPayload{})
}

func (Factory) DiscoverServices(target string) *Packet {
	return New(target, &DiscoverServicesPayload{})
}

func (Factory) RequestHeartbeat(target string) *Packet {
	return New(target, &RequestHeartbeatPayload{})
}

func (Factory) Disconnect(target string) *Packet {
	return New(target, &DisconnectPayload{})
}

func (Factory) Ping(target, id string, now time.Time) *Packet {
	return New(target, &PingPayload{ID: id, Time: now.UnixMilli()})
}

func (Factory) Pong(target string, ping *PingPayload, arrived time.Time) *Packet {
	return New(target, &PongPayload{ID: ping.ID, Time: ping.Time, Arrived: arrived.UnixMilli()})
}
