package transit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

// dispatch handles one inbound packet, whether it came in on the listener or
// in the body of a gateway reply.
func (t *Transit) dispatch(ctx context.Context, pkt *packet.Packet, hops int) (*Outcome, error) {
	sender := pkt.Sender()
	if hops == 0 {
		telemetry.PacketsReceived.WithLabelValues(pkt.Type.String()).Inc()
	}

	switch p := pkt.Payload.(type) {
	case *packet.RequestPayload:
		return &Outcome{Reply: t.handleRequest(ctx, sender, p)}, nil

	case *packet.ResponsePayload:
		t.handleResponse(sender, p)
		return &Outcome{}, nil

	case *packet.EventPayload:
		t.handleEvent(ctx, sender, p)
		return &Outcome{}, nil

	case *packet.ChannelEventRequestPayload:
		if err := t.broker.SendToChannel(ctx, p.ChannelName, p.Data, p.Opts); err != nil {
			return nil, err
		}
		return &Outcome{}, nil

	case *packet.DiscoverPayload:
		t.logger.Debugw("node info requested", "node_id", sender)
		var nodes []packet.NodeSummary
		if t.registry != nil {
			nodes = t.registry.NodeSummaries(false)
		}
		return &Outcome{Reply: t.factory.Info(sender, t.broker.LocalNodeInfo(), nodes)}, nil

	case *packet.InfoPayload:
		if t.registry == nil {
			return &Outcome{}, nil
		}
		if _, err := t.registry.ProcessNodeInfo(ctx, sender, p); err != nil {
			return nil, err
		}
		return &Outcome{}, nil

	case *packet.ServicesInfoPayload:
		services := p.Services
		if services == nil {
			services = []service.Schema{}
		}
		return &Outcome{Services: services}, nil

	case *packet.DisconnectPayload:
		if t.registry != nil {
			t.registry.NodeDisconnected(ctx, sender, false)
		}
		return &Outcome{}, nil

	case *packet.HeartbeatPayload:
		if t.registry != nil {
			t.registry.HeartbeatReceived(ctx, sender, p)
		}
		return &Outcome{}, nil

	case *packet.RequestHeartbeatPayload:
		info := t.broker.LocalNodeInfo()
		return &Outcome{Reply: t.factory.Heartbeat(sender, info.Seq, t.broker.InstanceID())}, nil

	case *packet.DiscoverServicesPayload:
		return &Outcome{Reply: t.factory.ServicesInfo(sender, t.localServices())}, nil

	case *packet.PingPayload:
		return &Outcome{Reply: t.factory.Pong(sender, p, t.now())}, nil

	case *packet.PongPayload:
		if !t.resolvePing(p) {
			t.logger.Debugw("pong received",
				"node_id", sender,
				"latency_ms", p.Arrived-p.Time,
			)
		}
		return &Outcome{}, nil

	case *packet.ChannelEventPayload:
		t.logger.Warnw("channel event packets are only sent, ignoring", "node_id", sender)
		return &Outcome{}, nil

	case *packet.UnknownPayload:
		t.logger.Warnw("unknown packet type received",
			"type", p.RawType,
			"node_id", sender,
		)
		return &Outcome{}, nil

	default:
		return nil, errors.NewInvalidPacketDataError("Unsupported packet", map[string]any{"type": pkt.Type})
	}
}

func (t *Transit) handleRequest(ctx context.Context, sender string, p *packet.RequestPayload) *packet.Packet {
	t.logger.Debugw("request received",
		"action", p.Action,
		"request_id", p.RequestID,
		"node_id", sender,
	)
	if t.registry != nil {
		t.registry.EnsureNode(sender)
	}

	c := &runtime.Context{
		ID:        p.ID,
		Action:    p.Action,
		Params:    p.Params,
		Meta:      p.Meta,
		Level:     p.Level,
		Tracing:   p.Tracing,
		ParentID:  p.ParentID,
		RequestID: p.RequestID,
		Caller:    p.Caller,
		NodeID:    sender,
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	if p.Timeout > 0 {
		c.Timeout = time.Duration(p.Timeout * float64(time.Millisecond))
	}

	var (
		data json.RawMessage
		err  error
	)
	if t.broker.Stopping() {
		t.logger.Warnw("request dropped, broker is stopping",
			"action", p.Action,
			"node_id", sender,
		)
		err = errors.NewServiceNotAvailableError(p.Action, t.broker.NodeID())
	} else {
		var res any
		res, err = t.broker.Call(ctx, p.Action, p.Params, runtime.CallOptions{
			Parent:  c,
			Local:   strings.HasPrefix(p.Action, "$"),
			Timeout: c.Timeout,
			Reuse:   true,
		})
		if err == nil {
			data, err = runtime.EncodeParams(res)
		}
	}

	return t.factory.Response(sender, p.ID, c.Meta, data, err, t.broker.NodeID())
}

func (t *Transit) handleResponse(sender string, p *packet.ResponsePayload) {
	req, ok := t.takePending(p.ID)
	if !ok {
		telemetry.OrphanResponses.Inc()
		if t.recent.Contains(p.ID) {
			t.logger.Warnw("duplicate response discarded",
				"id", p.ID,
				"node_id", sender,
			)
			return
		}
		t.logger.Warnw("orphan response discarded",
			"id", p.ID,
			"node_id", sender,
		)
		return
	}

	t.logger.Debugw("response received",
		"action", req.action,
		"node_id", sender,
	)
	req.ctx.NodeID = sender
	req.ctx.MergeMeta(p.Meta)

	if !p.Success {
		req.result <- result{err: errors.FromPlain(p.Error)}
		return
	}
	req.result <- result{data: p.Data}
}

func (t *Transit) handleEvent(ctx context.Context, sender string, p *packet.EventPayload) {
	t.logger.Debugw("event received",
		"event", p.Event,
		"node_id", sender,
		"groups", p.Groups,
	)
	if t.broker.Stopping() {
		t.logger.Warnw("event dropped, broker is stopping",
			"event", p.Event,
			"node_id", sender,
		)
		return
	}

	c := &runtime.Context{
		ID:        p.ID,
		Event:     p.Event,
		EventType: p.EventType,
		Groups:    p.Groups,
		Params:    p.Data,
		Meta:      p.Meta,
		Level:     p.Level,
		Tracing:   p.Tracing,
		ParentID:  p.ParentID,
		RequestID: p.RequestID,
		Caller:    p.Caller,
		NodeID:    sender,
		NeedAck:   p.NeedAck,
	}
	opts := runtime.EventOptions{Parent: c, Groups: p.Groups, Reuse: true}

	var err error
	switch p.EventType {
	case runtime.EventTypeEmit:
		err = t.broker.Emit(ctx, p.Event, p.Data, opts)
	case runtime.EventTypeBroadcast:
		err = t.broker.Broadcast(ctx, p.Event, p.Data, opts)
	case runtime.EventTypeBroadcastLocal:
		err = t.broker.BroadcastLocal(ctx, p.Event, p.Data, opts)
	default:
		t.logger.Warnw("unknown event type, dropping event",
			"event", p.Event,
			"event_type", p.EventType,
			"node_id", sender,
		)
		return
	}
	if err != nil {
		t.logger.Warnw("failed to deliver remote event",
			"event", p.Event,
			"node_id", sender,
			"error", err,
		)
	}
}

// localServices describes the services this process serves itself. Proxies
// of remote nodes are not advertised back.
func (t *Transit) localServices() []service.Schema {
	var out []service.Schema
	for _, s := range t.broker.Services() {
		if s.ProxyOf() != "" {
			continue
		}
		out = append(out, s.Describe())
	}
	return out
}
