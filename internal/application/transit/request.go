package transit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/id"
)

// Request sends c as a REQUEST to the node behind gw and waits for the
// matching RESPONSE. The response may come back in the reply body or later
// on the listener. Only ctx bounds the wait. When the send fails the pending
// entry is dropped, so a RESPONSE arriving afterwards is discarded.
func (t *Transit) Request(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) (json.RawMessage, error) {
	if c.ID == "" {
		c.ID = id.ContextID()
	}
	p := newPendingRequest(c)
	if err := t.addPending(p); err != nil {
		return nil, err
	}

	t.logger.Debugw("sending request",
		"action", c.Action,
		"request_id", c.RequestID,
		"node_id", c.NodeID,
	)

	pkt := t.factory.Request(c)
	if _, err := t.send(ctx, pkt, gw, 0); err != nil {
		// A RESPONSE arriving later for this id is logged as a duplicate.
		if _, ok := t.takePending(p.id); ok {
			t.reportSendError(ctx, pkt, errors.ReasonFailedSendRequestPacket, err)
			return nil, err
		}
	}

	select {
	case res := <-p.result:
		return res.data, res.err
	case <-ctx.Done():
		t.removePending(p.id)
		return nil, ctx.Err()
	}
}

// SendEvent delivers an EVENT without waiting for the remote handlers.
func (t *Transit) SendEvent(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) {
	t.logger.Debugw("sending event",
		"event", c.Event,
		"node_id", c.NodeID,
		"groups", c.Groups,
	)
	pkt := t.factory.Event(c)
	if _, err := t.send(ctx, pkt, gw, 0); err != nil {
		t.reportSendError(ctx, pkt, errors.ReasonFailedSendEventPacket, err)
	}
}

// SendChannelEvent delivers a CHANNEL_EVENT without waiting for the remote handler.
func (t *Transit) SendChannelEvent(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) {
	t.logger.Debugw("sending channel event",
		"channel", c.Channel,
		"node_id", c.NodeID,
	)
	pkt := t.factory.ChannelEvent(c)
	if _, err := t.send(ctx, pkt, gw, 0); err != nil {
		t.reportSendError(ctx, pkt, errors.ReasonFailedSendEventPacket, err)
	}
}

// RequestHeartbeat asks a node for a HEARTBEAT.
func (t *Transit) RequestHeartbeat(ctx context.Context, nodeID string, gw *gateway.Gateway) error {
	_, err := t.send(ctx, t.factory.RequestHeartbeat(nodeID), gw, 0)
	return err
}

// Discover asks a node for a fresh INFO.
func (t *Transit) Discover(ctx context.Context, nodeID string, gw *gateway.Gateway) error {
	_, err := t.send(ctx, t.factory.Discover(nodeID), gw, 0)
	return err
}

// DiscoverServices asks a node for its service list, which must come back
// as SERVICES_INFO in the reply body.
func (t *Transit) DiscoverServices(ctx context.Context, nodeID string, gw *gateway.Gateway) ([]service.Schema, error) {
	out, err := t.send(ctx, t.factory.DiscoverServices(nodeID), gw, 0)
	if err != nil {
		return nil, err
	}
	if out.Services == nil {
		return nil, errors.NewInvalidPacketDataError("Gateway reply carries no SERVICES_INFO", map[string]any{
			"nodeID": nodeID,
		})
	}
	return out.Services, nil
}

// SendDisconnect tells a node that this sidecar is going away.
func (t *Transit) SendDisconnect(ctx context.Context, nodeID string, gw *gateway.Gateway) error {
	_, err := t.send(ctx, t.factory.Disconnect(nodeID), gw, 0)
	return err
}

// Ping measures the round trip to a node. The PONG may come back in the
// reply body or on the listener.
func (t *Transit) Ping(ctx context.Context, nodeID string, gw *gateway.Gateway) (time.Duration, error) {
	pingID := id.ContextID()
	arrived := make(chan time.Time, 1)
	t.mu.Lock()
	t.pings[pingID] = arrived
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pings, pingID)
		t.mu.Unlock()
	}()

	start := t.now()
	if _, err := t.send(ctx, t.factory.Ping(nodeID, pingID, start), gw, 0); err != nil {
		return 0, err
	}

	select {
	case at := <-arrived:
		return at.Sub(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Transit) resolvePing(pong *packet.PongPayload) bool {
	t.mu.Lock()
	ch, ok := t.pings[pong.ID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- t.now():
	default:
	}
	return true
}

func (t *Transit) reportSendError(ctx context.Context, pkt *packet.Packet, reason string, err error) {
	t.logger.Errorw("unable to send packet",
		"type", pkt.Type,
		"target", pkt.Target,
		"error", err,
	)
	payload := map[string]any{
		"error":  errors.ToPlain(err, t.broker.NodeID()),
		"module": "transit",
		"type":   reason,
	}
	if bErr := t.broker.BroadcastLocal(context.WithoutCancel(ctx), EventTransitError, payload, runtime.EventOptions{}); bErr != nil {
		t.logger.Warnw("failed to broadcast transit error", "error", bErr)
	}
}
