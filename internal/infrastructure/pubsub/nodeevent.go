// Package pubsub relays registry notifications between sidecar instances that
// share a Redis server.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const DefaultChannel = "sidecar:node:events"

// NodeEvent is one registry notification crossing instances.
type NodeEvent struct {
	Event      string          `json:"event"`
	NodeID     string          `json:"node_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	InstanceID string          `json:"instance_id"`
}

// NodeEventRelay publishes and receives NodeEvents over Redis Pub/Sub.
// Events published by this instance are never handed back to it.
type NodeEventRelay struct {
	client     *redis.Client
	channel    string
	logger     logger.Interface
	instanceID string

	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewNodeEventRelay(client *redis.Client, channel string, log logger.Interface) *NodeEventRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &NodeEventRelay{
		client:          client,
		channel:         channel,
		logger:          log,
		instanceID:      uuid.NewString(),
		initialInterval: time.Second,
		maxInterval:     30 * time.Second,
	}
}

func (r *NodeEventRelay) InstanceID() string { return r.instanceID }

// Publish sends a local notification to the other instances.
func (r *NodeEventRelay) Publish(ctx context.Context, event, nodeID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal node event data: %w", err)
	}
	payload, err := json.Marshal(NodeEvent{
		Event:      event,
		NodeID:     nodeID,
		Data:       raw,
		Timestamp:  time.Now().UTC().UnixMilli(),
		InstanceID: r.instanceID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal node event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Errorw("failed to publish node event",
			"event", event,
			"node_id", nodeID,
			"error", err,
		)
		return fmt.Errorf("failed to publish node event: %w", err)
	}

	r.logger.Debugw("node event published to Redis",
		"event", event,
		"node_id", nodeID,
	)
	return nil
}

// Subscribe delivers events from other instances to handler until ctx is
// done, reconnecting with exponential backoff when the subscription drops.
func (r *NodeEventRelay) Subscribe(ctx context.Context, handler func(NodeEvent)) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initialInterval
	expBackoff.MaxInterval = r.maxInterval
	expBackoff.Reset()

	for {
		err := r.subscribe(ctx, func(payload string) {
			var event NodeEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				r.logger.Warnw("failed to unmarshal node event",
					"payload", payload,
					"error", err,
				)
				return
			}
			if event.InstanceID == r.instanceID {
				return
			}
			handler(event)
		}, expBackoff.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := expBackoff.NextBackOff()
		r.logger.Warnw("node event subscription disconnected, reconnecting",
			"channel", r.channel,
			"error", err,
			"backoff", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *NodeEventRelay) subscribe(ctx context.Context, handler func(payload string), onConnected func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel %s: %w", r.channel, err)
	}
	onConnected()

	r.logger.Infow("subscribed to node event channel",
		"channel", r.channel,
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("node event subscriber stopped",
				"channel", r.channel,
				"reason", ctx.Err(),
			)
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				r.logger.Warnw("node event channel closed",
					"channel", r.channel,
				)
				return nil
			}

			goroutine.SafeGo(r.logger, "node-event-handler", func() {
				handler(msg.Payload)
			})
		}
	}
}
