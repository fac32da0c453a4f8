// Package registry tracks the remote nodes bridged through their gateways and
// the services they expose to the local runtime.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
)

// Local notifications broadcast through the runtime.
const (
	EventNodeConnected    = "$sidecar-node.connected"
	EventNodeUpdated      = "$sidecar-node.updated"
	EventNodeDisconnected = "$sidecar-node.disconnected"
)

// ErrNotFound is returned by a Store when no INFO is stored for a node.
var ErrNotFound = errors.New("node not found in store")

// NodeEvent is the payload of the node notifications.
type NodeEvent struct {
	Node        packet.NodeSummary `json:"node"`
	Reconnected bool               `json:"reconnected,omitempty"`
	Unexpected  bool               `json:"unexpected,omitempty"`
}

// Store persists the last INFO received from every node so the registry can
// rebuild itself after a restart.
type Store interface {
	Get(ctx context.Context, nodeID string) (*packet.InfoPayload, error)
	Put(ctx context.Context, nodeID string, info *packet.InfoPayload) error
	Delete(ctx context.Context, nodeID string) error
	// Iterate calls fn for every stored node. Entries that cannot be decoded
	// are logged and skipped. A non-nil error from fn stops the iteration and
	// is returned.
	Iterate(ctx context.Context, fn func(nodeID string, info *packet.InfoPayload) error) error
	Close() error
}

// ProxyTransport is what a service proxy needs to reach its remote node.
type ProxyTransport interface {
	Request(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) (json.RawMessage, error)
	SendEvent(ctx context.Context, c *runtime.Context, gw *gateway.Gateway)
	SendChannelEvent(ctx context.Context, c *runtime.Context, gw *gateway.Gateway)
}

// Transport is the subset of the transit layer used by the registry.
type Transport interface {
	ProxyTransport
	RequestHeartbeat(ctx context.Context, nodeID string, gw *gateway.Gateway) error
	Discover(ctx context.Context, nodeID string, gw *gateway.Gateway) error
	DiscoverServices(ctx context.Context, nodeID string, gw *gateway.Gateway) ([]service.Schema, error)
	SendDisconnect(ctx context.Context, nodeID string, gw *gateway.Gateway) error
}

// Scheduler runs the registry's periodic jobs.
type Scheduler interface {
	// Every registers fn to run each interval, shifted by a random amount
	// within ±jitter when jitter is positive.
	Every(name string, interval, jitter time.Duration, fn func(ctx context.Context)) error
	Start()
	Stop() error
}
