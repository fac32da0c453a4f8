package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/service"
)

// CallOptions tune a single Broker.Call.
type CallOptions struct {
	Parent *Context
	// Local restricts endpoint resolution to services of this process,
	// skipping remote proxies.
	Local   bool
	Timeout time.Duration
	// Reuse runs the handler with Parent itself instead of a child. Set for
	// requests rebuilt from a remote packet.
	Reuse bool
}

// EventOptions tune a single event emission.
type EventOptions struct {
	Parent *Context
	Groups []string
	// Reuse delivers copies of Parent instead of children of it.
	Reuse bool
}

// ClientInfo describes the software a node runs.
type ClientInfo struct {
	Type        string `json:"type,omitempty"`
	Version     string `json:"version,omitempty"`
	LangVersion string `json:"langVersion,omitempty"`
}

// NodeInfo is the local node's self-description used for INFO packets.
type NodeInfo struct {
	Services   []service.Schema
	IPList     []string
	Hostname   string
	Client     ClientInfo
	Config     map[string]any
	InstanceID string
	Metadata   map[string]any
	Seq        int64
}

// Broker is the local action/event runtime the sidecar bridges into.
type Broker interface {
	NodeID() string
	InstanceID() string
	// Stopping reports whether the broker is shutting down.
	Stopping() bool

	Call(ctx context.Context, action string, params json.RawMessage, opts CallOptions) (any, error)
	Emit(ctx context.Context, event string, data any, opts EventOptions) error
	Broadcast(ctx context.Context, event string, data any, opts EventOptions) error
	BroadcastLocal(ctx context.Context, event string, data any, opts EventOptions) error
	SendToChannel(ctx context.Context, channel string, data json.RawMessage, opts map[string]any) error

	CreateService(ctx context.Context, schema *ServiceSchema) error
	DestroyService(ctx context.Context, fullName string) error
	GetLocalService(fullName string) (*ServiceSchema, bool)
	Services() []*ServiceSchema

	LocalNodeInfo() NodeInfo
}
