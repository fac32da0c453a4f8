// Package transit moves packets between the local runtime and remote nodes
// over their HTTP gateways.
package transit

import (
	"context"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/orris-inc/sidecar/internal/domain/node"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/config"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// EventTransitError is broadcast locally when a packet could not be sent.
const EventTransitError = "$sidecar-transit.error"

const (
	defaultRecentResponses = 1024
	// maxReplyHops bounds how many packets may be chained through reply bodies.
	maxReplyHops = 4
)

// NodeRegistry is the registry surface the inbound dispatch needs.
type NodeRegistry interface {
	ProcessNodeInfo(ctx context.Context, sender string, payload *packet.InfoPayload) (*node.Node, error)
	HeartbeatReceived(ctx context.Context, nodeID string, payload *packet.HeartbeatPayload)
	NodeDisconnected(ctx context.Context, nodeID string, unexpected bool) bool
	EnsureNode(nodeID string) bool
	NodeSummaries(onlyAvailable bool) []packet.NodeSummary
}

// Outcome is the result of dispatching one inbound packet.
type Outcome struct {
	// Reply is sent back to the packet's sender, as the HTTP reply body when
	// the packet came in on the listener. Nil means a plain ack.
	Reply *packet.Packet
	// Services is set for SERVICES_INFO packets.
	Services []service.Schema
}

// Option customizes a Transit.
type Option func(*Transit)

// WithHTTPClient sets the client used to reach gateways.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transit) { t.client = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Transit) { t.now = now }
}

// Transit owns the pending request table of the sidecar.
type Transit struct {
	cfg        config.TransitConfig
	broker     runtime.Broker
	registry   NodeRegistry
	factory    packet.Factory
	serializer packet.Serializer
	client     *http.Client
	logger     logger.Interface
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingRequest
	pings   map[string]chan time.Time
	recent  *lru.Cache[string, struct{}]
}

// New creates a Transit. AttachRegistry must be called before inbound
// packets are dispatched.
func New(cfg config.TransitConfig, broker runtime.Broker, log logger.Interface, opts ...Option) (*Transit, error) {
	serializer, err := packet.NewSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	size := cfg.RecentResponseSize
	if size <= 0 {
		size = defaultRecentResponses
	}
	recent, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}

	t := &Transit{
		cfg:        cfg,
		broker:     broker,
		factory:    packet.NewFactory(),
		serializer: serializer,
		client:     &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     log,
		now:        time.Now,
		pending:    make(map[string]*pendingRequest),
		pings:      make(map[string]chan time.Time),
		recent:     recent,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AttachRegistry wires the node registry into the inbound dispatch.
func (t *Transit) AttachRegistry(r NodeRegistry) {
	t.registry = r
}

// Serializer returns the packet codec in use.
func (t *Transit) Serializer() packet.Serializer {
	return t.serializer
}

// IncomingMessage decodes a packet received on the listener and dispatches it.
func (t *Transit) IncomingMessage(ctx context.Context, raw []byte) (*Outcome, error) {
	pkt, err := packet.Deserialize(raw, t.serializer)
	if err != nil {
		t.logger.Warnw("invalid incoming packet", "error", err)
		return nil, err
	}
	return t.dispatch(ctx, pkt, 0)
}
