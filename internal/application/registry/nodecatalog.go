package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/node"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

// catalogHooks are the side effects the catalog triggers outside its lock.
type catalogHooks interface {
	registerServices(ctx context.Context, n *node.Node) error
	UnregisterServicesByNode(ctx context.Context, nodeID string)
	notify(ctx context.Context, event string, ev NodeEvent)
	persist(nodeID string, n *node.Node)
}

// NodeCatalog holds the known remote nodes. Callers always receive clones.
type NodeCatalog struct {
	mu     sync.Mutex
	nodes  map[string]*node.Node
	resync map[string]bool

	hooks  catalogHooks
	now    func() time.Time
	logger logger.Interface
}

func newNodeCatalog(hooks catalogHooks, now func() time.Time, log logger.Interface) *NodeCatalog {
	return &NodeCatalog{
		nodes:  make(map[string]*node.Node),
		resync: make(map[string]bool),
		hooks:  hooks,
		now:    now,
		logger: log,
	}
}

// ProcessNodeInfo creates or refreshes the node described by an INFO packet
// and registers its services when the INFO announces a change.
func (c *NodeCatalog) ProcessNodeInfo(ctx context.Context, sender string, payload *packet.InfoPayload) (*node.Node, error) {
	if sender == "" {
		return nil, errors.NewValidationError("INFO packet without sender")
	}
	if payload == nil {
		return nil, errors.NewMissingPayloadError(sender)
	}

	c.mu.Lock()
	now := c.now()
	n, ok := c.nodes[sender]
	isNew, isReconnected := false, false
	if !ok {
		n = node.New(sender, now)
		c.nodes[sender] = n
		isNew = true
	} else if !n.Available {
		n.Reconnected(now)
		isReconnected = true
	}
	needRegister := n.Update(payload, isReconnected) || c.resync[sender]
	snapshot := n.Clone()
	c.mu.Unlock()
	c.publishCounts()

	if needRegister && snapshot.Gateway != nil {
		if err := c.hooks.registerServices(ctx, snapshot); err != nil {
			c.logger.Warnw("failed to register node services",
				"node_id", sender,
				"error", err,
			)
		}
	}

	switch {
	case isNew:
		c.logger.Infow("node connected", "node_id", sender, "seq", snapshot.Seq)
		c.hooks.notify(ctx, EventNodeConnected, NodeEvent{Node: snapshot.Summary()})
	case isReconnected:
		c.logger.Infow("node reconnected", "node_id", sender, "seq", snapshot.Seq)
		c.hooks.notify(ctx, EventNodeConnected, NodeEvent{Node: snapshot.Summary(), Reconnected: true})
	default:
		c.hooks.notify(ctx, EventNodeUpdated, NodeEvent{Node: snapshot.Summary()})
	}

	c.hooks.persist(sender, snapshot)
	return snapshot, nil
}

// EnsurePlaceholder records a gateway-less node for a sender that called us
// before announcing itself. It reports whether a node was created.
func (c *NodeCatalog) EnsurePlaceholder(nodeID string) bool {
	if nodeID == "" {
		return false
	}
	c.mu.Lock()
	if _, ok := c.nodes[nodeID]; ok {
		c.mu.Unlock()
		return false
	}
	c.nodes[nodeID] = node.New(nodeID, c.now())
	c.mu.Unlock()
	c.publishCounts()

	c.logger.Debugw("placeholder node created for unknown sender", "node_id", nodeID)
	return true
}

// Disconnected marks an available node unavailable and drops its proxies. A
// graceful disconnect also removes the node.
func (c *NodeCatalog) Disconnected(ctx context.Context, nodeID string, unexpected bool) bool {
	return c.disconnectIf(ctx, nodeID, unexpected, nil)
}

func (c *NodeCatalog) disconnectIf(ctx context.Context, nodeID string, unexpected bool, pred func(*node.Node) bool) bool {
	c.mu.Lock()
	n, ok := c.nodes[nodeID]
	if !ok || !n.Available || (pred != nil && !pred(n)) {
		c.mu.Unlock()
		return false
	}
	n.Disconnected(c.now())
	snapshot := n.Clone()
	if !unexpected {
		delete(c.nodes, nodeID)
		delete(c.resync, nodeID)
	}
	c.mu.Unlock()
	c.publishCounts()

	c.logger.Infow("node disconnected",
		"node_id", nodeID,
		"unexpected", unexpected,
	)
	c.hooks.UnregisterServicesByNode(ctx, nodeID)
	c.hooks.notify(ctx, EventNodeDisconnected, NodeEvent{Node: snapshot.Summary(), Unexpected: unexpected})
	if !unexpected {
		c.hooks.persist(nodeID, nil)
	}
	return true
}

// Delete removes a node and its persisted INFO.
func (c *NodeCatalog) Delete(nodeID string) bool {
	return c.deleteIf(nodeID, nil)
}

func (c *NodeCatalog) deleteIf(nodeID string, pred func(*node.Node) bool) bool {
	c.mu.Lock()
	n, ok := c.nodes[nodeID]
	if !ok || (pred != nil && !pred(n)) {
		c.mu.Unlock()
		return false
	}
	delete(c.nodes, nodeID)
	delete(c.resync, nodeID)
	c.mu.Unlock()
	c.publishCounts()

	c.hooks.persist(nodeID, nil)
	return true
}

// Get returns a copy of the node.
func (c *NodeCatalog) Get(nodeID string) (*node.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (c *NodeCatalog) Has(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[nodeID]
	return ok
}

func (c *NodeCatalog) IsAvailable(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[nodeID]
	return ok && n.Available
}

// List returns redacted summaries ordered by node id.
func (c *NodeCatalog) List(onlyAvailable bool) []packet.NodeSummary {
	nodes := c.Snapshot()
	out := make([]packet.NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		if onlyAvailable && !n.Available {
			continue
		}
		out = append(out, n.Summary())
	}
	return out
}

// Snapshot returns copies of every node ordered by id.
func (c *NodeCatalog) Snapshot() []*node.Node {
	c.mu.Lock()
	out := make([]*node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n.Clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of available and unavailable nodes.
func (c *NodeCatalog) Counts() (available, unavailable int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.Available {
			available++
		} else {
			unavailable++
		}
	}
	return available, unavailable
}

func (c *NodeCatalog) heartbeat(nodeID string) bool {
	c.mu.Lock()
	n, ok := c.nodes[nodeID]
	if ok {
		n.Heartbeat(c.now())
	}
	c.mu.Unlock()
	if ok {
		c.publishCounts()
	}
	return ok
}

// initHeartbeat sets a zero lastHeartbeatTime to t.
func (c *NodeCatalog) initHeartbeat(nodeID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[nodeID]; ok && n.LastHeartbeatTime.IsZero() {
		n.LastHeartbeatTime = t
	}
}

func (c *NodeCatalog) setResync(nodeID string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !v {
		delete(c.resync, nodeID)
		return
	}
	if _, ok := c.nodes[nodeID]; ok {
		c.resync[nodeID] = true
	}
}

func (c *NodeCatalog) needsResync(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resync[nodeID]
}

func (c *NodeCatalog) publishCounts() {
	telemetry.SetNodeCounts(c.Counts())
}
