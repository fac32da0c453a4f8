package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/node"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/shared/config"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/version"
)

const (
	heartbeatJitter    = 500 * time.Millisecond
	replayConcurrency  = 16
	persistQueueLength = 256
)

// Option customizes a Registry.
type Option func(*Registry)

// WithScheduler runs the periodic jobs on s. Without a scheduler the jobs
// must be driven by the caller.
func WithScheduler(s Scheduler) Option {
	return func(r *Registry) { r.scheduler = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

type persistOp struct {
	nodeID string
	info   *packet.InfoPayload
}

// Registry owns the node and service catalogs of the sidecar and keeps them
// in sync with the remote nodes.
type Registry struct {
	cfg       config.RegistryConfig
	broker    runtime.Broker
	store     Store
	transport Transport
	scheduler Scheduler
	logger    logger.Interface
	now       func() time.Time

	nodes    *NodeCatalog
	services *ServiceCatalog

	initialized  atomic.Bool
	beatsPending atomic.Bool
	discovers    singleflight.Group
	regLocks     sync.Map

	writeMu      sync.RWMutex
	writesClosed bool
	writes       chan persistOp
	writerDone   chan struct{}
}

// New creates a Registry. It does nothing until Start is called.
func New(
	cfg config.RegistryConfig,
	broker runtime.Broker,
	store Store,
	transport Transport,
	log logger.Interface,
	opts ...Option,
) *Registry {
	r := &Registry{
		cfg:       cfg,
		broker:    broker,
		store:     store,
		transport: transport,
		logger:    log,
		now:       time.Now,
		services:  NewServiceCatalog(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.nodes = newNodeCatalog(r, r.now, log)
	return r
}

func (r *Registry) Nodes() *NodeCatalog       { return r.nodes }
func (r *Registry) Services() *ServiceCatalog { return r.services }

// Initialized reports whether the stored nodes have been replayed.
func (r *Registry) Initialized() bool { return r.initialized.Load() }

// Start replays the stored nodes and schedules the periodic jobs.
func (r *Registry) Start(ctx context.Context) error {
	r.startWriter()

	if r.store != nil {
		if err := r.replay(ctx); err != nil {
			return fmt.Errorf("replay stored nodes: %w", err)
		}
	}
	r.initialized.Store(true)

	if r.scheduler == nil {
		return nil
	}
	if err := r.scheduleJobs(); err != nil {
		return err
	}
	r.scheduler.Start()
	return nil
}

func (r *Registry) replay(ctx context.Context) error {
	var (
		g        errgroup.Group
		seen     = make(map[string]bool)
		replayed atomic.Int64
		failed   atomic.Int64
	)
	g.SetLimit(replayConcurrency)

	err := r.store.Iterate(ctx, func(nodeID string, info *packet.InfoPayload) error {
		if seen[nodeID] || r.nodes.Has(nodeID) {
			r.logger.Errorw("duplicate node in store, skipping",
				"node_id", nodeID,
			)
			return nil
		}
		seen[nodeID] = true

		g.Go(func() error {
			if _, err := r.ProcessNodeInfo(ctx, nodeID, info); err != nil {
				failed.Add(1)
				r.logger.Warnw("failed to restore node",
					"node_id", nodeID,
					"error", err,
				)
				return nil
			}
			replayed.Add(1)
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if err != nil {
		return err
	}

	r.logger.Infow("stored nodes restored",
		"restored", replayed.Load(),
		"failed", failed.Load(),
	)
	return nil
}

func (r *Registry) scheduleJobs() error {
	if r.cfg.HeartbeatInterval > 0 {
		if err := r.scheduler.Every("registry.heartbeat", r.cfg.HeartbeatInterval, heartbeatJitter, func(ctx context.Context) {
			r.Beat(ctx)
		}); err != nil {
			return fmt.Errorf("schedule heartbeat: %w", err)
		}
	}
	if !r.cfg.DisableHeartbeatChecks && r.cfg.HeartbeatTimeout > 0 {
		if err := r.scheduler.Every("registry.check_remote_nodes", r.cfg.HeartbeatTimeout, 0, r.CheckRemoteNodes); err != nil {
			return fmt.Errorf("schedule liveness check: %w", err)
		}
	}
	if !r.cfg.DisableOfflineNodeRemoving && r.cfg.CleanOfflineNodesTimeout > 0 {
		interval := r.cfg.OfflineCheckInterval
		if interval <= 0 {
			interval = time.Minute
		}
		if err := r.scheduler.Every("registry.check_offline_nodes", interval, 0, r.CheckOfflineNodes); err != nil {
			return fmt.Errorf("schedule offline cleanup: %w", err)
		}
	}
	return nil
}

// Stop halts the jobs, waits for pending store writes and closes the store.
func (r *Registry) Stop(ctx context.Context) error {
	if r.scheduler != nil {
		if err := r.scheduler.Stop(); err != nil {
			r.logger.Warnw("failed to stop registry jobs", "error", err)
		}
	}

	r.writeMu.Lock()
	started := r.writes != nil && !r.writesClosed
	if started {
		r.writesClosed = true
		close(r.writes)
	}
	r.writeMu.Unlock()

	if started {
		select {
		case <-r.writerDone:
		case <-ctx.Done():
			r.logger.Warnw("store writes still pending at shutdown", "error", ctx.Err())
		}
	}

	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// ProcessNodeInfo handles an INFO packet from sender.
func (r *Registry) ProcessNodeInfo(ctx context.Context, sender string, payload *packet.InfoPayload) (*node.Node, error) {
	if payload != nil && r.cfg.MinClientVersion != "" && payload.Client.Version != "" &&
		!version.AtLeast(payload.Client.Version, r.cfg.MinClientVersion) {
		r.logger.Warnw("remote node runs an outdated client",
			"node_id", sender,
			"client_version", payload.Client.Version,
			"min_version", r.cfg.MinClientVersion,
		)
	}
	return r.nodes.ProcessNodeInfo(ctx, sender, payload)
}

// Beat asks every available node for a heartbeat. It returns false when the
// previous cycle is still running and this one was skipped.
func (r *Registry) Beat(ctx context.Context) bool {
	if !r.beatsPending.CompareAndSwap(false, true) {
		r.logger.Debugw("previous heartbeat cycle still running, skipping")
		return false
	}
	defer r.beatsPending.Store(false)

	var g errgroup.Group
	for _, n := range r.nodes.Snapshot() {
		if !n.Available || n.Gateway == nil {
			continue
		}
		nodeID, gw := n.ID, gateway.New(*n.Gateway)
		g.Go(func() error {
			if err := r.transport.RequestHeartbeat(ctx, nodeID, gw); err != nil {
				r.logger.Debugw("heartbeat request failed",
					"node_id", nodeID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// AnnounceShutdown sends DISCONNECT to every available node reachable
// through a gateway.
func (r *Registry) AnnounceShutdown(ctx context.Context) {
	var g errgroup.Group
	for _, n := range r.nodes.Snapshot() {
		if !n.Available || n.Gateway == nil {
			continue
		}
		nodeID, gw := n.ID, gateway.New(*n.Gateway)
		g.Go(func() error {
			if err := r.transport.SendDisconnect(ctx, nodeID, gw); err != nil {
				r.logger.Warnw("failed to announce shutdown",
					"node_id", nodeID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// CheckRemoteNodes marks nodes whose heartbeat is older than the heartbeat
// timeout as unexpectedly disconnected.
func (r *Registry) CheckRemoteNodes(ctx context.Context) {
	if r.cfg.DisableHeartbeatChecks || r.cfg.HeartbeatTimeout <= 0 {
		return
	}
	now := r.now()
	timeout := r.cfg.HeartbeatTimeout
	for _, n := range r.nodes.Snapshot() {
		if !n.Available || n.Gateway == nil {
			continue
		}
		if n.LastHeartbeatTime.IsZero() {
			r.nodes.initHeartbeat(n.ID, now)
			continue
		}
		if now.Sub(n.LastHeartbeatTime) <= timeout {
			continue
		}
		// The heartbeat may have arrived since the snapshot.
		stale := func(cur *node.Node) bool { return now.Sub(cur.LastHeartbeatTime) > timeout }
		if r.nodes.disconnectIf(ctx, n.ID, true, stale) {
			r.logger.Warnw("heartbeat timed out, node marked unavailable",
				"node_id", n.ID,
				"last_heartbeat", n.LastHeartbeatTime,
			)
		}
	}
}

// CheckOfflineNodes forgets nodes that stayed silent or offline longer than
// the offline cleanup timeout.
func (r *Registry) CheckOfflineNodes(ctx context.Context) {
	if r.cfg.DisableOfflineNodeRemoving || r.cfg.CleanOfflineNodesTimeout <= 0 {
		return
	}
	now := r.now()
	timeout := r.cfg.CleanOfflineNodesTimeout
	expired := func(n *node.Node) bool {
		if n.Available {
			return !n.LastHeartbeatTime.IsZero() && now.Sub(n.LastHeartbeatTime) > timeout
		}
		return n.OfflineSince != nil && now.Sub(*n.OfflineSince) > timeout
	}

	for _, n := range r.nodes.Snapshot() {
		if !expired(n) {
			continue
		}
		if r.nodes.deleteIf(n.ID, expired) {
			r.UnregisterServicesByNode(ctx, n.ID)
			r.logger.Infow("offline node removed",
				"node_id", n.ID,
				"available", n.Available,
			)
		}
	}
}

// HeartbeatReceived records a HEARTBEAT, or asks the node to describe itself
// again when the heartbeat shows the registry is out of date.
func (r *Registry) HeartbeatReceived(ctx context.Context, nodeID string, payload *packet.HeartbeatPayload) {
	n, ok := r.nodes.Get(nodeID)
	if !ok || n.Gateway == nil {
		r.logger.Debugw("heartbeat from unknown node ignored", "node_id", nodeID)
		return
	}

	reason := ""
	switch {
	case !n.Available:
		reason = "node unavailable"
	case payload != nil && payload.Seq != nil && *payload.Seq != n.Seq:
		reason = "seq mismatch"
	case payload != nil && !strings.HasPrefix(n.InstanceID, payload.InstanceID):
		reason = "instance changed"
	case r.nodes.needsResync(nodeID):
		reason = "service registration pending"
	}
	if reason == "" {
		r.nodes.heartbeat(nodeID)
		return
	}

	r.logger.Debugw("heartbeat out of date, requesting node info",
		"node_id", nodeID,
		"reason", reason,
	)
	r.discover(ctx, nodeID, gateway.New(*n.Gateway))
}

// discover sends DISCOVER in the background, at most one in flight per node.
func (r *Registry) discover(ctx context.Context, nodeID string, gw *gateway.Gateway) {
	ctx = context.WithoutCancel(ctx)
	goroutine.SafeGo(r.logger, "registry.discover", func() {
		_, _, _ = r.discovers.Do(nodeID, func() (any, error) {
			err := r.transport.Discover(ctx, nodeID, gw)
			if err != nil {
				r.logger.Warnw("discover request failed",
					"node_id", nodeID,
					"error", err,
				)
			}
			return nil, err
		})
	})
}

// RegisterServices fetches the node's services and installs a proxy for each
// of them in the local runtime.
func (r *Registry) RegisterServices(ctx context.Context, n *node.Node) error {
	if n.Gateway == nil {
		return errors.NewNoGatewayError(n.ID)
	}
	lock := r.nodeLock(n.ID)
	lock.Lock()
	defer lock.Unlock()

	gw := gateway.New(*n.Gateway)
	schemas, err := r.transport.DiscoverServices(ctx, n.ID, gw)
	if err != nil {
		r.nodes.setResync(n.ID, true)
		return fmt.Errorf("discover services of %s: %w", n.ID, err)
	}
	if !r.nodes.IsAvailable(n.ID) {
		r.logger.Debugw("node went away during service discovery", "node_id", n.ID)
		return nil
	}
	r.nodes.setResync(n.ID, false)

	r.UnregisterServicesByNode(ctx, n.ID)
	registered := 0
	for _, s := range schemas {
		proxy := BuildProxy(n.ID, gw, s, r.transport)
		fullName := proxy.FullName()

		if existing, ok := r.broker.GetLocalService(fullName); ok {
			if owner := existing.ProxyOf(); owner != "" {
				r.services.Remove(fullName, owner)
			}
			if err := r.broker.DestroyService(ctx, fullName); err != nil {
				r.logger.Warnw("failed to replace existing service",
					"service", fullName,
					"error", err,
				)
			}
		}

		if err := r.broker.CreateService(ctx, proxy); err != nil {
			r.logger.Errorw("failed to create service proxy",
				"node_id", n.ID,
				"service", fullName,
				"error", err,
			)
			continue
		}
		s.FullName = fullName
		r.services.Add(n.ID, s)
		registered++
	}

	r.logger.Infow("node services registered",
		"node_id", n.ID,
		"services", registered,
	)
	return nil
}

// UnregisterServicesByNode destroys every proxy of the node.
func (r *Registry) UnregisterServicesByNode(ctx context.Context, nodeID string) {
	for _, s := range r.broker.Services() {
		if s.ProxyOf() != nodeID {
			continue
		}
		if err := r.broker.DestroyService(ctx, s.FullName()); err != nil {
			r.logger.Warnw("failed to destroy service proxy",
				"node_id", nodeID,
				"service", s.FullName(),
				"error", err,
			)
		}
	}
	r.services.RemoveAllByNodeID(nodeID)
}

func (r *Registry) nodeLock(nodeID string) *sync.Mutex {
	l, _ := r.regLocks.LoadOrStore(nodeID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// catalogHooks

func (r *Registry) registerServices(ctx context.Context, n *node.Node) error {
	return r.RegisterServices(ctx, n)
}

func (r *Registry) notify(ctx context.Context, event string, ev NodeEvent) {
	if err := r.broker.BroadcastLocal(ctx, event, ev, runtime.EventOptions{}); err != nil {
		r.logger.Warnw("failed to broadcast node event",
			"event", event,
			"node_id", ev.Node.ID,
			"error", err,
		)
	}
}

// persist queues a store write for the node, or a delete when n is nil.
// Nothing is written before the stored nodes have been replayed.
func (r *Registry) persist(nodeID string, n *node.Node) {
	if r.store == nil || !r.initialized.Load() {
		return
	}
	op := persistOp{nodeID: nodeID}
	if n != nil {
		if n.RawInfo == nil {
			return
		}
		op.info = n.RawInfo
	}

	r.writeMu.RLock()
	defer r.writeMu.RUnlock()
	if r.writes == nil || r.writesClosed {
		return
	}
	r.writes <- op
}

func (r *Registry) startWriter() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.writes != nil {
		return
	}
	r.writes = make(chan persistOp, persistQueueLength)
	r.writerDone = make(chan struct{})

	goroutine.SafeGo(r.logger, "registry.store_writer", func() {
		defer close(r.writerDone)
		for op := range r.writes {
			r.write(op)
		}
	})
}

func (r *Registry) write(op persistOp) {
	ctx := context.Background()
	var err error
	if op.info == nil {
		err = r.store.Delete(ctx, op.nodeID)
	} else {
		err = r.store.Put(ctx, op.nodeID, op.info)
	}
	if err != nil {
		r.logger.Errorw("failed to persist node",
			"node_id", op.nodeID,
			"delete", op.info == nil,
			"error", err,
		)
	}
}

// EnsureNode records a placeholder for a sender that is not known yet.
func (r *Registry) EnsureNode(nodeID string) bool {
	return r.nodes.EnsurePlaceholder(nodeID)
}

// NodeDisconnected handles a DISCONNECT or a liveness failure of a node.
func (r *Registry) NodeDisconnected(ctx context.Context, nodeID string, unexpected bool) bool {
	return r.nodes.Disconnected(ctx, nodeID, unexpected)
}

// NodeSummaries lists the known nodes without credentials.
func (r *Registry) NodeSummaries(onlyAvailable bool) []packet.NodeSummary {
	return r.nodes.List(onlyAvailable)
}

// ServiceList lists the services of known nodes.
func (r *Registry) ServiceList(opts ListOptions) []ServiceInfo {
	return r.services.List(opts, r.nodes.IsAvailable)
}

// NodeGateway returns the gateway of a known node, if it advertised one.
func (r *Registry) NodeGateway(nodeID string) (*gateway.Gateway, bool) {
	n, ok := r.nodes.Get(nodeID)
	if !ok || n.Gateway == nil {
		return nil, false
	}
	return gateway.New(*n.Gateway), true
}

// ForgetNode removes a node and its services regardless of its state.
func (r *Registry) ForgetNode(ctx context.Context, nodeID string) bool {
	if !r.nodes.Delete(nodeID) {
		return false
	}
	r.UnregisterServicesByNode(ctx, nodeID)
	return true
}
