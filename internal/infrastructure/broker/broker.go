// Package broker is the in-process action/event runtime the sidecar bridges
// remote nodes into. Remote services appear here as proxies created by the
// registry; local services register the same way.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"os"
	goruntime "runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/id"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/version"
)

// Options configures a Broker.
type Options struct {
	// NodeID of the local node; generated from the hostname when empty.
	NodeID   string
	Metadata map[string]any
	// Workers and QueueSize size the event bus.
	Workers   int
	QueueSize int
}

// Listener observes events published through the broker without being a
// service, e.g. the registry watch stream.
type Listener = func(event string, data any)

type actionEndpoint struct {
	service *runtime.ServiceSchema
	action  *runtime.Action
}

type subscriber struct {
	service *runtime.ServiceSchema
	group   string
	run     func(ctx context.Context, c *runtime.Context) error
}

type listenerEntry struct {
	pattern string
	fn      Listener
}

// Broker implements runtime.Broker in memory.
type Broker struct {
	nodeID     string
	instanceID string
	metadata   map[string]any
	logger     logger.Interface
	bus        *eventBus

	mu           sync.RWMutex
	services     map[string]*runtime.ServiceSchema
	actions      map[string]actionEndpoint
	listeners    map[int]listenerEntry
	nextListener int
	rr           map[string]int

	seq      atomic.Int64
	started  atomic.Bool
	stopping atomic.Bool
}

var _ runtime.Broker = (*Broker)(nil)

func New(opts Options, log logger.Interface) *Broker {
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = id.NodeID()
	}
	b := &Broker{
		nodeID:     nodeID,
		instanceID: id.InstanceID(),
		metadata:   maps.Clone(opts.Metadata),
		logger:     log.With("node_id", nodeID),
		bus:        newEventBus(log, opts.Workers, opts.QueueSize),
		services:   make(map[string]*runtime.ServiceSchema),
		actions:    make(map[string]actionEndpoint),
		listeners:  make(map[int]listenerEntry),
		rr:         make(map[string]int),
	}
	b.seq.Store(1)
	return b
}

func (b *Broker) NodeID() string     { return b.nodeID }
func (b *Broker) InstanceID() string { return b.instanceID }
func (b *Broker) Stopping() bool     { return b.stopping.Load() }

// Start runs the event bus and the Started hook of every registered service.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.bus.start(); err != nil {
		return err
	}
	b.started.Store(true)

	for _, s := range b.Services() {
		if err := runHook(ctx, s.Started); err != nil {
			return fmt.Errorf("failed to start service %s: %w", s.FullName(), err)
		}
	}
	b.logger.Infow("broker started", "instance_id", b.instanceID)
	return nil
}

// Stop refuses new calls, runs Stopped hooks and drains pending events.
func (b *Broker) Stop(ctx context.Context) error {
	if !b.stopping.CompareAndSwap(false, true) {
		return nil
	}
	for _, s := range b.Services() {
		if err := runHook(ctx, s.Stopped); err != nil {
			b.logger.Warnw("service stop hook failed",
				"service", s.FullName(),
				"error", err,
			)
		}
	}
	if b.started.Load() {
		if err := b.bus.stop(); err != nil {
			return err
		}
	}
	b.logger.Infow("broker stopped")
	return nil
}

func runHook(ctx context.Context, h runtime.Hook) error {
	if h == nil {
		return nil
	}
	return h(ctx)
}

// CreateService registers s and indexes its actions. Registering a second
// service under an existing full name fails.
func (b *Broker) CreateService(ctx context.Context, s *runtime.ServiceSchema) error {
	if s == nil || s.Name == "" {
		return errors.NewValidationError("service name is required")
	}
	fullName := s.FullName()

	b.mu.Lock()
	if _, exists := b.services[fullName]; exists {
		b.mu.Unlock()
		return fmt.Errorf("service %s is already registered", fullName)
	}
	names := make(map[string]*runtime.Action, len(s.Actions))
	for key, a := range s.Actions {
		name := s.ActionName(key)
		if owner, taken := b.actions[name]; taken {
			b.mu.Unlock()
			return fmt.Errorf("action %s is already served by %s", name, owner.service.FullName())
		}
		names[name] = a
	}
	b.services[fullName] = s
	for name, a := range names {
		b.actions[name] = actionEndpoint{service: s, action: a}
	}
	b.mu.Unlock()
	b.seq.Add(1)

	if err := runHook(ctx, s.Created); err != nil {
		return fmt.Errorf("service %s created hook: %w", fullName, err)
	}
	if b.started.Load() {
		if err := runHook(ctx, s.Started); err != nil {
			return fmt.Errorf("service %s started hook: %w", fullName, err)
		}
	}

	b.logger.Debugw("service registered",
		"service", fullName,
		"proxy_of", s.ProxyOf(),
		"actions", len(names),
	)
	return nil
}

func (b *Broker) DestroyService(ctx context.Context, fullName string) error {
	b.mu.Lock()
	s, ok := b.services[fullName]
	if !ok {
		b.mu.Unlock()
		return errors.NewNotFoundError("service " + fullName + " is not registered")
	}
	delete(b.services, fullName)
	for name, ep := range b.actions {
		if ep.service == s {
			delete(b.actions, name)
		}
	}
	b.mu.Unlock()
	b.seq.Add(1)

	if b.started.Load() {
		if err := runHook(ctx, s.Stopped); err != nil {
			return fmt.Errorf("service %s stopped hook: %w", fullName, err)
		}
	}
	b.logger.Debugw("service destroyed", "service", fullName)
	return nil
}

func (b *Broker) GetLocalService(fullName string) (*runtime.ServiceSchema, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.services[fullName]
	return s, ok
}

// Services returns every registered service ordered by full name.
func (b *Broker) Services() []*runtime.ServiceSchema {
	b.mu.RLock()
	out := make([]*runtime.ServiceSchema, 0, len(b.services))
	for _, s := range b.services {
		out = append(out, s)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// Call runs action with a child of opts.Parent and copies the handler's meta
// changes back into the parent. With opts.Reuse the handler gets opts.Parent
// itself.
func (b *Broker) Call(ctx context.Context, action string, params json.RawMessage, opts runtime.CallOptions) (any, error) {
	b.mu.RLock()
	ep, ok := b.actions[action]
	b.mu.RUnlock()
	if !ok || ep.action.Handler == nil || (opts.Local && ep.service.ProxyOf() != "") {
		return nil, errors.NewServiceNotFoundError(action, b.nodeID)
	}

	var c *runtime.Context
	if opts.Reuse && opts.Parent != nil {
		c = opts.Parent
		if c.Meta == nil {
			c.Meta = map[string]any{}
		}
	} else {
		c = opts.Parent.Child()
		if opts.Parent != nil {
			c.NodeID = opts.Parent.NodeID
		}
	}
	c.Action = action
	c.Params = params
	c.Timeout = opts.Timeout

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res, err := b.invoke(ctx, ep.action.Handler, c)
	if opts.Parent != nil && c != opts.Parent {
		opts.Parent.MergeMeta(c.Meta)
	}
	return res, err
}

func (b *Broker) invoke(ctx context.Context, h runtime.ActionHandler, c *runtime.Context) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("action handler panicked",
				"action", c.Action,
				"panic", fmt.Sprintf("%v", r),
			)
			err = errors.NewInternalError("action "+c.Action+" failed", fmt.Errorf("panic: %v", r))
		}
	}()
	return h(ctx, c)
}

// Emit delivers event to one subscriber per group.
func (b *Broker) Emit(ctx context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.publishEvent(ctx, runtime.EventTypeEmit, event, data, opts)
}

// Broadcast delivers event to every subscriber, proxies included.
func (b *Broker) Broadcast(ctx context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.publishEvent(ctx, runtime.EventTypeBroadcast, event, data, opts)
}

// BroadcastLocal delivers event to every subscriber served by this process.
func (b *Broker) BroadcastLocal(ctx context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.publishEvent(ctx, runtime.EventTypeBroadcastLocal, event, data, opts)
}

func (b *Broker) publishEvent(ctx context.Context, eventType, event string, data any, opts runtime.EventOptions) error {
	params, err := runtime.EncodeParams(data)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event, err)
	}

	subs := b.eventSubscribers(event, opts, eventType == runtime.EventTypeBroadcastLocal)
	if eventType == runtime.EventTypeEmit {
		subs = b.balance("event:"+event, subs)
	}

	detached := context.WithoutCancel(ctx)
	var errs []error
	for _, sub := range subs {
		c := eventContext(opts)
		c.Event = event
		c.EventType = eventType
		c.Groups = opts.Groups
		c.Params = params
		run := sub.run
		if err := b.bus.publish(delivery{name: event, run: func() error { return run(detached, c) }}); err != nil {
			errs = append(errs, err)
		}
	}

	for _, l := range b.matchingListeners(event) {
		fn := l.fn
		if err := b.bus.publish(delivery{name: event, run: func() error { fn(event, data); return nil }}); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// eventContext gives each subscriber its own context.
func eventContext(opts runtime.EventOptions) *runtime.Context {
	if opts.Parent == nil {
		return runtime.NewContext()
	}
	if opts.Reuse {
		return opts.Parent.Clone()
	}
	c := opts.Parent.Child()
	c.NodeID = opts.Parent.NodeID
	return c
}

// eventSubscribers collects handlers for event. Proxies of the node the event
// came from are skipped so a remote event never loops back to its sender.
func (b *Broker) eventSubscribers(event string, opts runtime.EventOptions, localOnly bool) []subscriber {
	origin := ""
	if opts.Parent != nil {
		origin = opts.Parent.NodeID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var subs []subscriber
	for _, s := range b.services {
		proxyOf := s.ProxyOf()
		if proxyOf != "" && (localOnly || proxyOf == origin) {
			continue
		}
		for key, e := range s.Events {
			if e.Handler == nil {
				continue
			}
			name := e.Name
			if name == "" {
				name = key
			}
			if !matchEvent(name, event) {
				continue
			}
			group := e.Group
			if group == "" {
				group = s.Name
			}
			if !inGroups(group, opts.Groups) {
				continue
			}
			subs = append(subs, subscriber{service: s, group: group, run: e.Handler})
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].service.FullName() < subs[j].service.FullName() })
	return subs
}

func inGroups(group string, groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if g == group {
			return true
		}
	}
	return false
}

// balance keeps one subscriber per group, rotating between calls.
func (b *Broker) balance(key string, subs []subscriber) []subscriber {
	byGroup := make(map[string][]subscriber)
	var order []string
	for _, s := range subs {
		if _, ok := byGroup[s.group]; !ok {
			order = append(order, s.group)
		}
		byGroup[s.group] = append(byGroup[s.group], s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]subscriber, 0, len(order))
	for _, g := range order {
		candidates := byGroup[g]
		k := key + "|" + g
		out = append(out, candidates[b.rr[k]%len(candidates)])
		b.rr[k]++
	}
	return out
}

// SendToChannel delivers a channel message to one handler per group.
func (b *Broker) SendToChannel(ctx context.Context, channel string, data json.RawMessage, opts map[string]any) error {
	b.mu.RLock()
	var subs []subscriber
	for _, s := range b.services {
		for key, ch := range s.Channels {
			if ch.Handler == nil {
				continue
			}
			name := ch.Name
			if name == "" {
				name = key
			}
			if name != channel {
				continue
			}
			group := ch.Group
			if group == "" {
				group = s.FullName()
			}
			subs = append(subs, subscriber{service: s, group: group, run: ch.Handler})
		}
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debugw("no handler for channel message", "channel", channel)
		return nil
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].service.FullName() < subs[j].service.FullName() })

	detached := context.WithoutCancel(ctx)
	var errs []error
	for _, sub := range b.balance("channel:"+channel, subs) {
		c := runtime.NewContext()
		c.Channel = channel
		c.Params = data
		if meta, ok := opts["meta"].(map[string]any); ok {
			c.MergeMeta(meta)
		}
		run := sub.run
		if err := b.bus.publish(delivery{name: channel, run: func() error { return run(detached, c) }}); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// Subscribe registers fn for every event matching pattern and returns the
// function that removes it.
func (b *Broker) Subscribe(pattern string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextListener++
	key := b.nextListener
	b.listeners[key] = listenerEntry{pattern: pattern, fn: fn}
	return func() {
		b.mu.Lock()
		delete(b.listeners, key)
		b.mu.Unlock()
	}
}

func (b *Broker) matchingListeners(event string) []listenerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []listenerEntry
	for _, l := range b.listeners {
		if matchEvent(l.pattern, event) {
			out = append(out, l)
		}
	}
	return out
}

// LocalNodeInfo describes this process. Proxies of remote nodes are not
// part of the local service list.
func (b *Broker) LocalNodeInfo() runtime.NodeInfo {
	var services []service.Schema
	for _, s := range b.Services() {
		if s.ProxyOf() != "" {
			continue
		}
		services = append(services, s.Describe())
	}
	hostname, _ := os.Hostname()
	return runtime.NodeInfo{
		Services:   services,
		IPList:     localIPs(),
		Hostname:   hostname,
		InstanceID: b.instanceID,
		Metadata:   maps.Clone(b.metadata),
		Seq:        b.seq.Load(),
		Client: runtime.ClientInfo{
			Type:        "go",
			Version:     version.Current(),
			LangVersion: goruntime.Version(),
		},
	}
}

func localIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return []string{}
	}
	ips := []string{}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		ips = append(ips, ipNet.IP.String())
	}
	return ips
}
