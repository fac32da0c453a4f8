package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
)

type brokerEvent struct {
	name string
	data any
}

type fakeBroker struct {
	mu       sync.Mutex
	services map[string]*runtime.ServiceSchema
	events   []brokerEvent
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{services: make(map[string]*runtime.ServiceSchema)}
}

func (b *fakeBroker) NodeID() string     { return "local" }
func (b *fakeBroker) InstanceID() string { return "local-1" }
func (b *fakeBroker) Stopping() bool     { return false }

func (b *fakeBroker) Call(context.Context, string, json.RawMessage, runtime.CallOptions) (any, error) {
	return nil, nil
}

func (b *fakeBroker) Emit(context.Context, string, any, runtime.EventOptions) error      { return nil }
func (b *fakeBroker) Broadcast(context.Context, string, any, runtime.EventOptions) error { return nil }

func (b *fakeBroker) BroadcastLocal(_ context.Context, event string, data any, _ runtime.EventOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, brokerEvent{name: event, data: data})
	return nil
}

func (b *fakeBroker) SendToChannel(context.Context, string, json.RawMessage, map[string]any) error {
	return nil
}

func (b *fakeBroker) CreateService(_ context.Context, s *runtime.ServiceSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services[s.FullName()] = s
	return nil
}

func (b *fakeBroker) DestroyService(_ context.Context, fullName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.services, fullName)
	return nil
}

func (b *fakeBroker) GetLocalService(fullName string) (*runtime.ServiceSchema, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[fullName]
	return s, ok
}

func (b *fakeBroker) Services() []*runtime.ServiceSchema {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*runtime.ServiceSchema, 0, len(b.services))
	for _, s := range b.services {
		out = append(out, s)
	}
	return out
}

func (b *fakeBroker) LocalNodeInfo() runtime.NodeInfo { return runtime.NodeInfo{} }

func (b *fakeBroker) eventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.events))
	for _, e := range b.events {
		names = append(names, e.name)
	}
	return names
}

func (b *fakeBroker) lastEvent() brokerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return brokerEvent{}
	}
	return b.events[len(b.events)-1]
}

type fakeTransport struct {
	mu              sync.Mutex
	schemas         map[string][]service.Schema
	discoverErr     error
	discoverGateway []string
	heartbeats      []string
	disconnects     []string
	requests        []*runtime.Context

	discovers        atomic.Int32
	discoverServices atomic.Int32
	// heartbeatGate, when set, blocks RequestHeartbeat until closed.
	heartbeatGate    chan struct{}
	heartbeatStarted chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{schemas: make(map[string][]service.Schema)}
}

func (t *fakeTransport) Request(_ context.Context, c *runtime.Context, _ *gateway.Gateway) (json.RawMessage, error) {
	t.mu.Lock()
	t.requests = append(t.requests, c)
	t.mu.Unlock()
	c.MergeMeta(map[string]any{"remote": true})
	return json.RawMessage(`{"ok":true}`), nil
}

func (t *fakeTransport) SendEvent(_ context.Context, c *runtime.Context, _ *gateway.Gateway) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, c)
}

func (t *fakeTransport) SendChannelEvent(_ context.Context, c *runtime.Context, _ *gateway.Gateway) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, c)
}

func (t *fakeTransport) RequestHeartbeat(_ context.Context, nodeID string, _ *gateway.Gateway) error {
	t.mu.Lock()
	t.heartbeats = append(t.heartbeats, nodeID)
	gate, started := t.heartbeatGate, t.heartbeatStarted
	t.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return nil
}

func (t *fakeTransport) Discover(context.Context, string, *gateway.Gateway) error {
	t.discovers.Add(1)
	return nil
}

func (t *fakeTransport) DiscoverServices(_ context.Context, nodeID string, gw *gateway.Gateway) ([]service.Schema, error) {
	t.discoverServices.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discoverGateway = append(t.discoverGateway, gw.URL().String())
	if t.discoverErr != nil {
		return nil, t.discoverErr
	}
	return t.schemas[nodeID], nil
}

func (t *fakeTransport) SendDisconnect(_ context.Context, nodeID string, _ *gateway.Gateway) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects = append(t.disconnects, nodeID)
	return nil
}

func (t *fakeTransport) disconnectTargets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.disconnects...)
}

func (t *fakeTransport) heartbeatTargets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.heartbeats...)
}

type memStore struct {
	mu      sync.Mutex
	infos   map[string]*packet.InfoPayload
	puts    atomic.Int32
	deletes atomic.Int32
	closed  bool
}

func newMemStore() *memStore {
	return &memStore{infos: make(map[string]*packet.InfoPayload)}
}

func (s *memStore) Get(_ context.Context, nodeID string) (*packet.InfoPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return info.Clone(), nil
}

func (s *memStore) Put(_ context.Context, nodeID string, info *packet.InfoPayload) error {
	s.puts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[nodeID] = info.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, nodeID string) error {
	s.deletes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, nodeID)
	return nil
}

func (s *memStore) Iterate(_ context.Context, fn func(string, *packet.InfoPayload) error) error {
	s.mu.Lock()
	snapshot := make(map[string]*packet.InfoPayload, len(s.infos))
	for id, info := range s.infos {
		snapshot[id] = info.Clone()
	}
	s.mu.Unlock()
	for id, info := range snapshot {
		if err := fn(id, info); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scheduledJob struct {
	interval time.Duration
	jitter   time.Duration
}

// recordingScheduler keeps the registered jobs without running them.
type recordingScheduler struct {
	mu   sync.Mutex
	jobs map[string]scheduledJob
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{jobs: make(map[string]scheduledJob)}
}

func (s *recordingScheduler) Every(name string, interval, jitter time.Duration, _ func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = scheduledJob{interval: interval, jitter: jitter}
	return nil
}

func (s *recordingScheduler) Start()      {}
func (s *recordingScheduler) Stop() error { return nil }
