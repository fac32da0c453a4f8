package transit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/node"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/config"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

type recordedCall struct {
	action string
	params json.RawMessage
	opts   runtime.CallOptions
}

type recordedEvent struct {
	kind string
	name string
	data any
	opts runtime.EventOptions
}

type fakeBroker struct {
	mu         sync.Mutex
	stopping   bool
	callResult any
	callErr    error
	calls      []recordedCall
	events     []recordedEvent
	services   []*runtime.ServiceSchema
}

func (b *fakeBroker) NodeID() string     { return "sidecar-1" }
func (b *fakeBroker) InstanceID() string { return "inst-1" }

func (b *fakeBroker) Stopping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping
}

func (b *fakeBroker) Call(_ context.Context, action string, params json.RawMessage, opts runtime.CallOptions) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, recordedCall{action: action, params: params, opts: opts})
	if opts.Parent != nil {
		opts.Parent.MergeMeta(map[string]any{"handledBy": "sidecar-1"})
	}
	return b.callResult, b.callErr
}

func (b *fakeBroker) record(kind, name string, data any, opts runtime.EventOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{kind: kind, name: name, data: data, opts: opts})
	return nil
}

func (b *fakeBroker) Emit(_ context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.record("emit", event, data, opts)
}

func (b *fakeBroker) Broadcast(_ context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.record("broadcast", event, data, opts)
}

func (b *fakeBroker) BroadcastLocal(_ context.Context, event string, data any, opts runtime.EventOptions) error {
	return b.record("broadcastLocal", event, data, opts)
}

func (b *fakeBroker) SendToChannel(_ context.Context, channel string, data json.RawMessage, _ map[string]any) error {
	return b.record("channel", channel, data, runtime.EventOptions{})
}

func (b *fakeBroker) CreateService(context.Context, *runtime.ServiceSchema) error { return nil }
func (b *fakeBroker) DestroyService(context.Context, string) error                { return nil }

func (b *fakeBroker) GetLocalService(string) (*runtime.ServiceSchema, bool) { return nil, false }

func (b *fakeBroker) Services() []*runtime.ServiceSchema { return b.services }

func (b *fakeBroker) LocalNodeInfo() runtime.NodeInfo {
	return runtime.NodeInfo{
		Hostname:   "sidecar-host",
		InstanceID: "inst-1",
		Seq:        3,
		Client:     runtime.ClientInfo{Type: "go", Version: "1.0.0"},
	}
}

func (b *fakeBroker) recordedEvents() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedEvent(nil), b.events...)
}

type fakeRegistry struct {
	mu           sync.Mutex
	infos        []string
	heartbeats   []string
	disconnected []string
	ensured      []string
	summaries    []packet.NodeSummary
}

func (r *fakeRegistry) ProcessNodeInfo(_ context.Context, sender string, payload *packet.InfoPayload) (*node.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, sender)
	return &node.Node{ID: sender, InstanceID: payload.InstanceID}, nil
}

func (r *fakeRegistry) HeartbeatReceived(_ context.Context, nodeID string, _ *packet.HeartbeatPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, nodeID)
}

func (r *fakeRegistry) NodeDisconnected(_ context.Context, nodeID string, unexpected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !unexpected {
		r.disconnected = append(r.disconnected, nodeID)
	}
	return true
}

func (r *fakeRegistry) EnsureNode(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = append(r.ensured, nodeID)
	return true
}

func (r *fakeRegistry) NodeSummaries(bool) []packet.NodeSummary {
	return r.summaries
}

func newTestTransit(t *testing.T, cfg config.TransitConfig) (*Transit, *fakeBroker, *fakeRegistry) {
	t.Helper()
	broker := &fakeBroker{}
	reg := &fakeRegistry{}
	tr, err := New(cfg, broker, logger.NewNop())
	require.NoError(t, err)
	tr.AttachRegistry(reg)
	return tr, broker, reg
}

// fakeGateway is a remote node endpoint. reply decides the HTTP answer to
// every posted packet.
type fakeGateway struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	hits   int
	posted []*packet.Packet
	header http.Header
	reply  func(w http.ResponseWriter, pkt *packet.Packet)
}

func newFakeGateway(t *testing.T, reply func(w http.ResponseWriter, pkt *packet.Packet)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, reply: reply}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pkt, err := packet.Deserialize(body, packet.JSONSerializer{})
		g.mu.Lock()
		g.hits++
		g.header = r.Header.Clone()
		if err == nil {
			g.posted = append(g.posted, pkt)
		}
		g.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.reply(w, pkt)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) gateway() *gateway.Gateway {
	u, err := url.Parse(g.srv.URL)
	require.NoError(g.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(g.t, err)
	return gateway.New(gateway.Config{Endpoint: u.Hostname(), Port: port, Auth: &gateway.Auth{AccessToken: "tok"}})
}

func (g *fakeGateway) hitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits
}

func (g *fakeGateway) lastHeader() http.Header {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.header
}

func (g *fakeGateway) postedTypes() []packet.Type {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]packet.Type, 0, len(g.posted))
	for _, p := range g.posted {
		out = append(out, p.Type)
	}
	return out
}

func ackReply(w http.ResponseWriter, _ *packet.Packet) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

func writePacket(t *testing.T, w http.ResponseWriter, pkt *packet.Packet) {
	t.Helper()
	pkt.Extend("node-b", packet.ProtocolVersion)
	body, err := pkt.Serialize(packet.JSONSerializer{})
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(body)
}

func inbound(t *testing.T, sender string, pkt *packet.Packet) []byte {
	t.Helper()
	pkt.Extend(sender, packet.ProtocolVersion)
	body, err := pkt.Serialize(packet.JSONSerializer{})
	require.NoError(t, err)
	return body
}

func remoteSchemas() []service.Schema {
	return []service.Schema{{
		Name:    "invoices",
		Version: "2",
		Actions: map[string]service.ActionSchema{"create": {Handler: "h-create"}},
	}}
}
