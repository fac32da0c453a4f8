package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
	"github.com/orris-inc/sidecar/internal/shared/config"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

func testGateway() *gateway.Config {
	return &gateway.Config{Endpoint: "node-b.internal", Port: 8080, Path: "/api"}
}

func infoPayload(instanceID string, seq int64) *packet.InfoPayload {
	return &packet.InfoPayload{
		InstanceID: instanceID,
		Seq:        seq,
		Gateway:    testGateway(),
		Client:     runtime.ClientInfo{Type: "dotnet", Version: "1.4.0"},
	}
}

func invoiceSchema() service.Schema {
	return service.Schema{
		Name:    "invoices",
		Version: "2",
		Actions: map[string]service.ActionSchema{
			"create": {Handler: "h-create"},
			"void":   {Handler: "h-void", Protected: true},
		},
		Events: map[string]service.EventSchema{
			"order.paid": {Handler: "h-paid"},
		},
	}
}

func seqPtr(v int64) *int64 { return &v }

type testEnv struct {
	reg       *Registry
	broker    *fakeBroker
	transport *fakeTransport
	clock     *fakeClock
}

func newTestRegistry(t *testing.T, store Store) *testEnv {
	t.Helper()
	env := &testEnv{
		broker:    newFakeBroker(),
		transport: newFakeTransport(),
		clock:     newFakeClock(),
	}
	cfg := config.RegistryConfig{
		HeartbeatInterval:        10 * time.Second,
		HeartbeatTimeout:         30 * time.Second,
		CleanOfflineNodesTimeout: 600 * time.Second,
	}
	env.reg = New(cfg, env.broker, store, env.transport, logger.NewNop(), WithClock(env.clock.Now))
	require.NoError(t, env.reg.Start(context.Background()))
	t.Cleanup(func() { _ = env.reg.Stop(context.Background()) })
	return env
}

func TestRegistry_ProcessNodeInfo_NewNode(t *testing.T) {
	env := newTestRegistry(t, nil)
	env.transport.schemas["node-b"] = []service.Schema{invoiceSchema()}

	n, err := env.reg.ProcessNodeInfo(context.Background(), "node-b", infoPayload("x1", 1))

	require.NoError(t, err)
	assert.True(t, n.Available)
	assert.Equal(t, "x1", n.InstanceID)
	assert.Equal(t, int64(1), n.Seq)
	assert.Equal(t, int32(1), env.transport.discoverServices.Load())
	assert.Equal(t, []string{"http://node-b.internal:8080/api/v1/message"}, env.transport.discoverGateway)

	proxy, ok := env.broker.GetLocalService("v2.invoices")
	require.True(t, ok)
	assert.Equal(t, "node-b", proxy.ProxyOf())
	assert.True(t, env.reg.Services().Has("v2.invoices", "node-b"))

	ev := env.broker.lastEvent()
	assert.Equal(t, EventNodeConnected, ev.name)
	assert.False(t, ev.data.(NodeEvent).Reconnected)
	assert.Equal(t, "node-b", ev.data.(NodeEvent).Node.ID)
}

func TestRegistry_ProcessNodeInfo_RejectsMissingSender(t *testing.T) {
	env := newTestRegistry(t, nil)

	_, err := env.reg.ProcessNodeInfo(context.Background(), "", infoPayload("x1", 1))

	assert.Error(t, err)
	assert.Empty(t, env.reg.Nodes().List(false))
}

func TestRegistry_ProcessNodeInfo_RegisterRules(t *testing.T) {
	tests := []struct {
		name         string
		instanceID   string
		seq          int64
		wantRegister bool
		wantSeq      int64
		wantInstance string
	}{
		{name: "same seq", instanceID: "x1", seq: 3, wantRegister: false, wantSeq: 3, wantInstance: "x1"},
		{name: "seq advanced", instanceID: "x1", seq: 4, wantRegister: true, wantSeq: 4, wantInstance: "x1"},
		{name: "older seq", instanceID: "x1", seq: 2, wantRegister: false, wantSeq: 3, wantInstance: "x1"},
		{name: "missing seq counts as one", instanceID: "x1", seq: 0, wantRegister: false, wantSeq: 3, wantInstance: "x1"},
		{name: "instance restarted", instanceID: "x2", seq: 1, wantRegister: true, wantSeq: 1, wantInstance: "x2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestRegistry(t, nil)
			ctx := context.Background()
			_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 3))
			require.NoError(t, err)
			require.Equal(t, int32(1), env.transport.discoverServices.Load())

			n, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload(tt.instanceID, tt.seq))
			require.NoError(t, err)

			want := int32(1)
			if tt.wantRegister {
				want = 2
			}
			assert.Equal(t, want, env.transport.discoverServices.Load())
			assert.Equal(t, tt.wantSeq, n.Seq)
			assert.Equal(t, tt.wantInstance, n.InstanceID)
			assert.Equal(t, EventNodeUpdated, env.broker.lastEvent().name)
		})
	}
}

func TestRegistry_HeartbeatReceived_SameSeqOnlyTouches(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	env.reg.HeartbeatReceived(ctx, "node-b", &packet.HeartbeatPayload{Seq: seqPtr(1), InstanceID: "x1"})

	n, ok := env.reg.Nodes().Get("node-b")
	require.True(t, ok)
	assert.Equal(t, env.clock.Now(), n.LastHeartbeatTime)
	assert.Equal(t, int32(0), env.transport.discovers.Load())
	assert.Equal(t, int32(1), env.transport.discoverServices.Load())
}

func TestRegistry_InstanceRestartForcesRegistration(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	n, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x2", 1))

	require.NoError(t, err)
	assert.Equal(t, "x2", n.InstanceID)
	assert.Equal(t, int32(2), env.transport.discoverServices.Load())
}

func TestRegistry_HeartbeatReceived_TriggersDiscover(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(env *testEnv)
		payload *packet.HeartbeatPayload
	}{
		{
			name:    "seq mismatch",
			payload: &packet.HeartbeatPayload{Seq: seqPtr(7), InstanceID: "x1"},
		},
		{
			name:    "instance changed",
			payload: &packet.HeartbeatPayload{Seq: seqPtr(1), InstanceID: "y1"},
		},
		{
			name: "node unavailable",
			prepare: func(env *testEnv) {
				env.reg.Nodes().Disconnected(context.Background(), "node-b", true)
			},
			payload: &packet.HeartbeatPayload{Seq: seqPtr(2), InstanceID: "x1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestRegistry(t, nil)
			_, err := env.reg.ProcessNodeInfo(context.Background(), "node-b", infoPayload("x1", 1))
			require.NoError(t, err)
			if tt.prepare != nil {
				tt.prepare(env)
			}
			before, _ := env.reg.Nodes().Get("node-b")

			env.reg.HeartbeatReceived(context.Background(), "node-b", tt.payload)

			assert.Eventually(t, func() bool {
				return env.transport.discovers.Load() == 1
			}, time.Second, 5*time.Millisecond)
			after, _ := env.reg.Nodes().Get("node-b")
			assert.Equal(t, before.LastHeartbeatTime, after.LastHeartbeatTime)
		})
	}
}

func TestRegistry_HeartbeatReceived_InstancePrefixAccepted(t *testing.T) {
	env := newTestRegistry(t, nil)
	_, err := env.reg.ProcessNodeInfo(context.Background(), "node-b", infoPayload("x1-long", 1))
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	env.reg.HeartbeatReceived(context.Background(), "node-b", &packet.HeartbeatPayload{InstanceID: "x1"})

	n, _ := env.reg.Nodes().Get("node-b")
	assert.Equal(t, env.clock.Now(), n.LastHeartbeatTime)
	assert.Equal(t, int32(0), env.transport.discovers.Load())
}

func TestRegistry_HeartbeatReceived_IgnoresUnknownAndGatewayless(t *testing.T) {
	env := newTestRegistry(t, nil)
	require.True(t, env.reg.Nodes().EnsurePlaceholder("node-z"))
	require.False(t, env.reg.Nodes().EnsurePlaceholder("node-z"))

	env.reg.HeartbeatReceived(context.Background(), "node-unknown", &packet.HeartbeatPayload{Seq: seqPtr(1)})
	env.reg.HeartbeatReceived(context.Background(), "node-z", &packet.HeartbeatPayload{Seq: seqPtr(9)})

	assert.Equal(t, int32(0), env.transport.discovers.Load())
	assert.False(t, env.reg.Nodes().Has("node-unknown"))
}

func TestRegistry_FailedRegistrationIsRetried(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	env.transport.schemas["node-b"] = []service.Schema{invoiceSchema()}
	env.transport.discoverErr = errors.New("gateway down")

	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)
	_, ok := env.broker.GetLocalService("v2.invoices")
	require.False(t, ok)

	// A regular heartbeat now asks for a fresh INFO.
	env.reg.HeartbeatReceived(ctx, "node-b", &packet.HeartbeatPayload{Seq: seqPtr(1), InstanceID: "x1"})
	assert.Eventually(t, func() bool {
		return env.transport.discovers.Load() == 1
	}, time.Second, 5*time.Millisecond)

	env.transport.mu.Lock()
	env.transport.discoverErr = nil
	env.transport.mu.Unlock()

	_, err = env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	_, ok = env.broker.GetLocalService("v2.invoices")
	assert.True(t, ok)
	assert.False(t, env.reg.Nodes().needsResync("node-b"))
}

func TestNodeCatalog_DisconnectedUnexpected(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	env.transport.schemas["node-b"] = []service.Schema{invoiceSchema()}
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	assert.True(t, env.reg.Nodes().Disconnected(ctx, "node-b", true))
	assert.False(t, env.reg.Nodes().Disconnected(ctx, "node-b", true))

	n, ok := env.reg.Nodes().Get("node-b")
	require.True(t, ok)
	assert.False(t, n.Available)
	require.NotNil(t, n.OfflineSince)
	assert.Equal(t, env.clock.Now(), *n.OfflineSince)
	assert.Equal(t, int64(2), n.Seq)

	_, ok = env.broker.GetLocalService("v2.invoices")
	assert.False(t, ok)
	assert.False(t, env.reg.Services().Has("v2.invoices", "node-b"))

	ev := env.broker.lastEvent()
	assert.Equal(t, EventNodeDisconnected, ev.name)
	assert.True(t, ev.data.(NodeEvent).Unexpected)
}

func TestNodeCatalog_ReconnectNotifies(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)
	env.reg.Nodes().Disconnected(ctx, "node-b", true)

	n, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 2))

	require.NoError(t, err)
	assert.True(t, n.Available)
	assert.Nil(t, n.OfflineSince)
	assert.Equal(t, int32(2), env.transport.discoverServices.Load())
	ev := env.broker.lastEvent()
	assert.Equal(t, EventNodeConnected, ev.name)
	assert.True(t, ev.data.(NodeEvent).Reconnected)
}

func TestNodeCatalog_GracefulDisconnectRemovesNode(t *testing.T) {
	store := newMemStore()
	env := newTestRegistry(t, store)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	assert.True(t, env.reg.Nodes().Disconnected(ctx, "node-b", false))
	require.NoError(t, env.reg.Stop(ctx))

	assert.False(t, env.reg.Nodes().Has("node-b"))
	assert.Equal(t, int32(1), store.puts.Load())
	assert.Equal(t, int32(1), store.deletes.Load())
	assert.Empty(t, store.infos)
}

func TestNodeCatalog_ListRedactsCredentials(t *testing.T) {
	env := newTestRegistry(t, nil)
	info := infoPayload("x1", 1)
	info.Gateway.Auth = &gateway.Auth{AccessToken: "secret"}
	_, err := env.reg.ProcessNodeInfo(context.Background(), "node-b", info)
	require.NoError(t, err)

	list := env.reg.Nodes().List(false)

	require.Len(t, list, 1)
	require.NotNil(t, list[0].Gateway)
	assert.Nil(t, list[0].Gateway.Auth)
	assert.Equal(t, "node-b.internal", list[0].Gateway.Endpoint)
}

func TestRegistry_TimedOutNodeExcludedFromBeat(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("b1", 1))
	require.NoError(t, err)
	_, err = env.reg.ProcessNodeInfo(ctx, "node-c", infoPayload("c1", 1))
	require.NoError(t, err)

	env.clock.Advance(20 * time.Second)
	env.reg.HeartbeatReceived(ctx, "node-c", &packet.HeartbeatPayload{Seq: seqPtr(1), InstanceID: "c1"})
	env.clock.Advance(15 * time.Second)

	env.reg.CheckRemoteNodes(ctx)

	assert.False(t, env.reg.Nodes().IsAvailable("node-b"))
	assert.True(t, env.reg.Nodes().IsAvailable("node-c"))

	assert.True(t, env.reg.Beat(ctx))
	assert.Equal(t, []string{"node-c"}, env.transport.heartbeatTargets())
}

func TestRegistry_AnnounceShutdownReachesAvailableNodes(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	for _, id := range []string{"node-b", "node-c"} {
		_, err := env.reg.ProcessNodeInfo(ctx, id, infoPayload(id+"-1", 1))
		require.NoError(t, err)
	}
	require.True(t, env.reg.Nodes().EnsurePlaceholder("node-d"))
	env.reg.NodeDisconnected(ctx, "node-b", true)

	env.reg.AnnounceShutdown(ctx)

	assert.Equal(t, []string{"node-c"}, env.transport.disconnectTargets())
}

func TestRegistry_BeatSkipsWhilePreviousCycleRuns(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 1))
	require.NoError(t, err)

	gate := make(chan struct{})
	env.transport.heartbeatGate = gate
	env.transport.heartbeatStarted = make(chan struct{}, 1)

	done := make(chan bool, 1)
	go func() { done <- env.reg.Beat(ctx) }()

	select {
	case <-env.transport.heartbeatStarted:
	case <-time.After(time.Second):
		t.Fatal("heartbeat cycle did not start")
	}

	assert.False(t, env.reg.Beat(ctx))
	close(gate)
	assert.True(t, <-done)
	assert.True(t, env.reg.Beat(ctx))
	assert.Len(t, env.transport.heartbeatTargets(), 2)
}

func TestRegistry_ScheduledJobIntervals(t *testing.T) {
	sched := newRecordingScheduler()
	cfg := config.RegistryConfig{
		HeartbeatInterval:        10 * time.Second,
		HeartbeatTimeout:         30 * time.Second,
		CleanOfflineNodesTimeout: 600 * time.Second,
	}
	reg := New(cfg, newFakeBroker(), nil, newFakeTransport(), logger.NewNop(), WithScheduler(sched))
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(func() { _ = reg.Stop(context.Background()) })

	assert.Equal(t, 10*time.Second, sched.jobs["registry.heartbeat"].interval)
	assert.Equal(t, 30*time.Second, sched.jobs["registry.check_remote_nodes"].interval)
	assert.Equal(t, time.Minute, sched.jobs["registry.check_offline_nodes"].interval)
}

func TestRegistry_CheckOfflineNodes(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	env.transport.schemas["node-b"] = []service.Schema{invoiceSchema()}
	for _, id := range []string{"node-b", "node-c"} {
		_, err := env.reg.ProcessNodeInfo(ctx, id, infoPayload(id+"-1", 1))
		require.NoError(t, err)
	}
	env.reg.Nodes().Disconnected(ctx, "node-b", true)

	env.clock.Advance(601 * time.Second)
	_, err := env.reg.ProcessNodeInfo(ctx, "node-d", infoPayload("node-d-1", 1))
	require.NoError(t, err)

	env.reg.CheckOfflineNodes(ctx)

	assert.False(t, env.reg.Nodes().Has("node-b"))
	assert.False(t, env.reg.Nodes().Has("node-c"))
	assert.True(t, env.reg.Nodes().Has("node-d"))
	assert.Empty(t, env.reg.Services().List(ListOptions{NodeID: "node-b"}, nil))
}

func TestRegistry_StartReplaysStoreWithoutWritingBack(t *testing.T) {
	store := newMemStore()
	store.infos["node-b"] = infoPayload("x1", 4)
	env := newTestRegistry(t, store)
	ctx := context.Background()

	n, ok := env.reg.Nodes().Get("node-b")
	require.True(t, ok)
	assert.Equal(t, int64(4), n.Seq)
	assert.True(t, env.reg.Initialized())
	assert.Equal(t, int32(0), store.puts.Load())
	assert.Equal(t, int32(1), env.transport.discoverServices.Load())

	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("x1", 5))
	require.NoError(t, err)
	require.NoError(t, env.reg.Stop(ctx))

	assert.Equal(t, int32(1), store.puts.Load())
	assert.Equal(t, int64(5), store.infos["node-b"].Seq)
	assert.True(t, store.closed)
}

func TestRegistry_RegisterServicesReplacesForeignProxy(t *testing.T) {
	env := newTestRegistry(t, nil)
	ctx := context.Background()
	env.transport.schemas["node-b"] = []service.Schema{invoiceSchema()}
	env.transport.schemas["node-c"] = []service.Schema{invoiceSchema()}

	_, err := env.reg.ProcessNodeInfo(ctx, "node-b", infoPayload("b1", 1))
	require.NoError(t, err)
	_, err = env.reg.ProcessNodeInfo(ctx, "node-c", infoPayload("c1", 1))
	require.NoError(t, err)

	proxy, ok := env.broker.GetLocalService("v2.invoices")
	require.True(t, ok)
	assert.Equal(t, "node-c", proxy.ProxyOf())
	assert.False(t, env.reg.Services().Has("v2.invoices", "node-b"))
	assert.True(t, env.reg.Services().Has("v2.invoices", "node-c"))
}
