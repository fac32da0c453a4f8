package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/shared/logger"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

type received struct {
	mu     sync.Mutex
	events []NodeEvent
}

func (r *received) add(e NodeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *received) snapshot() []NodeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NodeEvent(nil), r.events...)
}

func waitSubscribed(t *testing.T, client *redis.Client, channel string) {
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && n[channel] > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNodeEventRelay_DeliversToOtherInstances(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	local := NewNodeEventRelay(client, "", logger.NewNop())
	peer := NewNodeEventRelay(client, "", logger.NewNop())
	require.NotEqual(t, local.InstanceID(), peer.InstanceID())

	ctx, cancel := context.WithCancel(context.Background())
	got := &received{}
	done := make(chan error, 1)
	go func() { done <- local.Subscribe(ctx, got.add) }()
	waitSubscribed(t, client, DefaultChannel)

	require.NoError(t, local.Publish(ctx, "$sidecar-node.connected", "node-a", map[string]string{"id": "node-a"}))
	require.NoError(t, peer.Publish(ctx, "$sidecar-node.disconnected", "node-b", map[string]string{"id": "node-b"}))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	event := got.snapshot()[0]
	assert.Equal(t, "$sidecar-node.disconnected", event.Event)
	assert.Equal(t, "node-b", event.NodeID)
	assert.Equal(t, peer.InstanceID(), event.InstanceID)
	assert.JSONEq(t, `{"id":"node-b"}`, string(event.Data))
	assert.NotZero(t, event.Timestamp)

	// the instance's own event must never come back
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got.snapshot(), 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestNodeEventRelay_IgnoresMalformedPayload(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	relay := NewNodeEventRelay(client, "custom", logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := &received{}
	go func() { _ = relay.Subscribe(ctx, got.add) }()
	waitSubscribed(t, client, "custom")

	require.NoError(t, client.Publish(ctx, "custom", "not json").Err())
	require.NoError(t, NewNodeEventRelay(client, "custom", logger.NewNop()).Publish(ctx, "$sidecar-node.updated", "node-c", nil))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "node-c", got.snapshot()[0].NodeID)
}

func TestNodeEventRelay_PublishFailsWhenRedisIsDown(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	cleanup()

	relay := NewNodeEventRelay(client, "", logger.NewNop())
	err := relay.Publish(context.Background(), "$sidecar-node.updated", "node-a", nil)
	assert.Error(t, err)
}
