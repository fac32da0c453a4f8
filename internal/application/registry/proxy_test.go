package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/domain/service"
)

func TestBuildProxy(t *testing.T) {
	remote := invoiceSchema()
	remote.Metadata = map[string]any{"team": "billing"}
	remote.Channels = map[string]service.ChannelSchema{"jobs": {Name: "invoice.jobs", Group: "workers", Handler: "h-jobs"}}
	tr := newFakeTransport()
	gw := gateway.New(*testGateway())

	proxy := BuildProxy("node-b", gw, remote, tr)

	assert.Equal(t, "v2.invoices", proxy.FullName())
	assert.Equal(t, "node-b", proxy.ProxyOf())
	assert.Equal(t, "billing", proxy.Metadata["team"])
	assert.NotContains(t, remote.Metadata, runtime.MetaNodeID)
	require.NotNil(t, proxy.Started)
	assert.NoError(t, proxy.Started(context.Background()))

	create := proxy.Actions["create"]
	require.NotNil(t, create)
	assert.Equal(t, "v2.invoices.create", create.Name)
	assert.Equal(t, "h-create", create.RemoteHandler)
	assert.True(t, proxy.Actions["void"].Protected)

	t.Run("action forwards to remote handler", func(t *testing.T) {
		c := runtime.NewContext()
		c.Params = json.RawMessage(`{"amount":10}`)

		out, err := create.Handler(context.Background(), c)

		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(out.(json.RawMessage)))
		assert.Equal(t, true, c.Meta["remote"])
		require.Len(t, tr.requests, 1)
		sent := tr.requests[0]
		assert.Equal(t, "v2.invoices.create", sent.Action)
		assert.Equal(t, "h-create", sent.Handler)
		assert.Equal(t, "node-b", sent.NodeID)
		assert.Empty(t, c.Handler)
	})

	t.Run("event forwards as emit", func(t *testing.T) {
		tr.requests = nil
		require.NoError(t, proxy.Events["order.paid"].Handler(context.Background(), runtime.NewContext()))

		require.Len(t, tr.requests, 1)
		assert.Equal(t, "order.paid", tr.requests[0].Event)
		assert.Equal(t, runtime.EventTypeEmit, tr.requests[0].EventType)
		assert.Equal(t, "h-paid", tr.requests[0].Handler)
	})

	t.Run("channel forwards to remote handler", func(t *testing.T) {
		tr.requests = nil
		require.NoError(t, proxy.Channels["jobs"].Handler(context.Background(), runtime.NewContext()))

		require.Len(t, tr.requests, 1)
		assert.Equal(t, "invoice.jobs", tr.requests[0].Channel)
		assert.Equal(t, "h-jobs", tr.requests[0].Handler)
	})
}
