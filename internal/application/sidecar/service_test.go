package sidecar

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Request(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) (json.RawMessage, error) {
	args := m.Called(ctx, c, gw)
	if data := args.Get(0); data != nil {
		return data.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRequester) Ping(ctx context.Context, nodeID string, gw *gateway.Gateway) (time.Duration, error) {
	args := m.Called(ctx, nodeID, gw)
	return args.Get(0).(time.Duration), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) NodeGateway(nodeID string) (*gateway.Gateway, bool) {
	args := m.Called(nodeID)
	gw, _ := args.Get(0).(*gateway.Gateway)
	return gw, args.Bool(1)
}

func (m *mockCatalog) ServiceList(opts registry.ListOptions) []registry.ServiceInfo {
	args := m.Called(opts)
	return args.Get(0).([]registry.ServiceInfo)
}

func (m *mockCatalog) NodeSummaries(onlyAvailable bool) []packet.NodeSummary {
	args := m.Called(onlyAvailable)
	return args.Get(0).([]packet.NodeSummary)
}

func call(t *testing.T, svc *Service, action string, params string) (any, error) {
	t.Helper()
	a, ok := svc.Schema().Actions[action]
	require.True(t, ok, "action %s", action)
	c := runtime.NewContext()
	c.Action = ServiceName + "." + action
	if params != "" {
		c.Params = json.RawMessage(params)
	}
	return a.Handler(context.Background(), c)
}

func TestGatewayRequest_UsesNodeGateway(t *testing.T) {
	catalog := &mockCatalog{}
	transit := &mockRequester{}
	gw := gateway.New(gateway.Config{Endpoint: "erp.local"})
	catalog.On("NodeGateway", "node-b").Return(gw, true)
	transit.On("Request", mock.Anything, mock.MatchedBy(func(c *runtime.Context) bool {
		return c.Action == "invoices.get" && c.Handler == "h-get" && c.NodeID == "node-b" && string(c.Params) == `{"id":7}`
	}), gw).Return(json.RawMessage(`{"id":7}`), nil)

	res, err := call(t, New(catalog, transit, logger.NewNop()), "gateway.request",
		`{"action":{"name":"invoices.get","handler":"h-get"},"nodeID":"node-b","params":{"id":7}}`)

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(res.(json.RawMessage)))
	catalog.AssertExpectations(t)
	transit.AssertExpectations(t)
}

func TestGatewayRequest_ExplicitGatewayWins(t *testing.T) {
	catalog := &mockCatalog{}
	transit := &mockRequester{}
	transit.On("Request", mock.Anything, mock.Anything, mock.MatchedBy(func(gw *gateway.Gateway) bool {
		return gw.Config().Endpoint == "direct.local"
	})).Return(json.RawMessage(`"ok"`), nil)

	_, err := call(t, New(catalog, transit, logger.NewNop()), "gateway.request",
		`{"action":{"name":"a","handler":"h"},"nodeID":"node-b","gateway":{"endpoint":"direct.local","port":8080}}`)

	require.NoError(t, err)
	catalog.AssertNotCalled(t, "NodeGateway", mock.Anything)
	transit.AssertExpectations(t)
}

func TestGatewayRequest_Errors(t *testing.T) {
	tests := []struct {
		name       string
		params     string
		wantReason string
		wantType   errors.ErrorType
	}{
		{
			name:       "unknown node",
			params:     `{"action":{"name":"a","handler":"h"},"nodeID":"node-x"}`,
			wantReason: errors.ReasonNoGateway,
			wantType:   errors.ErrorTypeRouting,
		},
		{
			name:       "no node and no gateway",
			params:     `{"action":{"name":"a","handler":"h"}}`,
			wantReason: errors.ReasonNoGateway,
			wantType:   errors.ErrorTypeRouting,
		},
		{
			name:     "missing handler",
			params:   `{"action":{"name":"a"},"nodeID":"node-b"}`,
			wantType: errors.ErrorTypeValidation,
		},
		{
			name:     "gateway without endpoint",
			params:   `{"action":{"name":"a","handler":"h"},"gateway":{"port":80}}`,
			wantType: errors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &mockCatalog{}
			catalog.On("NodeGateway", mock.Anything).Return(nil, false)
			transit := &mockRequester{}

			_, err := call(t, New(catalog, transit, logger.NewNop()), "gateway.request", tt.params)

			require.Error(t, err)
			appErr := errors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantType, appErr.Type)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, appErr.Reason)
			}
			transit.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGatewayPing(t *testing.T) {
	catalog := &mockCatalog{}
	transit := &mockRequester{}
	gw := gateway.New(gateway.Config{Endpoint: "erp.local"})
	catalog.On("NodeGateway", "node-b").Return(gw, true)
	transit.On("Ping", mock.Anything, "node-b", gw).Return(42*time.Millisecond, nil)

	res, err := call(t, New(catalog, transit, logger.NewNop()), "gateway.ping", `{"nodeID":"node-b"}`)

	require.NoError(t, err)
	assert.Equal(t, PingResult{NodeID: "node-b", Success: true, LatencyMs: 42}, res)
}

func TestListActions(t *testing.T) {
	catalog := &mockCatalog{}
	services := []registry.ServiceInfo{{Name: "invoices", FullName: "v2.invoices", Available: true}}
	nodes := []packet.NodeSummary{{ID: "node-b", Available: true}}
	catalog.On("ServiceList", registry.ListOptions{OnlyAvailable: true, WithActions: true}).Return(services)
	catalog.On("NodeSummaries", false).Return(nodes)
	svc := New(catalog, &mockRequester{}, logger.NewNop())

	res, err := call(t, svc, "services.list", `{"onlyAvailable":true,"withActions":true}`)
	require.NoError(t, err)
	assert.Equal(t, services, res)

	res, err = call(t, svc, "nodes.list", "")
	require.NoError(t, err)
	assert.Equal(t, nodes, res)
	catalog.AssertExpectations(t)
}
