// Package sidecar provides the "$sidecar" service: the actions local callers
// use to reach remote nodes directly and to inspect the registry.
package sidecar

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/version"
)

const ServiceName = "$sidecar"

// Requester is the slice of the transit engine the service needs.
type Requester interface {
	Request(ctx context.Context, c *runtime.Context, gw *gateway.Gateway) (json.RawMessage, error)
	Ping(ctx context.Context, nodeID string, gw *gateway.Gateway) (time.Duration, error)
}

// Catalog is the slice of the registry the service needs.
type Catalog interface {
	NodeGateway(nodeID string) (*gateway.Gateway, bool)
	ServiceList(opts registry.ListOptions) []registry.ServiceInfo
	NodeSummaries(onlyAvailable bool) []packet.NodeSummary
}

// ActionRef names a remote action and the handler that serves it.
type ActionRef struct {
	Name    string `json:"name" validate:"required"`
	Handler string `json:"handler" validate:"required"`
}

// GatewayRequest are the params of gateway.request.
type GatewayRequest struct {
	Action  ActionRef       `json:"action"`
	NodeID  string          `json:"nodeID,omitempty"`
	Gateway *gateway.Config `json:"gateway,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// PingRequest are the params of gateway.ping.
type PingRequest struct {
	NodeID  string          `json:"nodeID,omitempty"`
	Gateway *gateway.Config `json:"gateway,omitempty"`
}

type PingResult struct {
	NodeID    string `json:"nodeID,omitempty"`
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latencyMs"`
}

type NodesListRequest struct {
	OnlyAvailable bool `json:"onlyAvailable"`
}

type Service struct {
	catalog  Catalog
	transit  Requester
	logger   logger.Interface
	validate *validator.Validate
}

func New(catalog Catalog, transit Requester, log logger.Interface) *Service {
	return &Service{
		catalog:  catalog,
		transit:  transit,
		logger:   log,
		validate: validator.New(),
	}
}

// Schema returns the service definition to register with the broker.
func (s *Service) Schema() *runtime.ServiceSchema {
	return &runtime.ServiceSchema{
		Name: ServiceName,
		Metadata: map[string]any{
			"$category":    "Sidecar service",
			"$description": "Bridges remote nodes reachable over HTTP gateways",
			"$version":     version.Current(),
		},
		Actions: map[string]*runtime.Action{
			"gateway.request": {Handler: s.gatewayRequest},
			"gateway.ping":    {Handler: s.gatewayPing},
			"services.list":   {Handler: s.servicesList},
			"nodes.list":      {Handler: s.nodesList},
		},
		Started: func(context.Context) error {
			s.logger.Infow("sidecar service started")
			return nil
		},
	}
}

func (s *Service) decode(c *runtime.Context, v any) error {
	if err := c.DecodeParams(v); err != nil {
		return errors.NewValidationError("invalid parameters", err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		return errors.NewValidationError("invalid parameters", err.Error())
	}
	return nil
}

// resolveGateway prefers an explicit gateway over the one the node advertised.
func (s *Service) resolveGateway(nodeID string, cfg *gateway.Config) (*gateway.Gateway, error) {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, errors.NewValidationError("invalid gateway", err.Error())
		}
		return gateway.New(*cfg), nil
	}
	if nodeID != "" {
		if gw, ok := s.catalog.NodeGateway(nodeID); ok {
			return gw, nil
		}
	}
	return nil, errors.NewNoGatewayError(nodeID)
}

func (s *Service) gatewayRequest(ctx context.Context, c *runtime.Context) (any, error) {
	var req GatewayRequest
	if err := s.decode(c, &req); err != nil {
		return nil, err
	}
	gw, err := s.resolveGateway(req.NodeID, req.Gateway)
	if err != nil {
		return nil, err
	}

	rc := c.Child()
	rc.Action = req.Action.Name
	rc.Handler = req.Action.Handler
	rc.NodeID = req.NodeID
	rc.Params = req.Params
	rc.Timeout = c.Timeout

	data, err := s.transit.Request(ctx, rc, gw)
	c.MergeMeta(rc.Meta)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Service) gatewayPing(ctx context.Context, c *runtime.Context) (any, error) {
	var req PingRequest
	if err := s.decode(c, &req); err != nil {
		return nil, err
	}
	gw, err := s.resolveGateway(req.NodeID, req.Gateway)
	if err != nil {
		return nil, err
	}

	latency, err := s.transit.Ping(ctx, req.NodeID, gw)
	if err != nil {
		return nil, err
	}
	return PingResult{NodeID: req.NodeID, Success: true, LatencyMs: latency.Milliseconds()}, nil
}

func (s *Service) servicesList(_ context.Context, c *runtime.Context) (any, error) {
	var opts registry.ListOptions
	if err := s.decode(c, &opts); err != nil {
		return nil, err
	}
	return s.catalog.ServiceList(opts), nil
}

func (s *Service) nodesList(_ context.Context, c *runtime.Context) (any, error) {
	var req NodesListRequest
	if err := s.decode(c, &req); err != nil {
		return nil, err
	}
	return s.catalog.NodeSummaries(req.OnlyAvailable), nil
}
