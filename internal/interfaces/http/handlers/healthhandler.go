package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orris-inc/sidecar/internal/shared/version"
)

// StateReporter reports the local runtime state.
type StateReporter interface {
	NodeID() string
	Stopping() bool
}

type HealthHandler struct {
	broker StateReporter
}

func NewHealthHandler(broker StateReporter) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Healthz handles GET /healthz. It turns 503 once shutdown has begun so
// load balancers stop routing gateways here.
func (h *HealthHandler) Healthz(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if h.broker.Stopping() {
		status, code = "stopping", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"nodeID":  h.broker.NodeID(),
		"version": version.Current(),
	})
}
