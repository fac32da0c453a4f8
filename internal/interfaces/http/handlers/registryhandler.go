package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/utils"
)

// RegistryReader is the slice of the registry exposed over REST.
type RegistryReader interface {
	NodeSummaries(onlyAvailable bool) []packet.NodeSummary
	ServiceList(opts registry.ListOptions) []registry.ServiceInfo
	ForgetNode(ctx context.Context, nodeID string) bool
}

type RegistryHandler struct {
	registry RegistryReader
	logger   logger.Interface
}

func NewRegistryHandler(reg RegistryReader, log logger.Interface) *RegistryHandler {
	return &RegistryHandler{registry: reg, logger: log}
}

type listNodesQuery struct {
	OnlyAvailable bool `form:"onlyAvailable"`
}

// ListNodes handles GET /v1/registry/nodes
func (h *RegistryHandler) ListNodes(c *gin.Context) {
	var q listNodesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid query", err.Error()))
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", h.registry.NodeSummaries(q.OnlyAvailable))
}

// ListServices handles GET /v1/registry/services
func (h *RegistryHandler) ListServices(c *gin.Context) {
	var opts registry.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid query", err.Error()))
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", h.registry.ServiceList(opts))
}

// ForgetNode handles DELETE /v1/registry/nodes/:id. The node and its
// services are dropped from memory and from the store.
func (h *RegistryHandler) ForgetNode(c *gin.Context) {
	nodeID := c.Param("id")
	if !h.registry.ForgetNode(c.Request.Context(), nodeID) {
		utils.ErrorResponseWithError(c, errors.NewNotFoundError("node not found"))
		return
	}
	h.logger.Infow("node forgotten through admin API", "node_id", nodeID)
	utils.SuccessResponse(c, http.StatusOK, "node removed", nil)
}
