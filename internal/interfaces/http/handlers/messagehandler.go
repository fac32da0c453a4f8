package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orris-inc/sidecar/internal/application/transit"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const maxMessageSize = 8 << 20

// MessageProcessor is the transit entry point for packets posted by gateways.
type MessageProcessor interface {
	IncomingMessage(ctx context.Context, raw []byte) (*transit.Outcome, error)
	Serializer() packet.Serializer
}

type MessageHandler struct {
	processor MessageProcessor
	nodeID    string
	logger    logger.Interface
}

func NewMessageHandler(processor MessageProcessor, nodeID string, log logger.Interface) *MessageHandler {
	return &MessageHandler{
		processor: processor,
		nodeID:    nodeID,
		logger:    log,
	}
}

// Receive handles POST /v1/message. An ack is an empty 200; a reply packet
// is written as the body; a failure is written as a plain error.
func (h *MessageHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxMessageSize))
	if err != nil {
		h.writeError(c, errors.NewRequestRejectedError("failed to read request body", map[string]any{"error": err.Error()}))
		return
	}

	outcome, err := h.processor.IncomingMessage(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/json")
	if outcome == nil || outcome.Reply == nil {
		c.Status(http.StatusOK)
		return
	}

	data, err := outcome.Reply.Serialize(h.processor.Serializer())
	if err != nil {
		h.logger.Errorw("failed to serialize reply packet",
			"type", outcome.Reply.Type,
			"error", err,
		)
		h.writeError(c, errors.NewInternalError("failed to serialize reply", err))
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *MessageHandler) writeError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("message rejected", "status", status, "error", err)
	}
	c.JSON(status, errors.ToPlain(err, h.nodeID))
}
