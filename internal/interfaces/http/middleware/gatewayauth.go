package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/orris-inc/sidecar/internal/infrastructure/auth"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// ContextKeyCaller holds the identity the caller authenticated as.
const ContextKeyCaller = "caller"

type GatewayAuthMiddleware struct {
	authenticator *auth.Authenticator
	nodeID        string
	logger        logger.Interface
}

func NewGatewayAuthMiddleware(authenticator *auth.Authenticator, nodeID string, log logger.Interface) *GatewayAuthMiddleware {
	return &GatewayAuthMiddleware{
		authenticator: authenticator,
		nodeID:        nodeID,
		logger:        log,
	}
}

// RequireAuth rejects requests whose Authorization header does not match a
// configured credential. Rejections are plain errors with status 401.
func (m *GatewayAuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := m.authenticator.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			m.logger.Warnw("listener authentication failed",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"error", err,
			)
			appErr := errors.NewUnauthorizedError(err.Error())
			c.AbortWithStatusJSON(errors.HTTPStatus(appErr), errors.ToPlain(appErr, m.nodeID))
			return
		}

		if caller != "" {
			c.Set(ContextKeyCaller, caller)
		}
		c.Next()
	}
}
