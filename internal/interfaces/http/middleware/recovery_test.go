package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

func TestRecoveryRepliesPlainError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.NewNop(), "sidecar-1"))
	r.POST("/v1/message", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/message", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body errors.PlainError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sidecar-1", body.NodeID)
	assert.Equal(t, http.StatusInternalServerError, body.Code)
}

func TestMaskedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/registry/nodes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("X-Request-Id", "r-1")

	headers := strings.Join(maskedHeaders(req), "\n")

	assert.NotContains(t, headers, "secret")
	assert.NotContains(t, headers, "session=abc")
	assert.Contains(t, headers, "Authorization: *")
	assert.Contains(t, headers, "X-Request-Id: r-1")
}
