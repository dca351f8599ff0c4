package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("refused") }

	code, resp := serve(t, NewHealthHandler("1.2.3", nil, zap.NewNop()))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Empty(t, resp.Checks)

	code, resp = serve(t, NewHealthHandler("1.2.3", map[string]CheckFunc{"postgres": ok, "redis": ok}, zap.NewNop()))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"postgres": "up", "redis": "up"}, resp.Checks)

	code, resp = serve(t, NewHealthHandler("1.2.3", map[string]CheckFunc{"postgres": ok, "redis": down}, zap.NewNop()))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Checks["redis"])
}
