package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dicearena/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, handle gin.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	handle(c)
	return w
}

func TestLiveness_AlwaysOK(t *testing.T) {
	w := probe(t, NewHandler(nil).Liveness, "/health/live")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_NoRedisConfiguredIsReady(t *testing.T) {
	w := probe(t, NewHandler(nil).Readiness, "/health/ready")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
	assert.Contains(t, w.Body.String(), `"redis":"healthy"`)
}

func TestReadiness_ReachableRedisIsReady(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	store, err := storage.NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer store.Close()

	w := probe(t, NewHandler(store).Readiness, "/health/ready")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"healthy"`)
}

func TestReadiness_UnreachableRedisIsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := storage.NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer store.Close()
	mr.Close() // dependency goes away after connect

	w := probe(t, NewHandler(store).Readiness, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
	assert.Contains(t, w.Body.String(), `"redis":"unhealthy"`)
}
