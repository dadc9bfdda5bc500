package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dicearena/backend/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationID_MintsOneWhenAbsent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())

	r.GET("/test", func(c *gin.Context) {
		ginVal, exists := c.Get(string(logging.CorrelationIDKey))
		assert.True(t, exists)
		assert.NotEmpty(t, ginVal)

		ctxVal, ok := c.Request.Context().Value(logging.CorrelationIDKey).(string)
		assert.True(t, ok, "correlation id must also ride the request context for log enrichment")
		assert.Equal(t, ginVal, ctxVal)
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get(HeaderXCorrelationID))
}

func TestCorrelationID_PropagatesInboundID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())

	const existingID = "corr-from-upstream"

	r.GET("/test", func(c *gin.Context) {
		assert.Equal(t, existingID, c.GetHeader(HeaderXCorrelationID))

		ctxVal, _ := c.Request.Context().Value(logging.CorrelationIDKey).(string)
		assert.Equal(t, existingID, ctxVal)
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXCorrelationID, existingID)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, existingID, resp.Header().Get(HeaderXCorrelationID))
}
