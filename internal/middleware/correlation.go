// Package middleware contains the gin middleware the edge router mounts.
package middleware

import (
	"github.com/dicearena/backend/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID accepts an inbound X-Correlation-ID or mints one, echoes
// it on the response, and threads it through both gin's key map and the
// request's context.Context — the latter is what the logging package's
// enrichment actually reads, so every log line from a handler (and from
// any actor dispatch rooted in this request) carries the id.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), correlationID))

		c.Next()
	}
}
