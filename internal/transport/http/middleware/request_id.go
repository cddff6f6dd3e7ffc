package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/token-revocation/internal/infra/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	// Longer inbound IDs are replaced; they end up in every log line of the request.
	maxRequestIDLength = 128
)

// RequestID injects a correlation identifier into the request context and response headers.
// The revocation service reads it back through logger.RequestIDFromContext.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set(requestIDHeader, reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID))

		c.Next()
	}
}
