// Package requestid tags every request with an id that is echoed back and
// attached to log lines.
package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerKey  = "X-Request-ID"
	contextKey = "request_id"
)

// Middleware keeps a caller supplied UUID or mints a new one.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerKey)
		if parsed, err := uuid.Parse(reqID); err == nil {
			reqID = parsed.String()
		} else {
			reqID = uuid.NewString()
		}
		c.Set(contextKey, reqID)
		c.Writer.Header().Set(headerKey, reqID)
		c.Next()
	}
}

// Value returns the request id of c, or "" outside the middleware.
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}
