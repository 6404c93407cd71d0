package middleware

import (
	gutils "github.com/Laisky/go-utils/v5"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common/ctxkey"
	"github.com/routecodex/routecodex/internal/envelope"
)

// RequestId assigns every request a correlation id, honoring a
// client-supplied one after sanitization so upstream callers can thread
// their own ids through the gateway's logs and responses.
func RequestId() func(c *gin.Context) {
	return func(c *gin.Context) {
		id := envelope.SanitizeRequestID(c.GetHeader(ctxkey.RequestId))
		if id == "" {
			id = gutils.UUID7()
		}
		c.Set(ctxkey.RequestId, id)
		c.Header(ctxkey.RequestId, id)
		c.Next()
	}
}
