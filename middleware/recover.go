package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common"
	"github.com/routecodex/routecodex/common/ctxkey"
	"github.com/routecodex/routecodex/common/logger"
)

// maxLoggedBodyBytes caps how much of the request body a panic log line
// carries; relay bodies can run to megabytes of conversation history.
const maxLoggedBodyBytes = 4 * 1024

// RelayPanicRecover converts a handler panic into a 500 carrying the
// request's correlation id, logging a bounded slice of the request body
// alongside the stack so the failing payload can be replayed.
func RelayPanicRecover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString(ctxkey.RequestId)
				body, _ := common.GetRequestBody(c)
				truncated := len(body) > maxLoggedBodyBytes
				if truncated {
					body = body[:maxLoggedBodyBytes]
				}
				logger.Logger.Error("panic recovered in relay handler",
					zap.Any("panic", err),
					zap.String("request_id", requestID),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Bool("request_body_truncated", truncated),
					zap.ByteString("request_body", body))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message":    fmt.Sprintf("internal panic: %v", err),
						"type":       "routecodex_panic",
						"request_id": requestID,
					},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
