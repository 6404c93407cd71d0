package middleware

import (
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common/ctxkey"
)

// AbortWithError aborts the request with an OpenAI-style error body; the
// protocol-aware rendering for relay endpoints lives in internal/httpapi,
// this is for middleware-level rejections that happen before the entry
// protocol is known.
func AbortWithError(c *gin.Context, statusCode int, err error) {
	logger := gmw.GetLogger(c)
	logger.Warn("server abort",
		zap.Int("status_code", statusCode),
		zap.Error(err))

	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"message":    err.Error(),
			"type":       "routecodex_error",
			"request_id": c.GetString(ctxkey.RequestId),
		},
	})
	c.Abort()
}
