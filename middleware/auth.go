package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common/config"
)

// clientKey extracts the caller's credential: x-api-key wins, then a
// Bearer Authorization header.
func clientKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("x-api-key")); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// APIKeyAuth gates the relay surface behind the configured gateway keys.
// With no keys configured the gateway is open, the default for a
// localhost deployment.
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := config.GatewayAPIKeys()
		if len(keys) == 0 {
			c.Next()
			return
		}
		presented := clientKey(c)
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"message": "invalid or missing api key",
				"type":    "authentication_error",
			},
		})
		c.Abort()
	}
}
