package httpapi

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

// renderError writes a failure body matching the client's entry protocol:
// OpenAI-style {"error":{...}} for the chat/responses surfaces,
// Anthropic-style {"type":"error","error":{...}} for /v1/messages.
func renderError(c *gin.Context, entry envelope.Protocol, err error) {
	gwErr, ok := err.(*gwerrors.Error)
	if !ok {
		gwErr = gwerrors.New(gwerrors.InternalConversionError, "internal error", err)
	}

	status := gwErr.StatusCode()
	if gwErr.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(gwErr.RetryAfterSeconds))
	}

	switch entry {
	case envelope.ProtocolAnthropic:
		c.JSON(status, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    anthropicErrorType(gwErr.Class),
				"message": gwErr.Message,
			},
		})
	default:
		body := gin.H{
			"message": gwErr.Message,
			"type":    string(gwErr.Class),
		}
		if gwErr.Code != "" {
			body["code"] = gwErr.Code
		}
		c.JSON(status, gin.H{"error": body})
	}
	c.Abort()
}

// anthropicErrorType maps the gateway taxonomy onto Anthropic's closed
// error-type vocabulary.
func anthropicErrorType(class gwerrors.Class) string {
	switch class {
	case gwerrors.ProtocolError, gwerrors.ToolPayloadInvalid:
		return "invalid_request_error"
	case gwerrors.UpstreamAuth:
		return "authentication_error"
	case gwerrors.UpstreamQuota, gwerrors.UpstreamCapacity:
		return "rate_limit_error"
	case gwerrors.RouteUnavailable, gwerrors.NoAvailableProvider:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// writeSSEErrorFrame emits a terminal error frame on an already-started
// stream, the only way to signal failure after headers went out.
func writeSSEErrorFrame(c *gin.Context, entry envelope.Protocol, err error) {
	gwErr, ok := err.(*gwerrors.Error)
	if !ok {
		gwErr = gwerrors.New(gwerrors.InternalConversionError, "stream failed", err)
	}

	var payload any
	switch entry {
	case envelope.ProtocolAnthropic:
		payload = gin.H{
			"type": "error",
			"error": gin.H{
				"type":    anthropicErrorType(gwErr.Class),
				"message": gwErr.Message,
			},
		}
	default:
		payload = gin.H{
			"error": gin.H{
				"message": gwErr.Message,
				"type":    string(gwErr.Class),
			},
		}
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return
	}
	_, _ = c.Writer.WriteString("data: " + string(body) + "\n\n")
}
