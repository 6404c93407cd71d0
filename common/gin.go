package common

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common/ctxkey"
)

// GetRequestBody returns the raw request body, reading it at most once per
// request and caching the bytes on the gin context so later stages (panic
// logging, conversion, debug snapshots) can reuse them.
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if cached, ok := c.Get(ctxkey.KeyRequestBody); ok {
		return cached.([]byte), nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, body)
	// Restore a readable body for handlers that bind it themselves.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// SetEventStreamHeaders marks the response as a live SSE stream and
// disables intermediary buffering.
func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

// UnmarshalBodyReusable decodes the request body into v without consuming
// it for later readers.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	body, err := GetRequestBody(c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "unmarshal request body")
	}
	return nil
}
