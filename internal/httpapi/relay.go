package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common"
	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/ctxkey"
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/metrics"
)

func (s *Server) relayChatCompletions(c *gin.Context) {
	s.relay(c, envelope.ProtocolOpenAIChat)
}

func (s *Server) relayAnthropicMessages(c *gin.Context) {
	s.relay(c, envelope.ProtocolAnthropic)
}

// relay drives one request through inbound conversion, execution with
// failover, and response conversion, branching on streaming.
func (s *Server) relay(c *gin.Context, entry envelope.Protocol) {
	start := time.Now()

	chat, ok := s.decodeInbound(c, entry)
	if !ok {
		return
	}

	if isStreaming(c, chat) {
		s.relayStream(c, entry, chat, start)
		return
	}
	s.relayUnary(c, entry, chat, start)
}

// decodeInbound reads the body, converts it to canonical form, and merges
// the routing-relevant headers into the chat metadata.
func (s *Server) decodeInbound(c *gin.Context, entry envelope.Protocol) (*canonical.Chat, bool) {
	body, err := common.GetRequestBody(c)
	if err != nil {
		renderError(c, entry, gwerrors.New(gwerrors.ProtocolError, "unreadable request body", err))
		return nil, false
	}

	chat, err := s.deps.Pipeline.ConvertInbound(entry, entry, body)
	if err != nil {
		renderError(c, entry, err)
		return nil, false
	}

	chat.Metadata.RequestID = c.GetString(ctxkey.RequestId)
	if hint := strings.TrimSpace(c.GetHeader("x-route-hint")); hint != "" {
		chat.Metadata.RouteHint = hint
	}
	if config.EnableSticky {
		chat.Metadata.SessionID = strings.TrimSpace(c.GetHeader("x-session-id"))
	}
	return chat, true
}

func isStreaming(c *gin.Context, chat *canonical.Chat) bool {
	if chat.Metadata.Stream {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func (s *Server) relayUnary(c *gin.Context, entry envelope.Protocol, chat *canonical.Chat, start time.Time) {
	result, err := s.deps.Executor.Execute(c.Request.Context(), entry, chat)
	if err != nil {
		if clientGone(c) {
			c.Abort()
			return
		}
		renderError(c, entry, err)
		metrics.ObserveRequest(c.FullPath(), strconv.Itoa(c.Writer.Status()), time.Since(start))
		return
	}

	metrics.RecordRouteSelection(result.Decision.RouteName, string(result.Decision.ProviderKey))
	metrics.ObserveRequest(c.FullPath(), "200", time.Since(start))
	c.Data(http.StatusOK, "application/json", result.Body)
}

func (s *Server) relayStream(c *gin.Context, entry envelope.Protocol, chat *canonical.Chat, start time.Time) {
	chat.Metadata.Stream = true

	result, err := s.deps.Executor.ExecuteStream(c.Request.Context(), entry, chat)
	if err != nil {
		if clientGone(c) {
			c.Abort()
			return
		}
		renderError(c, entry, err)
		metrics.ObserveRequest(c.FullPath(), strconv.Itoa(c.Writer.Status()), time.Since(start))
		return
	}
	defer result.Stream.Close()

	metrics.RecordRouteSelection(result.Decision.RouteName, string(result.Decision.ProviderKey))
	common.SetEventStreamHeaders(c)

	flush := func() {
		if f, ok := c.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}

	pumpErr := s.deps.Pipeline.PumpStream(entry, result.Decision.Target.OutboundProfile, result.Stream, c.Writer, flush)
	if pumpErr != nil && !clientGone(c) {
		// Headers are already out; the only remaining channel is a
		// terminal SSE error frame.
		writeSSEErrorFrame(c, entry, pumpErr)
		flush()
	}
	metrics.ObserveRequest(c.FullPath(), "200", time.Since(start))
}

// clientGone reports whether the client disconnected; a cancelled request
// is never surfaced as an error or recorded anywhere.
func clientGone(c *gin.Context) bool {
	return c.Request.Context().Err() == context.Canceled
}
