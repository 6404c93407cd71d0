package ctxkey

import "github.com/gin-gonic/gin"

const (
	// RequestId is a per-request unique identifier, also the response header name.
	// Set in: middleware.RequestId (a sanitized client-supplied id, or a fresh UUIDv7).
	// Read in: middleware.RelayPanicRecover, middleware.AbortWithError, and the
	// internal/httpapi relay handlers (chat metadata and response ids).
	// Note: the literal value is "X-Routecodex-Request-Id" for consistency with header naming.
	RequestId = "X-Routecodex-Request-Id"

	// The keys from EntryProtocol through DebugResponseWriter are declared
	// but no package sets or reads them; the values they describe travel as
	// function arguments and canonical.Chat metadata instead.

	// EntryProtocol names the wire protocol the client used to reach the gateway
	// (one of the envelope.Protocol values).
	EntryProtocol = "entry_protocol"

	// CanonicalChat names the canonical.Chat built from the inbound request.
	CanonicalChat = "canonical_chat"

	// RouteHint names an explicit routing directive extracted from the request
	// (a provider.alias.model string, a route tag, or a classification override).
	RouteHint = "route_hint"

	// SessionKey names the sticky-routing key derived from the client session id.
	SessionKey = "session_key"

	// RouteDecision names the router.Decision made for a request.
	RouteDecision = "route_decision"

	// FailedTargets names the provider keys excluded from re-selection after a failed attempt.
	FailedTargets = "failed_targets"

	// ConvertedRequest names the provider-specific request body after convertOutbound.
	ConvertedRequest = "converted_request"

	// ToolFilterApplied names a record of which tool-compatibility rewrites were
	// applied to the outbound request.
	ToolFilterApplied = "tool_filter_applied"

	// ResponseStreamRewriteHandler names a streaming chunk rewriter that
	// re-encodes provider-native SSE chunks into the entry protocol's wire format.
	ResponseStreamRewriteHandler = "response_stream_rewrite_handler"

	// DebugResponseWriter names a body-capturing response writer for debug logging.
	DebugResponseWriter = "debug_response_writer"

	// KeyRequestBody caches the raw request body bytes for reuse (avoid double read).
	// Set and read in: common.GetRequestBody, which middleware.RelayPanicRecover
	// uses to log the failing payload.
	KeyRequestBody = gin.BodyBytesKey
)
