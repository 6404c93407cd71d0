// Package gwerrors defines the gateway's error taxonomy: a fixed set of
// classes that every component upstream of the HTTP response agrees on, so
// that routing, quota bookkeeping, and client status codes all derive from
// the same classification instead of re-deriving it from raw HTTP codes.
package gwerrors

import (
	"net/http"

	"github.com/Laisky/errors/v2"
)

// Class identifies which error taxonomy bucket a Gateway error belongs to.
type Class string

const (
	// ProtocolError means the client's request was malformed; surfaced as 4xx, never retried.
	ProtocolError Class = "protocol_error"
	// RouteUnavailable means the router found no ready target in the route (see NoAvailableProvider).
	RouteUnavailable Class = "route_unavailable"
	// NoAvailableProvider is an alias surfaced to clients when RouteUnavailable has no cooldown hint.
	NoAvailableProvider Class = "no_available_provider"
	// UpstreamAuth means the provider rejected credentials (401/403/verification-required).
	UpstreamAuth Class = "upstream_auth"
	// UpstreamQuota means the provider returned 429 with quota-depleted semantics.
	UpstreamQuota Class = "upstream_quota"
	// UpstreamCapacity means the provider returned 429 with model-capacity semantics (distinct from quota).
	UpstreamCapacity Class = "upstream_capacity"
	// UpstreamTransient means a 5xx, network, or timeout error; counted in the quota daemon's error series.
	UpstreamTransient Class = "upstream_transient"
	// UpstreamIdleTimeout means the streaming idle deadline elapsed with no new frame.
	UpstreamIdleTimeout Class = "upstream_idle_timeout"
	// ToolPayloadInvalid means apply_patch or tool-argument structural validation failed.
	ToolPayloadInvalid Class = "tool_payload_invalid"
	// InternalConversionError means a codec bug; 500, not retried.
	InternalConversionError Class = "internal_conversion_error"
	// Cancelled means the client disconnected; never surfaced as an error and never recorded
	// to the quota daemon's error series.
	Cancelled Class = "cancelled"
)

// statusByClass maps each class to the HTTP status returned to the client.
// RouteUnavailable and NoAvailableProvider share 503; Cancelled has no status
// because it is never written to the response.
var statusByClass = map[Class]int{
	ProtocolError:           http.StatusBadRequest,
	RouteUnavailable:        http.StatusServiceUnavailable,
	NoAvailableProvider:     http.StatusServiceUnavailable,
	UpstreamAuth:            http.StatusBadGateway,
	UpstreamQuota:           http.StatusTooManyRequests,
	UpstreamCapacity:        http.StatusTooManyRequests,
	UpstreamTransient:       http.StatusBadGateway,
	UpstreamIdleTimeout:     http.StatusGatewayTimeout,
	ToolPayloadInvalid:      http.StatusUnprocessableEntity,
	InternalConversionError: http.StatusInternalServerError,
}

// Error is the gateway's error envelope. It embeds the original error for
// %+v stack-trace formatting (via Laisky/errors) while exposing a stable
// Class and Code for routing and client-facing decisions.
type Error struct {
	Class Class
	// Code carries a vendor-specific sub-code when the provider supplied one
	// (e.g. an OpenAI error "code" field), otherwise empty.
	Code string
	// RetryAfterSeconds is a provider-supplied or parsed cooldown hint, zero if none.
	RetryAfterSeconds int
	// Message is safe to return to the client as-is.
	Message string
	// Target identifies which provider key produced this error, empty for
	// request-level errors that never reached a target (e.g. ProtocolError).
	Target string
	// VerificationURL is set when a provider demands interactive
	// re-verification (the Google OAuth consent-screen case), for surfacing
	// on an operator channel rather than retrying automatically.
	VerificationURL string
	cause           error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status this error should be surfaced with.
func (e *Error) StatusCode() int {
	if s, ok := statusByClass[e.Class]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a classified error wrapping cause (which may be nil).
func New(class Class, message string, cause error) *Error {
	if cause != nil {
		cause = errors.Wrap(cause, message)
	}
	return &Error{Class: class, Message: message, cause: cause}
}

// WithTarget returns a copy of e annotated with the provider key that produced it.
func (e *Error) WithTarget(target string) *Error {
	cp := *e
	cp.Target = target
	return &cp
}

// WithVerificationURL returns a copy of e carrying an interactive
// re-verification URL the operator must visit.
func (e *Error) WithVerificationURL(url string) *Error {
	cp := *e
	cp.VerificationURL = url
	return &cp
}

// WithRetryAfter returns a copy of e carrying a parsed/guessed cooldown hint.
func (e *Error) WithRetryAfter(seconds int) *Error {
	cp := *e
	cp.RetryAfterSeconds = seconds
	return &cp
}

// WithCode returns a copy of e carrying a vendor-specific sub-code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// IsRetryableClass reports whether class should trigger the executor's
// failover loop against a different target, as opposed to being returned
// immediately to the client.
func IsRetryableClass(class Class) bool {
	switch class {
	case UpstreamAuth, UpstreamQuota, UpstreamCapacity, UpstreamTransient, UpstreamIdleTimeout:
		return true
	default:
		return false
	}
}

// CountsAgainstErrorSeries reports whether class should be recorded in the
// quota daemon's rolling error series for a target. Cancelled never counts.
func CountsAgainstErrorSeries(class Class) bool {
	return class != Cancelled && class != ProtocolError && class != ToolPayloadInvalid && class != InternalConversionError
}
