// Package envelope defines the per-request wrapper that carries a payload
// through the pipeline and correlates logs, quota events, and retries across
// every stage of a single request's lifetime.
package envelope

import "regexp"

// Protocol identifies a wire-level request/response shape the gateway
// understands, either as an entry point or as a target.
type Protocol string

const (
	ProtocolOpenAIChat      Protocol = "openai-chat"
	ProtocolOpenAIResponses Protocol = "openai-responses"
	ProtocolAnthropic       Protocol = "anthropic-messages"
	ProtocolGemini          Protocol = "gemini"
)

var requestIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeRequestID strips any character outside [A-Za-z0-9_.-] from id,
// the rule applied once at ingress before the id is used as a log/event key.
func SanitizeRequestID(id string) string {
	return requestIDSanitizer.ReplaceAllString(id, "")
}

// Metadata carries the routing- and transport-relevant fields attached to
// an Envelope, distinct from the payload the pipeline converts.
type Metadata struct {
	Stream      bool
	RouteHint   string
	SessionID   string
	APIKey      string
	ProcessMode string
}

// Envelope wraps one request as it moves through
// inbound-codec -> inbound-filter -> router.route() -> outbound-filter ->
// outbound-codec -> provider-adapter.send(), and the dual path for the
// response. Payload's concrete type changes across stages: raw bytes at
// ingress, canonical.Chat after convertInbound, provider-shaped bytes after
// convertOutbound.
type Envelope struct {
	Endpoint       string
	EntryProtocol  Protocol
	TargetProtocol Protocol
	RequestID      string
	Payload        any
	Metadata       Metadata
}

// New builds an Envelope for a freshly admitted request, sanitizing requestID
// to the correlation-id charset used across logs and quota events.
func New(endpoint string, entryProtocol Protocol, requestID string, payload any, meta Metadata) *Envelope {
	return &Envelope{
		Endpoint:      endpoint,
		EntryProtocol: entryProtocol,
		RequestID:     SanitizeRequestID(requestID),
		Payload:       payload,
		Metadata:      meta,
	}
}

// WithTargetProtocol returns a shallow copy of e with TargetProtocol set,
// called once the router has resolved a Target for this request.
func (e *Envelope) WithTargetProtocol(p Protocol) *Envelope {
	cp := *e
	cp.TargetProtocol = p
	return &cp
}

// WithPayload returns a shallow copy of e with Payload replaced, used at each
// pipeline stage instead of mutating e so earlier stages keep their snapshot
// for logging/debugging.
func (e *Envelope) WithPayload(payload any) *Envelope {
	cp := *e
	cp.Payload = payload
	return &cp
}
