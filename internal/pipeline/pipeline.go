// Package pipeline is the only component that touches provider-shaped
// bytes. It sequences one request as:
//
//	inbound-codec -> inbound-filter -> (router.route(), owned by the executor)
//	-> outbound-filter -> outbound-codec -> provider-adapter.send()
//
// Filters run only on the canonical chat; no filter sees the client's raw
// bytes or the encoded provider body. The response is handled as the dual, with streaming responses pumped frame by
// frame rather than buffered whole. The request executor drives the
// failover loop around this package; the pipeline itself is stateless
// per call and never retries.
package pipeline

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

// Filter is a request- or response-shaping hook applied at the boundary
// between the canonical model and a specific wire protocol (the tool
// filter's function.arguments coercion and apply_patch validation are the
// concrete implementation; see internal/toolfilter).
type Filter interface {
	// Apply rewrites chat in place for the given direction and protocol,
	// returning a ToolPayloadInvalid or InternalConversionError on failure.
	Apply(chat *canonical.Chat, protocol envelope.Protocol) error
}

// NopFilter is a Filter that never rewrites anything, used where no
// tool-compatibility rewrite is configured.
type NopFilter struct{}

func (NopFilter) Apply(*canonical.Chat, envelope.Protocol) error { return nil }

// Pipeline converts one request/response pair through the codec registry,
// applying inbound/outbound filters at the canonical boundary.
type Pipeline struct {
	Registry       *codec.Registry
	InboundFilter  Filter
	OutboundFilter Filter
	// ResponseFilter runs on every response, unary or per stream frame,
	// after the provider body decodes to canonical form and before it
	// re-encodes to the client's wire shape — the reasoning policy's strip
	// hook lives here since it must see every frame, not just the first.
	ResponseFilter Filter
}

// New builds a Pipeline with no-op filters; callers override Inbound/Outbound/ResponseFilter
// to wire in internal/toolfilter.
func New(registry *codec.Registry) *Pipeline {
	return &Pipeline{Registry: registry, InboundFilter: NopFilter{}, OutboundFilter: NopFilter{}, ResponseFilter: NopFilter{}}
}

// ConvertInbound runs inbound-codec then inbound-filter, producing the
// canonical chat the router classifies and the executor retries against
// multiple targets without re-running this step.
func (p *Pipeline) ConvertInbound(entry envelope.Protocol, target envelope.Protocol, payload []byte) (*canonical.Chat, error) {
	c, ok := p.Registry.Get(entry, target)
	if !ok {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "no codec registered for entry protocol", nil)
	}
	chat, err := c.ConvertInbound(payload)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ProtocolError, "malformed request payload", err)
	}
	if err := p.InboundFilter.Apply(chat, entry); err != nil {
		return nil, err
	}
	return chat, nil
}

// ConvertOutbound runs outbound-filter then outbound-codec, producing the
// provider-shaped request body for one target. Errors here are never
// retried to a different target: the canonical chat is unchanged across
// targets of the same entry protocol, so retrying would reproduce the
// same failure.
func (p *Pipeline) ConvertOutbound(entry envelope.Protocol, target envelope.Protocol, chat *canonical.Chat) ([]byte, error) {
	c, ok := p.Registry.Get(entry, target)
	if !ok {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "no codec registered for target protocol", nil)
	}
	if err := p.OutboundFilter.Apply(chat, target); err != nil {
		return nil, err
	}
	body, err := c.ConvertOutbound(chat)
	if err != nil {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "failed to build outbound request", err)
	}
	return body, nil
}

// ConvertResponse runs convertInboundResponse then convertOutboundResponse
// for a non-streaming provider response.
func (p *Pipeline) ConvertResponse(entry envelope.Protocol, target envelope.Protocol, providerBody []byte) ([]byte, error) {
	c, ok := p.Registry.Get(entry, target)
	if !ok {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "no codec registered for response conversion", nil)
	}
	chat, err := c.ConvertInboundResponse(providerBody)
	if err != nil {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "failed to parse upstream response", err)
	}
	if err := p.ResponseFilter.Apply(chat, entry); err != nil {
		return nil, err
	}
	out, err := c.ConvertOutboundResponse(chat)
	if err != nil {
		return nil, gwerrors.New(gwerrors.InternalConversionError, "failed to render client response", err)
	}
	return out, nil
}

const ssePrefix = "data: "

// PumpStream reads provider-shaped SSE frames from upstream one at a time
// and writes client-shaped SSE frames to w, converting each frame through
// codec before pulling the next. It never buffers the whole stream: a
// frame is converted and flushed before the next bufio.Scanner.Scan() call
// reads more of upstream.
//
// flush is called after every write so callers using a buffered
// http.ResponseWriter (behind a gin.Context, for instance) push bytes to
// the client immediately rather than batching them.
func (p *Pipeline) PumpStream(entry, target envelope.Protocol, upstream io.Reader, w io.Writer, flush func()) error {
	c, ok := p.Registry.Get(entry, target)
	if !ok {
		return gwerrors.New(gwerrors.InternalConversionError, "no codec registered for stream conversion", nil)
	}

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		frame := []byte(strings.TrimPrefix(line, ssePrefix))

		chat, done, err := c.Target.DecodeStreamChunk(frame)
		if err != nil {
			return gwerrors.New(gwerrors.InternalConversionError, "failed to convert stream frame", err)
		}
		if done {
			if _, werr := w.Write(terminalFrame()); werr != nil {
				return errors.Wrap(werr, "write terminal sse frame")
			}
			flush()
			return nil
		}
		if err := p.ResponseFilter.Apply(chat, entry); err != nil {
			return err
		}
		out, err := c.Entry.EncodeStreamChunk(chat, false)
		if err != nil {
			return gwerrors.New(gwerrors.InternalConversionError, "failed to convert stream frame", err)
		}
		if err := writeSSEFrame(w, out); err != nil {
			return errors.Wrap(err, "write sse frame")
		}
		flush()
	}
	if err := scanner.Err(); err != nil {
		return gwerrors.New(gwerrors.UpstreamTransient, "stream read failed", err)
	}
	return nil
}

func writeSSEFrame(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	buf.WriteString(ssePrefix)
	buf.Write(body)
	buf.WriteString("\n\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func terminalFrame() []byte {
	return []byte(ssePrefix + "[DONE]\n\n")
}
