// Package codec implements the conversion pipeline's codec registry: one
// WireAdapter per wire protocol, composed pairwise into the (entry, target)
// codecs the pipeline looks up for every request. This keeps the star
// topology the specification requires — an adapter only ever converts
// between its own wire shape and canonical.Chat, never directly to another
// wire shape — while still presenting a distinct Codec per registered pair.
package codec

import (
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// WireAdapter converts between one wire protocol and the canonical model.
// Request and response conversions are separate because a protocol's request
// shape and response/stream-chunk shape are never symmetric.
type WireAdapter interface {
	Protocol() envelope.Protocol

	// DecodeRequest parses an E- or T-shaped request body into canonical form.
	DecodeRequest(payload []byte) (*canonical.Chat, error)
	// EncodeRequest renders canonical form into this protocol's request body.
	EncodeRequest(chat *canonical.Chat) ([]byte, error)

	// DecodeResponse parses a non-streaming response body into canonical form.
	DecodeResponse(payload []byte) (*canonical.Chat, error)
	// EncodeResponse renders canonical form into this protocol's response body.
	EncodeResponse(chat *canonical.Chat) ([]byte, error)

	// DecodeStreamChunk parses one SSE data frame (without the "data: " prefix)
	// into a canonical delta. done reports the terminal frame ([DONE] or
	// equivalent); the adapter returns done=true with a nil chat for it.
	DecodeStreamChunk(frame []byte) (chat *canonical.Chat, done bool, err error)
	// EncodeStreamChunk renders a canonical delta back into this protocol's
	// SSE frame body (without the "data: " prefix or trailing newlines).
	EncodeStreamChunk(chat *canonical.Chat, done bool) ([]byte, error)
}

// Codec is the (entryProtocol, targetProtocol) pair the pipeline drives one
// request through. Entry handles the client-facing shape, Target the
// provider-facing shape; canonical.Chat is the only thing that crosses
// between them.
type Codec struct {
	Entry  WireAdapter
	Target WireAdapter
}

// ConvertInbound turns the client's E-shaped request into canonical form.
func (c *Codec) ConvertInbound(payload []byte) (*canonical.Chat, error) {
	return c.Entry.DecodeRequest(payload)
}

// ConvertOutbound turns canonical form into the provider's T-shaped request.
func (c *Codec) ConvertOutbound(chat *canonical.Chat) ([]byte, error) {
	return c.Target.EncodeRequest(chat)
}

// ConvertInboundResponse turns the provider's T-shaped response into canonical form.
func (c *Codec) ConvertInboundResponse(payload []byte) (*canonical.Chat, error) {
	return c.Target.DecodeResponse(payload)
}

// ConvertOutboundResponse turns canonical form into the client's E-shaped response.
func (c *Codec) ConvertOutboundResponse(chat *canonical.Chat) ([]byte, error) {
	return c.Entry.EncodeResponse(chat)
}

// ConvertStreamFrame pumps a single provider-shaped SSE frame through to a
// client-shaped SSE frame. It never buffers beyond this one frame, matching
// the pipeline's no-full-stream-buffering requirement.
func (c *Codec) ConvertStreamFrame(frame []byte) (out []byte, done bool, err error) {
	chat, done, err := c.Target.DecodeStreamChunk(frame)
	if err != nil || done {
		return nil, done, err
	}
	out, err = c.Entry.EncodeStreamChunk(chat, false)
	return out, false, err
}
