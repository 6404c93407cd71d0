package codec

import (
	"fmt"
	"sync"

	"github.com/routecodex/routecodex/internal/codec/wire/anthropic"
	"github.com/routecodex/routecodex/internal/codec/wire/gemini"
	"github.com/routecodex/routecodex/internal/codec/wire/openaichat"
	"github.com/routecodex/routecodex/internal/codec/wire/openairesponses"
	"github.com/routecodex/routecodex/internal/envelope"
)

// entryProtocols lists every protocol a client may use to reach the gateway.
var entryProtocols = []envelope.Protocol{
	envelope.ProtocolOpenAIChat,
	envelope.ProtocolOpenAIResponses,
	envelope.ProtocolAnthropic,
}

// targetProtocols lists every protocol a provider target may expect.
var targetProtocols = []envelope.Protocol{
	envelope.ProtocolOpenAIChat,
	envelope.ProtocolOpenAIResponses,
	envelope.ProtocolAnthropic,
	envelope.ProtocolGemini,
}

// Registry holds exactly one Codec per (entryProtocol, targetProtocol) pair.
type Registry struct {
	mu     sync.RWMutex
	codecs map[envelope.Protocol]map[envelope.Protocol]*Codec
}

func newAdapter(p envelope.Protocol) WireAdapter {
	switch p {
	case envelope.ProtocolOpenAIChat:
		return openaichat.New()
	case envelope.ProtocolOpenAIResponses:
		return openairesponses.New()
	case envelope.ProtocolAnthropic:
		return anthropic.New()
	case envelope.ProtocolGemini:
		return gemini.New()
	default:
		panic(fmt.Sprintf("codec: unknown protocol %q", p))
	}
}

// NewRegistry builds and registers the full (entry x target) codec matrix.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[envelope.Protocol]map[envelope.Protocol]*Codec)}
	for _, e := range entryProtocols {
		entryAdapter := newAdapter(e)
		r.codecs[e] = make(map[envelope.Protocol]*Codec)
		for _, t := range targetProtocols {
			r.codecs[e][t] = &Codec{Entry: entryAdapter, Target: newAdapter(t)}
		}
	}
	return r
}

// Get returns the codec registered for (entry, target). ok is false if
// either protocol was never registered (a programmer error, not a runtime one:
// the set of protocols is fixed at build time).
func (r *Registry) Get(entry, target envelope.Protocol) (*Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byTarget, ok := r.codecs[entry]
	if !ok {
		return nil, false
	}
	c, ok := byTarget[target]
	return c, ok
}
