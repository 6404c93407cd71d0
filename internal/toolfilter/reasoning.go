package toolfilter

import (
	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// ReasoningPolicy is the response-side Filter deciding whether
// Message.Thinking survives into the client-shaped response: stripped for
// /v1/chat/completions and /v1/messages, preserved for /v1/responses, with
// config.ReasoningPolicy overriding the per-protocol default to a fixed
// strip|preserve choice regardless of entry protocol.
type ReasoningPolicy struct{}

// Apply clears chat.Messages[i].Thinking in place when the resolved policy
// for protocol is to strip it; protocol here is always the entry protocol,
// since ResponseFilter runs before the outbound (client-facing) encode step.
func (ReasoningPolicy) Apply(chat *canonical.Chat, protocol envelope.Protocol) error {
	if !shouldStripThinking(protocol) {
		return nil
	}
	for i := range chat.Messages {
		chat.Messages[i].Thinking = ""
	}
	return nil
}

func shouldStripThinking(protocol envelope.Protocol) bool {
	switch config.ReasoningPolicy {
	case "strip":
		return true
	case "preserve":
		return false
	default: // "auto" or any unrecognized value falls back to the per-protocol default
		return protocol == envelope.ProtocolOpenAIChat || protocol == envelope.ProtocolAnthropic
	}
}
