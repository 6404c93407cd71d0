// Package toolfilter implements the pipeline's minimal, structural-only
// tool-call cleanup: it never parses or rewrites tool-call semantics, only
// repairs shape so a downstream provider accepts the payload. Three
// pipeline.Filter implementations live here: ArgumentCoercion (outbound
// argument shape), PatchValidator (outbound apply_patch structural check,
// see patch.go), and ReasoningPolicy (response-side think-block visibility,
// see reasoning.go).
//
// Grounded on the tool validation shape in
// relay/model/tool_validation_test.go (Tool.Validate/ValidateFunction/
// ValidateMCP): struct-shape checks that return a plain error rather than
// rewriting the caller's intent.
package toolfilter

import (
	"encoding/json"
	"strings"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/pipeline"
)

// Chain applies a sequence of filters in order, stopping at the first
// error, so a Pipeline's single Inbound/Outbound/ResponseFilter slot can
// host more than one of this package's filters.
type Chain []pipeline.Filter

// Apply runs every filter in c in order against chat.
func (c Chain) Apply(chat *canonical.Chat, protocol envelope.Protocol) error {
	for _, f := range c {
		if err := f.Apply(chat, protocol); err != nil {
			return err
		}
	}
	return nil
}

// Outbound is the standard outbound filter chain wired into the
// pipeline's OutboundFilter: coerce tool-call argument shape, then
// structurally validate any apply_patch payload.
func Outbound() Chain {
	return Chain{ArgumentCoercion{}, PatchValidator{}}
}

// ArgumentCoercion is the outbound Filter that guarantees every ToolCall's
// Arguments field is a non-empty JSON string, wrapping bare Gemini
// message-array arguments as {"items":[...]} per target protocol.
type ArgumentCoercion struct{}

// Apply rewrites chat.Messages in place; it never touches ToolOutputs or
// ToolDefinitions, which are already well-formed by construction.
func (ArgumentCoercion) Apply(chat *canonical.Chat, protocol envelope.Protocol) error {
	for i := range chat.Messages {
		msg := &chat.Messages[i]
		for j := range msg.ToolCalls {
			call := &msg.ToolCalls[j]
			coerced, err := coerceArguments(call.Arguments, protocol)
			if err != nil {
				if gwErr, ok := err.(*gwerrors.Error); ok {
					return gwErr.WithCode(call.Name)
				}
				return gwerrors.New(gwerrors.ToolPayloadInvalid, "tool call arguments are not valid JSON", err).WithCode(call.Name)
			}
			call.Arguments = coerced
		}
	}
	return nil
}

// coerceArguments ensures args is a non-empty JSON string. An empty string
// becomes "{}"; for Gemini and Anthropic targets, a top-level JSON array is
// wrapped under an "items" key since those targets reject a bare array as a
// function-call argument (the OpenAI-family targets accept it unwrapped, per
// the documented divergence in the pack's own tool-argument handling).
func coerceArguments(args string, protocol envelope.Protocol) (string, error) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return "{}", nil
	}
	if !json.Valid([]byte(trimmed)) {
		return "", gwerrors.New(gwerrors.ToolPayloadInvalid, "arguments must be valid JSON", nil)
	}
	if protocol != envelope.ProtocolGemini && protocol != envelope.ProtocolAnthropic {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items any
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return "", gwerrors.New(gwerrors.ToolPayloadInvalid, "arguments must be valid JSON", err)
		}
		wrapped, err := json.Marshal(map[string]any{"items": items})
		if err != nil {
			return "", gwerrors.New(gwerrors.InternalConversionError, "failed to wrap gemini tool arguments", err)
		}
		return string(wrapped), nil
	}
	return trimmed, nil
}
