// Package openaichat converts between the OpenAI Chat Completions wire
// format and the canonical chat model.
package openaichat

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// Request mirrors the subset of the chat completions request body the
// gateway cares about; unknown fields are not preserved round-trip.
// Tools is a pointer so an explicit empty tools:[] stays distinguishable
// from an absent field across the round trip.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    *[]Tool   `json:"tools,omitempty"`
	Stream   bool      `json:"stream,omitempty"`
}

type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall.Arguments is decoded as any so both a JSON-string and an
// object payload are accepted; coerceArgumentsString normalizes either.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response mirrors the subset of the chat completions response body the
// gateway produces for non-streaming requests.
type Response struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// StreamChunk mirrors one chat.completion.chunk SSE frame.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

type StreamChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type adapter struct{}

// New returns the OpenAI Chat Completions wire adapter.
func New() *adapter { return &adapter{} }

func (a *adapter) Protocol() envelope.Protocol { return envelope.ProtocolOpenAIChat }

func (a *adapter) DecodeRequest(payload []byte) (*canonical.Chat, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(err, "decode openai chat request")
	}

	chat := &canonical.Chat{
		Metadata: canonical.Metadata{Model: req.Model, Stream: req.Stream, ToolsPresent: req.Tools != nil},
	}
	if req.Tools != nil {
		for _, t := range *req.Tools {
			chat.ToolDefinitions = append(chat.ToolDefinitions, canonical.ToolDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  []byte(t.Function.Parameters),
			})
		}
	}
	for _, m := range req.Messages {
		cm := canonical.Message{Role: canonical.Role(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: coerceArgumentsString(tc.Function.Arguments),
			})
		}
		// assistant messages with tool calls carry content=null, never "".
		if cm.HasToolCalls() && cm.Content != nil && *cm.Content == "" {
			cm.Content = nil
		}
		chat.Messages = append(chat.Messages, cm)
	}
	return chat, nil
}

func (a *adapter) EncodeRequest(chat *canonical.Chat) ([]byte, error) {
	req := Request{Model: chat.Metadata.Model, Stream: chat.Metadata.Stream}
	if len(chat.ToolDefinitions) > 0 || chat.Metadata.ToolsPresent {
		tools := make([]Tool, 0, len(chat.ToolDefinitions))
		for _, td := range chat.ToolDefinitions {
			tools = append(tools, Tool{
				Type: "function",
				Function: Function{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  json.RawMessage(td.Parameters),
				},
			})
		}
		req.Tools = &tools
	}
	for _, m := range chat.Messages {
		wm := Message{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, wm)
	}
	out, err := json.Marshal(req)
	return out, errors.Wrap(err, "encode openai chat request")
}

func (a *adapter) DecodeResponse(payload []byte) (*canonical.Chat, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrap(err, "decode openai chat response")
	}
	chat := &canonical.Chat{}
	for _, c := range resp.Choices {
		cm := canonical.Message{Role: canonical.Role(c.Message.Role), Content: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: coerceArgumentsString(tc.Function.Arguments),
			})
		}
		chat.Messages = append(chat.Messages, cm)
	}
	return chat, nil
}

func (a *adapter) EncodeResponse(chat *canonical.Chat) ([]byte, error) {
	resp := Response{}
	for i, m := range chat.Messages {
		wm := Message{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		resp.Choices = append(resp.Choices, Choice{Index: i, Message: wm})
	}
	out, err := json.Marshal(resp)
	return out, errors.Wrap(err, "encode openai chat response")
}

func (a *adapter) DecodeStreamChunk(frame []byte) (*canonical.Chat, bool, error) {
	if strings.TrimSpace(string(frame)) == "[DONE]" {
		return nil, true, nil
	}
	var chunk StreamChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, false, errors.Wrap(err, "decode openai chat stream chunk")
	}
	chat := &canonical.Chat{}
	for _, c := range chunk.Choices {
		cm := canonical.Message{Role: canonical.Role(c.Delta.Role), Content: c.Delta.Content}
		for _, tc := range c.Delta.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: coerceArgumentsString(tc.Function.Arguments),
			})
		}
		chat.Messages = append(chat.Messages, cm)
	}
	return chat, false, nil
}

func (a *adapter) EncodeStreamChunk(chat *canonical.Chat, done bool) ([]byte, error) {
	if done {
		return []byte("[DONE]"), nil
	}
	chunk := StreamChunk{}
	for i, m := range chat.Messages {
		delta := Delta{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		chunk.Choices = append(chunk.Choices, StreamChoice{Index: i, Delta: delta})
	}
	out, err := json.Marshal(chunk)
	return out, errors.Wrap(err, "encode openai chat stream chunk")
}

// coerceArgumentsString normalizes tool_call.function.arguments, which
// providers sometimes send as a JSON string and sometimes as a decoded
// object, into the JSON-string form canonical.ToolCall always carries.
func coerceArgumentsString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
