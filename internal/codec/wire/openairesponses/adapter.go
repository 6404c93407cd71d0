// Package openairesponses converts between the OpenAI Responses API wire
// format and the canonical chat model.
package openairesponses

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// Request mirrors the subset of the Responses API request body the gateway
// cares about. Input is a flattened list of turns; the Responses API's
// richer "item" union (reasoning items, function_call_output items, etc.)
// collapses onto the same Role/Content/ToolCalls shape as chat completions
// for the cases this gateway routes.
// Tools is a pointer so an explicit empty tools:[] stays distinguishable
// from an absent field across the round trip.
type Request struct {
	Model  string      `json:"model"`
	Input  []InputItem `json:"input"`
	Tools  *[]Tool     `json:"tools,omitempty"`
	Stream bool        `json:"stream,omitempty"`
}

type InputItem struct {
	Type      string     `json:"type,omitempty"`
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response mirrors the subset of the Responses API response body the
// gateway produces for non-streaming requests.
type Response struct {
	Output []OutputItem `json:"output"`
}

type OutputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Name    string        `json:"name,omitempty"`
	Args    string        `json:"arguments,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StreamEvent mirrors a "response.output_text.delta"-style streaming event;
// the gateway only needs the text delta and a terminal marker.
type StreamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
}

type adapter struct{}

// New returns the OpenAI Responses API wire adapter.
func New() *adapter { return &adapter{} }

func (a *adapter) Protocol() envelope.Protocol { return envelope.ProtocolOpenAIResponses }

func (a *adapter) DecodeRequest(payload []byte) (*canonical.Chat, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(err, "decode openai responses request")
	}
	chat := &canonical.Chat{Metadata: canonical.Metadata{Model: req.Model, Stream: req.Stream, ToolsPresent: req.Tools != nil}}
	if req.Tools != nil {
		for _, t := range *req.Tools {
			chat.ToolDefinitions = append(chat.ToolDefinitions, canonical.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  []byte(t.Parameters),
			})
		}
	}
	for _, item := range req.Input {
		role := item.Role
		if item.Type == "function_call_output" {
			role = "tool"
		}
		cm := canonical.Message{Role: canonical.Role(role), Content: item.Content, ToolCallID: item.CallID}
		for _, tc := range item.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
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
			tools = append(tools, Tool{Type: "function", Name: td.Name, Description: td.Description, Parameters: json.RawMessage(td.Parameters)})
		}
		req.Tools = &tools
	}
	for _, m := range chat.Messages {
		item := InputItem{Type: "message", Role: string(m.Role), Content: m.Content, CallID: m.ToolCallID}
		if m.Role == canonical.RoleTool {
			item.Type = "function_call_output"
		}
		for _, tc := range m.ToolCalls {
			item.ToolCalls = append(item.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		req.Input = append(req.Input, item)
	}
	out, err := json.Marshal(req)
	return out, errors.Wrap(err, "encode openai responses request")
}

func (a *adapter) DecodeResponse(payload []byte) (*canonical.Chat, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrap(err, "decode openai responses response")
	}
	chat := &canonical.Chat{}
	for _, item := range resp.Output {
		switch item.Type {
		case "function_call":
			chat.Messages = append(chat.Messages, canonical.Message{
				Role:      canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{{ID: item.CallID, Name: item.Name, Arguments: item.Args}},
			})
		default:
			text := joinContentParts(item.Content)
			chat.Messages = append(chat.Messages, canonical.Message{Role: canonical.Role(item.Role), Content: &text})
		}
	}
	return chat, nil
}

func (a *adapter) EncodeResponse(chat *canonical.Chat) ([]byte, error) {
	resp := Response{}
	for _, m := range chat.Messages {
		if m.HasToolCalls() {
			for _, tc := range m.ToolCalls {
				resp.Output = append(resp.Output, OutputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Args: tc.Arguments})
			}
			continue
		}
		text := ""
		if m.Content != nil {
			text = *m.Content
		}
		resp.Output = append(resp.Output, OutputItem{
			Type:    "message",
			Role:    string(m.Role),
			Content: []ContentPart{{Type: "output_text", Text: text}},
		})
	}
	out, err := json.Marshal(resp)
	return out, errors.Wrap(err, "encode openai responses response")
}

func (a *adapter) DecodeStreamChunk(frame []byte) (*canonical.Chat, bool, error) {
	if strings.TrimSpace(string(frame)) == "[DONE]" {
		return nil, true, nil
	}
	var ev StreamEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, false, errors.Wrap(err, "decode openai responses stream event")
	}
	if ev.Type == "response.completed" {
		return nil, true, nil
	}
	text := ev.Delta
	return &canonical.Chat{Messages: []canonical.Message{{Role: canonical.RoleAssistant, Content: &text}}}, false, nil
}

func (a *adapter) EncodeStreamChunk(chat *canonical.Chat, done bool) ([]byte, error) {
	if done {
		return []byte("[DONE]"), nil
	}
	delta := ""
	if len(chat.Messages) > 0 && chat.Messages[0].Content != nil {
		delta = *chat.Messages[0].Content
	}
	out, err := json.Marshal(StreamEvent{Type: "response.output_text.delta", Delta: delta})
	return out, errors.Wrap(err, "encode openai responses stream event")
}

func joinContentParts(parts []ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
