// Package anthropic converts between the Anthropic Messages wire format and
// the canonical chat model.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// Request mirrors the subset of the Messages API request body the gateway
// cares about. System is a top-level field in this protocol, unlike a
// system-role message in the OpenAI shapes.
// Tools is a pointer so an explicit empty tools:[] stays distinguishable
// from an absent field; this target must echo the empty array back iff the
// client sent one.
type Request struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    *[]Tool   `json:"tools,omitempty"`
	Stream   bool      `json:"stream,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON also accepts content given as a plain string, which decodes
// to a single text block.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var text string
	if len(raw.Content) > 0 && raw.Content[0] == '"' && json.Unmarshal(raw.Content, &text) == nil {
		*m = Message{Role: raw.Role, Content: []ContentBlock{{Type: "text", Text: text}}}
		return nil
	}
	return json.Unmarshal(data, (*plain)(m))
}

// ContentBlock is a tagged union over text|input_text|output_text|tool_use|tool_result.
// Fields for blocks the current Type does not use are left zero.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Response mirrors the subset of the Messages API response body the gateway
// produces for non-streaming requests.
type Response struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// StreamEvent mirrors one Anthropic SSE event (content_block_delta etc.).
type StreamEvent struct {
	Type  string `json:"type"`
	Delta *Delta `json:"delta,omitempty"`
}

type Delta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type adapter struct{}

// New returns the Anthropic Messages wire adapter.
func New() *adapter { return &adapter{} }

func (a *adapter) Protocol() envelope.Protocol { return envelope.ProtocolAnthropic }

func (a *adapter) DecodeRequest(payload []byte) (*canonical.Chat, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(err, "decode anthropic request")
	}
	chat := &canonical.Chat{
		System:   req.System,
		Metadata: canonical.Metadata{Model: req.Model, Stream: req.Stream, ToolsPresent: req.Tools != nil},
	}
	if req.Tools != nil {
		for _, t := range *req.Tools {
			chat.ToolDefinitions = append(chat.ToolDefinitions, canonical.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  []byte(t.InputSchema),
			})
		}
	}
	for _, m := range req.Messages {
		chat.Messages = append(chat.Messages, blocksToMessage(m.Role, m.Content))
	}
	return chat, nil
}

func (a *adapter) EncodeRequest(chat *canonical.Chat) ([]byte, error) {
	req := Request{Model: chat.Metadata.Model, System: chat.System, Stream: chat.Metadata.Stream}
	if len(chat.ToolDefinitions) > 0 || chat.Metadata.ToolsPresent {
		tools := make([]Tool, 0, len(chat.ToolDefinitions))
		for _, td := range chat.ToolDefinitions {
			tools = append(tools, Tool{Name: td.Name, Description: td.Description, InputSchema: json.RawMessage(td.Parameters)})
		}
		req.Tools = &tools
	}
	for _, m := range chat.Messages {
		req.Messages = append(req.Messages, Message{Role: string(m.Role), Content: messageToBlocks(m)})
	}
	out, err := json.Marshal(req)
	return out, errors.Wrap(err, "encode anthropic request")
}

func (a *adapter) DecodeResponse(payload []byte) (*canonical.Chat, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrap(err, "decode anthropic response")
	}
	return &canonical.Chat{Messages: []canonical.Message{blocksToMessage(resp.Role, resp.Content)}}, nil
}

func (a *adapter) EncodeResponse(chat *canonical.Chat) ([]byte, error) {
	resp := Response{Role: string(canonical.RoleAssistant)}
	if len(chat.Messages) > 0 {
		m := chat.Messages[0]
		resp.Role = string(m.Role)
		resp.Content = messageToBlocks(m)
	}
	out, err := json.Marshal(resp)
	return out, errors.Wrap(err, "encode anthropic response")
}

func (a *adapter) DecodeStreamChunk(frame []byte) (*canonical.Chat, bool, error) {
	var ev StreamEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, false, errors.Wrap(err, "decode anthropic stream event")
	}
	if ev.Type == "message_stop" {
		return nil, true, nil
	}
	if ev.Delta == nil {
		return &canonical.Chat{}, false, nil
	}
	text := ev.Delta.Text
	return &canonical.Chat{Messages: []canonical.Message{{Role: canonical.RoleAssistant, Content: &text}}}, false, nil
}

func (a *adapter) EncodeStreamChunk(chat *canonical.Chat, done bool) ([]byte, error) {
	if done {
		out, err := json.Marshal(StreamEvent{Type: "message_stop"})
		return out, errors.Wrap(err, "encode anthropic stream stop event")
	}
	text := ""
	if len(chat.Messages) > 0 && chat.Messages[0].Content != nil {
		text = *chat.Messages[0].Content
	}
	out, err := json.Marshal(StreamEvent{Type: "content_block_delta", Delta: &Delta{Type: "text_delta", Text: text}})
	return out, errors.Wrap(err, "encode anthropic stream event")
}

// blocksToMessage flattens text|input_text|output_text blocks into Content
// and lifts tool_use blocks into ToolCalls, per the inbound normalization rule.
func blocksToMessage(role string, blocks []ContentBlock) canonical.Message {
	m := canonical.Message{Role: canonical.Role(role)}
	var text strings.Builder
	for _, b := range blocks {
		switch b.Type {
		case "text", "input_text", "output_text":
			text.WriteString(b.Text)
		case "tool_use":
			m.ToolCalls = append(m.ToolCalls, canonical.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: coerceArgumentsString(b.Input),
			})
		case "tool_result":
			m.Role = canonical.RoleTool
			m.ToolCallID = b.ToolUseID
			text.WriteString(b.Content)
		}
	}
	if text.Len() > 0 || !m.HasToolCalls() {
		s := text.String()
		m.Content = &s
	}
	if m.HasToolCalls() && m.Content != nil && *m.Content == "" {
		m.Content = nil
	}
	return m
}

// messageToBlocks is the dual of blocksToMessage: canonical Content becomes
// a single text block, each ToolCall becomes a tool_use block.
func messageToBlocks(m canonical.Message) []ContentBlock {
	var blocks []ContentBlock
	if m.Content != nil && *m.Content != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: *m.Content})
	}
	if m.Role == canonical.RoleTool {
		return []ContentBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: stringOrEmpty(m.Content)}}
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(argumentsToInput(tc.Arguments))})
	}
	return blocks
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func argumentsToInput(args string) string {
	if args == "" {
		return "{}"
	}
	return args
}

func coerceArgumentsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
