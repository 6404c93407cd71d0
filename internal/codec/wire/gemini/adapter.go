// Package gemini converts between the Gemini generateContent wire format
// and the canonical chat model. Gemini requests/responses are built and
// read with gjson/sjson rather than typed structs because the array-wrapping
// normalization rule (tool arguments that are a bare array must become
// {items:[...]} for this target only) is naturally a JSON-tree rewrite, and
// typed structs would just get unmarshaled into an intermediate any anyway.
package gemini

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

// Cloud Code Assist envelope constants. The generateContent document never
// sits at the top level of an outbound body: it nests under "request"
// alongside the project/requestId/model/userAgent/requestType fields, and
// the generation keys are forbidden at the top level.
const (
	cloudCodeUserAgent = "routecodex"
	requestTypeUnary   = "generateContent"
)

type adapter struct{}

// New returns the Gemini generateContent wire adapter.
func New() *adapter { return &adapter{} }

func (a *adapter) Protocol() envelope.Protocol { return envelope.ProtocolGemini }

func (a *adapter) DecodeRequest(payload []byte) (*canonical.Chat, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("decode gemini request: invalid json")
	}
	root := gjson.ParseBytes(payload)
	chat := &canonical.Chat{}

	// A Cloud Code Assist envelope nests the document under "request";
	// a bare generateContent body is accepted too.
	if req := root.Get("request"); req.Exists() {
		chat.Metadata.Model = root.Get("model").String()
		chat.Metadata.RequestID = root.Get("requestId").String()
		root = req
	}

	chat.Metadata.ToolsPresent = root.Get("tools").Exists()
	for _, decl := range root.Get("tools.#.functionDeclarations.@flatten").Array() {
		chat.ToolDefinitions = append(chat.ToolDefinitions, canonical.ToolDefinition{
			Name:        decl.Get("name").String(),
			Description: decl.Get("description").String(),
			Parameters:  []byte(decl.Get("parameters").Raw),
		})
	}

	for _, c := range root.Get("contents").Array() {
		role := c.Get("role").String()
		if role == "model" {
			role = string(canonical.RoleAssistant)
		}
		cm := canonical.Message{Role: canonical.Role(role)}
		var text strings.Builder
		for _, part := range c.Get("parts").Array() {
			switch {
			case part.Get("text").Exists():
				text.WriteString(part.Get("text").String())
			case part.Get("functionCall").Exists():
				fc := part.Get("functionCall")
				cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{
					Name:      fc.Get("name").String(),
					Arguments: unwrapItems(fc.Get("args").Raw),
				})
			case part.Get("functionResponse").Exists():
				cm.Role = canonical.RoleTool
				fr := part.Get("functionResponse")
				cm.ToolCallID = fr.Get("name").String()
				text.WriteString(fr.Get("response").Raw)
			}
		}
		if text.Len() > 0 || !cm.HasToolCalls() {
			s := text.String()
			cm.Content = &s
		}
		chat.Messages = append(chat.Messages, cm)
	}
	return chat, nil
}

func (a *adapter) EncodeRequest(chat *canonical.Chat) ([]byte, error) {
	doc := "{}"
	var err error
	if len(chat.ToolDefinitions) == 0 && chat.Metadata.ToolsPresent {
		if doc, err = sjson.SetRaw(doc, "tools", "[]"); err != nil {
			return nil, errors.Wrap(err, "encode gemini request")
		}
	}
	if len(chat.ToolDefinitions) > 0 {
		for i, td := range chat.ToolDefinitions {
			base := "tools.0.functionDeclarations." + itoa(i)
			if doc, err = sjson.Set(doc, base+".name", td.Name); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
			if doc, err = sjson.Set(doc, base+".description", td.Description); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
			if len(td.Parameters) > 0 {
				if doc, err = setRawJSON(doc, base+".parameters", td.Parameters); err != nil {
					return nil, errors.Wrap(err, "encode gemini request")
				}
			}
		}
	}
	for i, m := range chat.Messages {
		base := "contents." + itoa(i)
		role := string(m.Role)
		if role == string(canonical.RoleAssistant) {
			role = "model"
		}
		if doc, err = sjson.Set(doc, base+".role", role); err != nil {
			return nil, errors.Wrap(err, "encode gemini request")
		}
		partIdx := 0
		if m.Content != nil && *m.Content != "" {
			if doc, err = sjson.Set(doc, base+".parts."+itoa(partIdx)+".text", *m.Content); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
			partIdx++
		}
		for _, tc := range m.ToolCalls {
			partBase := base + ".parts." + itoa(partIdx)
			if doc, err = sjson.Set(doc, partBase+".functionCall.name", tc.Name); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
			args := wrapItemsIfArray(tc.Arguments)
			if doc, err = setRawJSON(doc, partBase+".functionCall.args", args); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
			partIdx++
		}
		if m.Role == canonical.RoleTool {
			partBase := base + ".parts." + itoa(partIdx)
			if doc, err = sjson.Set(doc, partBase+".functionResponse.name", m.ToolCallID); err != nil {
				return nil, errors.Wrap(err, "encode gemini request")
			}
		}
	}
	return a.wrapCloudCodeEnvelope(chat, doc)
}

// wrapCloudCodeEnvelope nests the generateContent document under "request"
// and adds the envelope fields the Cloud Code Assist surface requires. The
// generation keys (contents, tools, systemInstruction, toolConfig,
// generationConfig, safetySettings) must never appear at the top level;
// "project" is emitted empty here and stamped by auth injection for
// project-bearer targets.
func (a *adapter) wrapCloudCodeEnvelope(chat *canonical.Chat, inner string) ([]byte, error) {
	requestID := chat.Metadata.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	out := "{}"
	var err error
	if out, err = sjson.Set(out, "project", ""); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	if out, err = sjson.Set(out, "requestId", requestID); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	if out, err = setRawJSON(out, "request", []byte(inner)); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	if out, err = sjson.Set(out, "model", chat.Metadata.Model); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	if out, err = sjson.Set(out, "userAgent", cloudCodeUserAgent); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	if out, err = sjson.Set(out, "requestType", requestTypeUnary); err != nil {
		return nil, errors.Wrap(err, "encode gemini envelope")
	}
	return []byte(out), nil
}

func (a *adapter) DecodeResponse(payload []byte) (*canonical.Chat, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("decode gemini response: invalid json")
	}
	root := gjson.ParseBytes(payload)
	// Cloud Code Assist nests the generateContent response under "response".
	if resp := root.Get("response"); resp.Exists() {
		root = resp
	}
	cand := root.Get("candidates.0.content")
	role := cand.Get("role").String()
	if role == "model" || role == "" {
		role = string(canonical.RoleAssistant)
	}
	cm := canonical.Message{Role: canonical.Role(role)}
	var text strings.Builder
	for _, part := range cand.Get("parts").Array() {
		if part.Get("text").Exists() {
			text.WriteString(part.Get("text").String())
		}
		if part.Get("functionCall").Exists() {
			fc := part.Get("functionCall")
			cm.ToolCalls = append(cm.ToolCalls, canonical.ToolCall{Name: fc.Get("name").String(), Arguments: unwrapItems(fc.Get("args").Raw)})
		}
	}
	if text.Len() > 0 || !cm.HasToolCalls() {
		s := text.String()
		cm.Content = &s
	}
	return &canonical.Chat{Messages: []canonical.Message{cm}}, nil
}

func (a *adapter) EncodeResponse(chat *canonical.Chat) ([]byte, error) {
	doc := "{}"
	var err error
	if len(chat.Messages) == 0 {
		return []byte(doc), nil
	}
	m := chat.Messages[0]
	if doc, err = sjson.Set(doc, "candidates.0.content.role", "model"); err != nil {
		return nil, errors.Wrap(err, "encode gemini response")
	}
	partIdx := 0
	if m.Content != nil && *m.Content != "" {
		if doc, err = sjson.Set(doc, "candidates.0.content.parts.0.text", *m.Content); err != nil {
			return nil, errors.Wrap(err, "encode gemini response")
		}
		partIdx++
	}
	for _, tc := range m.ToolCalls {
		partBase := "candidates.0.content.parts." + itoa(partIdx)
		if doc, err = sjson.Set(doc, partBase+".functionCall.name", tc.Name); err != nil {
			return nil, errors.Wrap(err, "encode gemini response")
		}
		if doc, err = setRawJSON(doc, partBase+".functionCall.args", wrapItemsIfArray(tc.Arguments)); err != nil {
			return nil, errors.Wrap(err, "encode gemini response")
		}
		partIdx++
	}
	return []byte(doc), nil
}

func (a *adapter) DecodeStreamChunk(frame []byte) (*canonical.Chat, bool, error) {
	if len(frame) == 0 {
		return nil, true, nil
	}
	chat, err := a.DecodeResponse(frame)
	return chat, false, err
}

func (a *adapter) EncodeStreamChunk(chat *canonical.Chat, done bool) ([]byte, error) {
	if done {
		return nil, nil
	}
	return a.EncodeResponse(chat)
}

// unwrapItems reverses the {items:[...]} wrapping applied for this target
// when the canonical arguments are a bare JSON array.
func unwrapItems(raw string) string {
	if raw == "" {
		return ""
	}
	g := gjson.Parse(raw)
	if g.IsObject() {
		if items := g.Get("items"); items.Exists() && items.IsArray() && len(g.Map()) == 1 {
			return items.Raw
		}
	}
	return raw
}

// wrapItemsIfArray applies the Gemini-only normalization rule: a bare
// top-level array argument payload is wrapped as {items:[...]} because
// Gemini's functionCall.args must be a JSON object.
func wrapItemsIfArray(args string) []byte {
	if args == "" {
		return []byte("{}")
	}
	trimmed := strings.TrimSpace(args)
	if strings.HasPrefix(trimmed, "[") {
		wrapped, err := sjson.SetRaw("{}", "items", trimmed)
		if err != nil {
			return []byte("{}")
		}
		return []byte(wrapped)
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(args), &js); err != nil {
		return []byte("{}")
	}
	return []byte(args)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// setRawJSON is sjson.SetRawBytes with the doc/result kept as string, since
// every call site here threads a string accumulator through repeated sets.
func setRawJSON(doc, path string, raw []byte) (string, error) {
	out, err := sjson.SetRawBytes([]byte(doc), path, raw)
	if err != nil {
		return doc, err
	}
	return string(out), nil
}
