package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/routecodex/routecodex/common"
	"github.com/routecodex/routecodex/common/ctxkey"
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/metrics"
)

// relayResponses serves POST /v1/responses. A response whose output asks
// for tool calls is parked in the response store and surfaced to the
// client as a requires_action body; the client continues the loop through
// submit_tool_outputs.
func (s *Server) relayResponses(c *gin.Context) {
	entry := envelope.ProtocolOpenAIResponses
	start := time.Now()

	chat, ok := s.decodeInbound(c, entry)
	if !ok {
		return
	}

	// The tool loop needs the whole response body to decide whether the
	// model asked for tools, so only tool-free requests stream.
	if isStreaming(c, chat) && len(chat.ToolDefinitions) == 0 {
		s.relayStream(c, entry, chat, start)
		return
	}
	chat.Metadata.Stream = false

	result, err := s.deps.Executor.Execute(c.Request.Context(), entry, chat)
	if err != nil {
		if clientGone(c) {
			c.Abort()
			return
		}
		renderError(c, entry, err)
		return
	}

	metrics.RecordRouteSelection(result.Decision.RouteName, string(result.Decision.ProviderKey))
	metrics.ObserveRequest(c.FullPath(), "200", time.Since(start))

	body := s.parkIfToolCalls(c, entry, chat, result.Body)
	c.Data(http.StatusOK, "application/json", body)
}

// parkIfToolCalls inspects a client-shaped Responses body; when the model
// asked for tool calls it stores the continued conversation under a fresh
// response id and rewrites the body into the requires_action shape the
// Responses tool loop expects.
func (s *Server) parkIfToolCalls(c *gin.Context, entry envelope.Protocol, requestChat *canonical.Chat, body []byte) []byte {
	pair, ok := s.deps.Pipeline.Registry.Get(entry, entry)
	if !ok {
		return body
	}
	respChat, err := pair.Entry.DecodeResponse(body)
	if err != nil {
		return body
	}

	calls := collectToolCalls(respChat)
	if len(calls) == 0 {
		return body
	}

	// The response id must be unique even when one request id parks more
	// than once across a multi-turn tool loop.
	id := "resp_" + c.GetString(ctxkey.RequestId) + "_" + uuid.NewString()[:8]
	continued := &canonical.Chat{
		Messages:        append(append([]canonical.Message{}, requestChat.Messages...), respChat.Messages...),
		ToolDefinitions: requestChat.ToolDefinitions,
		System:          requestChat.System,
		Metadata:        requestChat.Metadata,
	}
	s.store.put(&pendingResponse{id: id, entry: entry, chat: continued, createdAt: time.Now()})

	return wrapRequiresAction(body, id, calls)
}

func collectToolCalls(chat *canonical.Chat) []canonical.ToolCall {
	var calls []canonical.ToolCall
	for _, m := range chat.Messages {
		calls = append(calls, m.ToolCalls...)
	}
	return calls
}

// wrapRequiresAction stamps the Responses body with the id, status, and
// required_action envelope of a paused tool loop.
func wrapRequiresAction(body []byte, id string, calls []canonical.ToolCall) []byte {
	out, err := sjson.SetBytes(body, "id", id)
	if err != nil {
		return body
	}
	out, err = sjson.SetBytes(out, "status", "requires_action")
	if err != nil {
		return body
	}
	out, err = sjson.SetBytes(out, "required_action.type", "submit_tool_outputs")
	if err != nil {
		return body
	}
	for i, call := range calls {
		prefix := "required_action.submit_tool_outputs.tool_calls." + strconv.Itoa(i)
		out, _ = sjson.SetBytes(out, prefix+".id", call.ID)
		out, _ = sjson.SetBytes(out, prefix+".type", "function")
		out, _ = sjson.SetBytes(out, prefix+".function.name", call.Name)
		out, _ = sjson.SetBytes(out, prefix+".function.arguments", call.Arguments)
	}
	return out
}

type toolOutputsRequest struct {
	ToolOutputs []struct {
		ToolCallID string `json:"tool_call_id"`
		Output     string `json:"output"`
	} `json:"tool_outputs"`
}

// submitToolOutputs serves POST /v1/responses/:id/submit_tool_outputs:
// the parked conversation continues with the client's tool results and
// the completed turn is delivered as a terminal response.completed SSE.
func (s *Server) submitToolOutputs(c *gin.Context) {
	entry := envelope.ProtocolOpenAIResponses

	var req toolOutputsRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		renderError(c, entry, gwerrors.New(gwerrors.ProtocolError, "malformed tool_outputs body", err))
		return
	}
	if len(req.ToolOutputs) == 0 {
		renderError(c, entry, gwerrors.New(gwerrors.ProtocolError, "tool_outputs must not be empty", nil))
		return
	}

	pending, ok := s.store.take(c.Param("id"))
	if !ok {
		renderError(c, entry, gwerrors.New(gwerrors.ProtocolError, "unknown or expired response id", nil))
		return
	}

	for _, out := range req.ToolOutputs {
		content := out.Output
		pending.chat.Messages = append(pending.chat.Messages, canonical.Message{
			Role:       canonical.RoleTool,
			Content:    &content,
			ToolCallID: out.ToolCallID,
		})
		pending.chat.ToolOutputs = append(pending.chat.ToolOutputs, canonical.ToolOutput{
			ToolCallID: out.ToolCallID,
			Content:    out.Output,
		})
	}

	result, err := s.deps.Executor.Execute(c.Request.Context(), entry, pending.chat)
	if err != nil {
		if clientGone(c) {
			c.Abort()
			return
		}
		renderError(c, entry, err)
		return
	}

	// A follow-up turn can ask for tools again; then the loop pauses once
	// more instead of completing.
	body := s.parkIfToolCalls(c, entry, pending.chat, result.Body)
	if string(body) != string(result.Body) {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	common.SetEventStreamHeaders(c)
	completed, err := sjson.SetRawBytes([]byte(`{"type":"response.completed"}`), "response", result.Body)
	if err == nil {
		_, _ = c.Writer.WriteString("data: " + string(completed) + "\n\n")
	}
	_, _ = c.Writer.WriteString("data: [DONE]\n\n")
	if f, ok := c.Writer.(http.Flusher); ok {
		f.Flush()
	}
}
