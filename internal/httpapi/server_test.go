package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/toolfilter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedProvider returns canned unary bodies / streams in order and
// counts sends, standing in for the whole provider adapter layer.
type scriptedProvider struct {
	bodies  []string
	streams []string
	sends   atomic.Int64
	fail    error
}

func (p *scriptedProvider) Send(ctx context.Context, target router.Target, payload []byte, stream bool) (executor.Attempt, error) {
	n := p.sends.Add(1)
	if p.fail != nil {
		return executor.Attempt{}, p.fail
	}
	if stream {
		idx := int(n-1) % len(p.streams)
		return executor.Attempt{Stream: io.NopCloser(strings.NewReader(p.streams[idx]))}, nil
	}
	idx := int(n-1) % len(p.bodies)
	return executor.Attempt{Body: []byte(p.bodies[idx])}, nil
}

// newTestEngine assembles the full real stack (codec registry, pipeline
// with tool filters, router, quota daemon) over a scripted provider.
func newTestEngine(t *testing.T, provider executor.Provider, profile envelope.Protocol) (*gin.Engine, *quota.Daemon) {
	t.Helper()

	target := router.Target{
		ProviderKey:     "openai.default.gpt-4",
		ProviderType:    "openai",
		OutboundProfile: profile,
		Endpoint:        "https://upstream.test/v1",
		AuthRef:         "apikey:sk-test",
	}
	table := router.RouteTable{
		Routes: map[string]router.Route{
			"default": {Name: "default", Tiers: []router.Tier{{ID: "primary", Targets: []router.ProviderKey{target.ProviderKey}}}},
		},
		Targets: map[router.ProviderKey]router.Target{target.ProviderKey: target},
	}

	daemon := quota.NewDaemon(quota.Config{})
	daemon.RegisterTarget(target.ProviderKey, 0, quota.AuthTypeAPIKey)

	rt := router.New(table, daemon, router.DefaultClassifierConfig(), 16)

	p := pipeline.New(codec.NewRegistry())
	p.OutboundFilter = toolfilter.Outbound()
	p.ResponseFilter = toolfilter.ReasoningPolicy{}

	exec := &executor.Executor{
		Router:   rt,
		Quota:    daemon,
		Pipeline: p,
		Provider: provider,
	}

	return NewEngine(Deps{Pipeline: p, Executor: exec, Daemon: daemon, Router: rt}), daemon
}

func TestChatCompletionsPassthrough(t *testing.T) {
	provider := &scriptedProvider{bodies: []string{`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`}}
	engine, _ := newTestEngine(t, provider, envelope.ProtocolOpenAIChat)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", gjson.GetBytes(w.Body.Bytes(), "choices.0.message.content").String())
	require.EqualValues(t, 1, provider.sends.Load())
}

func TestChatCompletionsMalformedBodyIs4xx(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedProvider{bodies: []string{"{}"}}, envelope.ProtocolOpenAIChat)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "protocol_error", gjson.GetBytes(w.Body.Bytes(), "error.type").String())
}

func TestAnthropicErrorShape(t *testing.T) {
	engine, daemon := newTestEngine(t, &scriptedProvider{bodies: []string{"{}"}}, envelope.ProtocolOpenAIChat)

	// Take the only target out of the pool so routing fails.
	daemon.DisableProvider("openai.default.gpt-4", quota.DisableModeBlacklist, 1<<42, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "error", gjson.GetBytes(w.Body.Bytes(), "type").String())
	require.Equal(t, "overloaded_error", gjson.GetBytes(w.Body.Bytes(), "error.type").String())
}

func TestChatCompletionsStreaming(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	provider := &scriptedProvider{streams: []string{upstream}}
	engine, _ := newTestEngine(t, provider, envelope.ProtocolOpenAIChat)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(t, body, "he")
	require.Contains(t, body, "llo")
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestResponsesToolLoop(t *testing.T) {
	// Double-escaped: the outer provider body JSON-decodes "arguments" to a
	// nested JSON document whose "patch" string still carries \n escapes.
	patch := `*** Begin Patch\\n*** Add File: a.txt\\n+hello\\n*** End Patch\\n`
	provider := &scriptedProvider{bodies: []string{
		`{"output":[{"type":"function_call","call_id":"c1","name":"apply_patch","arguments":"{\"patch\":\"` + patch + `\"}"}]}`,
		`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"applied"}]}]}`,
	}}
	engine, _ := newTestEngine(t, provider, envelope.ProtocolOpenAIResponses)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses",
		strings.NewReader(`{"model":"gpt-4","input":[{"role":"user","content":"patch it"}],"tools":[{"type":"function","name":"apply_patch"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	first := w.Body.Bytes()
	require.Equal(t, "requires_action", gjson.GetBytes(first, "status").String())
	require.Equal(t, "apply_patch", gjson.GetBytes(first, "required_action.submit_tool_outputs.tool_calls.0.function.name").String())
	id := gjson.GetBytes(first, "id").String()
	require.NotEmpty(t, id)

	submit := httptest.NewRequest(http.MethodPost, "/v1/responses/"+id+"/submit_tool_outputs",
		strings.NewReader(`{"tool_outputs":[{"tool_call_id":"c1","output":"{\"applied\":true}"}]}`))
	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, submit)

	require.Equal(t, http.StatusOK, w2.Code)
	body := w2.Body.String()
	require.Contains(t, body, `"type":"response.completed"`)
	require.Contains(t, body, "applied")
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
	require.EqualValues(t, 2, provider.sends.Load())

	// The pending conversation was consumed; a replay misses.
	w3 := httptest.NewRecorder()
	engine.ServeHTTP(w3, httptest.NewRequest(http.MethodPost, "/v1/responses/"+id+"/submit_tool_outputs",
		strings.NewReader(`{"tool_outputs":[{"tool_call_id":"c1","output":"{}"}]}`)))
	require.Equal(t, http.StatusBadRequest, w3.Code)
}

func TestHealthEndpoint(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedProvider{bodies: []string{"{}"}}, envelope.ProtocolOpenAIChat)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", gjson.GetBytes(w.Body.Bytes(), "status").String())
}

func TestAdminDisableAndRecover(t *testing.T) {
	provider := &scriptedProvider{bodies: []string{`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`}}
	engine, _ := newTestEngine(t, provider, envelope.ProtocolOpenAIChat)

	disable := httptest.NewRequest(http.MethodPost, "/admin/providers/disable",
		strings.NewReader(`{"providerKey":"openai.default.gpt-4","mode":"blacklist","durationMs":3600000}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, disable)
	require.Equal(t, http.StatusOK, w.Code)

	relay := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
			strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)))
		return w
	}

	require.Equal(t, http.StatusServiceUnavailable, relay().Code)

	recover := httptest.NewRequest(http.MethodPost, "/admin/providers/recover",
		strings.NewReader(`{"providerKey":"openai.default.gpt-4"}`))
	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, recover)
	require.Equal(t, http.StatusOK, w2.Code)

	require.Equal(t, http.StatusOK, relay().Code)
}

func TestAdminQuotaView(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedProvider{bodies: []string{"{}"}}, envelope.ProtocolOpenAIChat)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/quota", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", gjson.GetBytes(w.Body.Bytes(), "quota.openai\\.default\\.gpt-4.reason").String())
}
