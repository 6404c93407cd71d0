package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/routecodex/routecodex/internal/envelope"
)

func TestRegistryRegistersEveryEntryTargetPair(t *testing.T) {
	r := NewRegistry()
	for _, e := range entryProtocols {
		for _, target := range targetProtocols {
			c, ok := r.Get(e, target)
			require.True(t, ok, "missing codec for %s -> %s", e, target)
			require.NotNil(t, c.Entry)
			require.NotNil(t, c.Target)
		}
	}
}

func TestRegistryUnknownPair(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(envelope.Protocol("nonexistent"), envelope.ProtocolOpenAIChat)
	require.False(t, ok)
}

func TestOpenAIChatRequestRoundTripsThroughCanonical(t *testing.T) {
	r := NewRegistry()
	c, ok := r.Get(envelope.ProtocolOpenAIChat, envelope.ProtocolAnthropic)
	require.True(t, ok)

	in := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	chat, err := c.ConvertInbound(in)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	require.Equal(t, "hello", *chat.Messages[0].Content)

	out, err := c.ConvertOutbound(chat)
	require.NoError(t, err)
	require.Contains(t, string(out), `"role":"user"`)
	require.Contains(t, string(out), `"text":"hello"`)
}

func TestToolCallArgumentsSurviveOpenAIToGeminiConversion(t *testing.T) {
	r := NewRegistry()
	c, ok := r.Get(envelope.ProtocolOpenAIChat, envelope.ProtocolGemini)
	require.True(t, ok)

	in := []byte(`{"model":"x","messages":[{"role":"assistant","content":null,"tool_calls":[{"id":"1","type":"function","function":{"name":"search","arguments":"[\"a\",\"b\"]"}}]}]}`)
	chat, err := c.ConvertInbound(in)
	require.NoError(t, err)
	require.Len(t, chat.Messages[0].ToolCalls, 1)
	require.Nil(t, chat.Messages[0].Content)

	out, err := c.ConvertOutbound(chat)
	require.NoError(t, err)
	require.Contains(t, string(out), `"items":["a","b"]`)
}

func TestGeminiOutboundUsesCloudCodeEnvelope(t *testing.T) {
	r := NewRegistry()
	c, ok := r.Get(envelope.ProtocolAnthropic, envelope.ProtocolGemini)
	require.True(t, ok)

	in := []byte(`{"model":"claude","max_tokens":64,"messages":[{"role":"user","content":[{"type":"text","text":"weather?"}]}],"tools":[{"name":"get_weather","input_schema":{"type":"object"}}]}`)
	chat, err := c.ConvertInbound(in)
	require.NoError(t, err)
	chat.Metadata.RequestID = "req-123"

	out, err := c.ConvertOutbound(chat)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &top))
	for key := range top {
		require.Contains(t, []string{"project", "requestId", "request", "model", "userAgent", "requestType"}, key)
	}
	for _, forbidden := range []string{"contents", "systemInstruction", "tools", "toolConfig", "generationConfig", "safetySettings"} {
		require.NotContains(t, top, forbidden)
	}
	require.Equal(t, "req-123", gjson.GetBytes(out, "requestId").String())
	require.Equal(t, "claude", gjson.GetBytes(out, "model").String())
	require.Equal(t, "get_weather", gjson.GetBytes(out, "request.tools.0.functionDeclarations.0.name").String())
	require.True(t, gjson.GetBytes(out, "request.contents").Exists())
	for _, forbidden := range []string{"metadata", "action", "web_search", "stream", "sessionId"} {
		require.False(t, gjson.GetBytes(out, "request."+forbidden).Exists(), "request.%s must not be set", forbidden)
	}
}

func TestExplicitEmptyToolsFieldSurvivesRoundTrip(t *testing.T) {
	r := NewRegistry()
	c, ok := r.Get(envelope.ProtocolOpenAIChat, envelope.ProtocolAnthropic)
	require.True(t, ok)

	withEmpty := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"tools":[]}`)
	chat, err := c.ConvertInbound(withEmpty)
	require.NoError(t, err)
	require.True(t, chat.Metadata.ToolsPresent)
	require.Empty(t, chat.ToolDefinitions)

	out, err := c.ConvertOutbound(chat)
	require.NoError(t, err)
	require.Contains(t, string(out), `"tools":[]`)

	without := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	chat, err = c.ConvertInbound(without)
	require.NoError(t, err)
	require.False(t, chat.Metadata.ToolsPresent)

	out, err = c.ConvertOutbound(chat)
	require.NoError(t, err)
	require.NotContains(t, string(out), `"tools"`)
}
