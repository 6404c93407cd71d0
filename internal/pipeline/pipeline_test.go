package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/envelope"
)

func TestConvertInboundRejectsMalformedPayloadAsProtocolError(t *testing.T) {
	p := New(codec.NewRegistry())
	_, err := p.ConvertInbound(envelope.ProtocolOpenAIChat, envelope.ProtocolOpenAIChat, []byte("not json"))
	require.Error(t, err)
}

func TestConvertInboundThenOutboundRoundTripsThroughAnthropic(t *testing.T) {
	p := New(codec.NewRegistry())
	payload := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi there"}]}`)

	chat, err := p.ConvertInbound(envelope.ProtocolOpenAIChat, envelope.ProtocolAnthropic, payload)
	require.NoError(t, err)

	out, err := p.ConvertOutbound(envelope.ProtocolOpenAIChat, envelope.ProtocolAnthropic, chat)
	require.NoError(t, err)
	require.Contains(t, string(out), "hi there")
}

func TestPumpStreamConvertsFrameByFrameAndStopsAtDone(t *testing.T) {
	p := New(codec.NewRegistry())

	upstream := strings.NewReader(
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n",
	)

	var out strings.Builder
	flushed := 0
	err := p.PumpStream(envelope.ProtocolOpenAIChat, envelope.ProtocolOpenAIChat, upstream, &out, func() { flushed++ })
	require.NoError(t, err)
	require.Contains(t, out.String(), "hel")
	require.Contains(t, out.String(), "lo")
	require.Contains(t, out.String(), "[DONE]")
	require.Equal(t, 3, flushed)
}
