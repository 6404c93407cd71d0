package toolfilter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

func chatWithArgs(args string) *canonical.Chat {
	return &canonical.Chat{
		Messages: []canonical.Message{
			{
				Role:      canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: args}},
			},
		},
	}
}

func TestArgumentCoercionEmptyBecomesEmptyObject(t *testing.T) {
	chat := chatWithArgs("")
	require.NoError(t, ArgumentCoercion{}.Apply(chat, envelope.ProtocolOpenAIChat))
	require.Equal(t, "{}", chat.Messages[0].ToolCalls[0].Arguments)
}

func TestArgumentCoercionInvalidJSONFails(t *testing.T) {
	chat := chatWithArgs("{not json")
	err := ArgumentCoercion{}.Apply(chat, envelope.ProtocolOpenAIChat)
	require.Error(t, err)
	gwErr, ok := err.(*gwerrors.Error)
	require.True(t, ok)
	require.Equal(t, gwerrors.ToolPayloadInvalid, gwErr.Class)
}

func TestArgumentCoercionOpenAIPreservesBareArray(t *testing.T) {
	chat := chatWithArgs(`[1,2,3]`)
	require.NoError(t, ArgumentCoercion{}.Apply(chat, envelope.ProtocolOpenAIChat))
	require.Equal(t, `[1,2,3]`, chat.Messages[0].ToolCalls[0].Arguments)
}

func TestArgumentCoercionGeminiWrapsBareArray(t *testing.T) {
	chat := chatWithArgs(`[1,2,3]`)
	require.NoError(t, ArgumentCoercion{}.Apply(chat, envelope.ProtocolGemini))
	require.JSONEq(t, `{"items":[1,2,3]}`, chat.Messages[0].ToolCalls[0].Arguments)
}

func TestArgumentCoercionAnthropicWrapsBareArray(t *testing.T) {
	chat := chatWithArgs(`["a","b"]`)
	require.NoError(t, ArgumentCoercion{}.Apply(chat, envelope.ProtocolAnthropic))
	require.JSONEq(t, `{"items":["a","b"]}`, chat.Messages[0].ToolCalls[0].Arguments)
}

func TestArgumentCoercionObjectPassesThroughUnwrapped(t *testing.T) {
	chat := chatWithArgs(`{"city":"sf"}`)
	require.NoError(t, ArgumentCoercion{}.Apply(chat, envelope.ProtocolGemini))
	require.JSONEq(t, `{"city":"sf"}`, chat.Messages[0].ToolCalls[0].Arguments)
}

func TestOutboundChainCoercesThenValidatesPatch(t *testing.T) {
	chat := &canonical.Chat{
		Messages: []canonical.Message{
			{
				Role: canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{
					{ID: "call_1", Name: "apply_patch", Arguments: `{"patch":"*** Begin Patch\n*** Add File: a.txt\n+hi\n*** End Patch\n"}`},
				},
			},
		},
	}
	require.NoError(t, Outbound().Apply(chat, envelope.ProtocolOpenAIResponses))
}

func TestOutboundChainRejectsMalformedPatch(t *testing.T) {
	chat := &canonical.Chat{
		Messages: []canonical.Message{
			{
				Role: canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{
					{ID: "call_1", Name: "apply_patch", Arguments: `{"patch":"not a patch"}`},
				},
			},
		},
	}
	err := Outbound().Apply(chat, envelope.ProtocolOpenAIResponses)
	require.Error(t, err)
	require.Equal(t, gwerrors.ToolPayloadInvalid, err.(*gwerrors.Error).Class)
}
