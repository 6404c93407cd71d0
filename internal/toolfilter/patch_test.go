package toolfilter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

func patchArgs(t *testing.T, patch string) string {
	t.Helper()
	b, err := json.Marshal(map[string]string{"patch": patch})
	require.NoError(t, err)
	return string(b)
}

func chatWithPatch(t *testing.T, patch string) *canonical.Chat {
	return &canonical.Chat{
		Messages: []canonical.Message{
			{
				Role:      canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{{ID: "call_1", Name: "apply_patch", Arguments: patchArgs(t, patch)}},
			},
		},
	}
}

func TestValidatePatchAcceptsWellFormedAddFile(t *testing.T) {
	patch := "*** Begin Patch\n*** Add File: a.txt\n@@\n+hello\n*** End Patch\n"
	require.NoError(t, ValidatePatch(patch))
}

func TestValidatePatchRejectsMissingBeginMarker(t *testing.T) {
	patch := "*** Add File: a.txt\n@@\n+hello\n*** End Patch\n"
	err := ValidatePatch(patch)
	require.Error(t, err)
	require.Equal(t, gwerrors.ToolPayloadInvalid, err.(*gwerrors.Error).Class)
}

func TestValidatePatchRejectsMissingEndMarker(t *testing.T) {
	patch := "*** Begin Patch\n*** Add File: a.txt\n@@\n+hello\n"
	require.Error(t, ValidatePatch(patch))
}

func TestValidatePatchRejectsHunkLineWithoutPrefix(t *testing.T) {
	patch := "*** Begin Patch\n*** Update File: a.txt\n@@\nhello\n*** End Patch\n"
	require.Error(t, ValidatePatch(patch))
}

func TestValidatePatchRejectsHunkBeforeFileSection(t *testing.T) {
	patch := "*** Begin Patch\n@@\n+hello\n*** End Patch\n"
	require.Error(t, ValidatePatch(patch))
}

func TestValidatePatchAcceptsChangeLineWithoutExplicitHunkMarker(t *testing.T) {
	patch := "*** Begin Patch\n*** Add File: a.txt\n+hello\n*** End Patch\n"
	require.NoError(t, ValidatePatch(patch))
}

func TestValidatePatchAcceptsDeleteFileWithNoHunk(t *testing.T) {
	patch := "*** Begin Patch\n*** Delete File: old.txt\n*** End Patch\n"
	require.NoError(t, ValidatePatch(patch))
}

func TestValidatePatchAcceptsEndOfFileMarker(t *testing.T) {
	patch := "*** Begin Patch\n*** Update File: a.txt\n@@\n-old\n+new\n*** End of File\n*** End Patch\n"
	require.NoError(t, ValidatePatch(patch))
}

func TestPatchValidatorFilterRejectsInvalidPatchToolCall(t *testing.T) {
	chat := chatWithPatch(t, "not a patch at all")
	err := PatchValidator{}.Apply(chat, envelope.ProtocolOpenAIResponses)
	require.Error(t, err)
	require.Equal(t, gwerrors.ToolPayloadInvalid, err.(*gwerrors.Error).Class)
}

func TestPatchValidatorFilterIgnoresOtherToolCalls(t *testing.T) {
	chat := &canonical.Chat{
		Messages: []canonical.Message{
			{
				Role:      canonical.RoleAssistant,
				ToolCalls: []canonical.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"sf"}`}},
			},
		},
	}
	require.NoError(t, PatchValidator{}.Apply(chat, envelope.ProtocolOpenAIResponses))
}
