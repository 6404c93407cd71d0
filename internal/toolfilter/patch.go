package toolfilter

import (
	"encoding/json"
	"strings"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

const (
	patchBeginMarker = "*** Begin Patch"
	patchEndMarker   = "*** End Patch"
	endOfFileMarker  = "*** End of File"
)

var fileSectionPrefixes = []string{
	"*** Add File: ",
	"*** Delete File: ",
	"*** Update File: ",
}

// PatchValidator is the outbound Filter that structurally validates every
// apply_patch tool call's "patch" argument before it is sent upstream,
// grounded on the same shape-only validation discipline as
// relay/model/tool_validation_test.go (reject malformed shape, never
// rewrite the caller's intent).
type PatchValidator struct{}

// Apply inspects every ToolCall named "apply_patch" and validates its
// "patch" string argument, failing the whole request with ToolPayloadInvalid
// if any one of them is malformed.
func (PatchValidator) Apply(chat *canonical.Chat, protocol envelope.Protocol) error {
	for _, msg := range chat.Messages {
		for _, call := range msg.ToolCalls {
			if call.Name != "apply_patch" {
				continue
			}
			patch, err := extractPatchBody(call.Arguments)
			if err != nil {
				return err
			}
			if err := ValidatePatch(patch); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractPatchBody(arguments string) (string, error) {
	var parsed struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		return "", gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch arguments are not valid JSON", err)
	}
	if parsed.Patch == "" {
		return "", gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch arguments missing patch field", nil)
	}
	return parsed.Patch, nil
}

// ValidatePatch checks the structural shape described in spec section 6:
// a Begin/End Patch envelope, one or more Add/Delete/Update File sections,
// and @@-delimited hunks whose change lines are prefixed space/+/-.
func ValidatePatch(body string) error {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) < 2 {
		return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch body too short", nil)
	}
	if strings.TrimSpace(lines[0]) != patchBeginMarker {
		return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch body missing Begin Patch header", nil)
	}
	if strings.TrimSpace(lines[len(lines)-1]) != patchEndMarker {
		return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch body missing End Patch footer", nil)
	}

	// @@ hunk markers are optional for a single-hunk file section; once a file
	// section has started, any space/+/- prefixed line is a valid change line
	// whether or not it follows an explicit @@.
	sawFileSection := false
	for _, line := range lines[1 : len(lines)-1] {
		switch {
		case isFileSectionHeader(line):
			sawFileSection = true
		case strings.HasPrefix(line, "*** Move to: "):
			// only valid immediately after an Update File header; not re-checked
			// structurally beyond presence, since the spec leaves move-target
			// validation to the tool executor, not the gateway.
		case strings.TrimSpace(line) == endOfFileMarker:
		case strings.HasPrefix(line, "@@"):
			if !sawFileSection {
				return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch hunk precedes any file section", nil)
			}
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-"):
			if !sawFileSection {
				return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch change line precedes any file section", nil)
			}
		default:
			return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch body contains an unrecognized line", nil)
		}
	}
	if !sawFileSection {
		return gwerrors.New(gwerrors.ToolPayloadInvalid, "apply_patch body has no file section", nil)
	}
	return nil
}

func isFileSectionHeader(line string) bool {
	for _, prefix := range fileSectionPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
