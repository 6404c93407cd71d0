package provider

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/routecodex/routecodex/internal/gwerrors"
)

const iFlowBlockedMessage = "access to the current ak has been blocked"

var (
	// Any unit may be absent ("reset after 1h30m", "reset after 45m").
	resetAfterPattern         = regexp.MustCompile(`reset after\s*(?:(\d+)h)?\s*(?:(\d+)m)?\s*(?:(\d+)s)?`)
	googleVerificationPattern = regexp.MustCompile(`https://accounts\.google\.com/[^\s"'\\]+`)
)

const maxClassifiedBodyBytes = 16 * 1024

// classifyResponse turns an upstream HTTP status and body into the
// gateway's fixed error taxonomy, applying the specification's
// vendor-specific overrides before falling back to a status-family
// default. A nil return means the status was not an error.
func classifyResponse(status int, body []byte) *gwerrors.Error {
	if status < 300 {
		return nil
	}

	message := extractMessage(body)
	lower := strings.ToLower(message)

	switch {
	case status == 434 && strings.Contains(lower, iFlowBlockedMessage):
		return gwerrors.New(gwerrors.UpstreamAuth, message, nil).WithCode("iflow_blocked")

	case status == http.StatusTooManyRequests:
		if ttl, ok := parseQuotaResetTTL(body, message); ok {
			return gwerrors.New(gwerrors.UpstreamQuota, message, nil).WithRetryAfter(ttl)
		}
		return gwerrors.New(gwerrors.UpstreamCapacity, message, nil)

	case status == http.StatusForbidden:
		if url := googleVerificationPattern.FindString(message); url != "" {
			return gwerrors.New(gwerrors.UpstreamAuth, message, nil).
				WithCode("verification_required").
				WithVerificationURL(url)
		}
		return gwerrors.New(gwerrors.UpstreamAuth, message, nil)

	case status == http.StatusUnauthorized, status == http.StatusPaymentRequired:
		return gwerrors.New(gwerrors.UpstreamAuth, message, nil)

	case status == http.StatusBadRequest:
		return gwerrors.New(gwerrors.ProtocolError, message, nil)

	case status == http.StatusUnprocessableEntity:
		return gwerrors.New(gwerrors.ToolPayloadInvalid, message, nil)

	case status == http.StatusGatewayTimeout:
		return gwerrors.New(gwerrors.UpstreamIdleTimeout, message, nil)

	case status >= 500:
		return gwerrors.New(gwerrors.UpstreamTransient, message, nil)

	default:
		return gwerrors.New(gwerrors.UpstreamTransient, message, nil)
	}
}

// extractMessage pulls a human-readable message out of a provider error
// body, trying the common "error.message"/"message"/"error" string shapes
// before falling back to the raw (size-capped) body text.
func extractMessage(body []byte) string {
	if len(body) > maxClassifiedBodyBytes {
		body = body[:maxClassifiedBodyBytes]
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "upstream error"
	}
	return trimmed
}

// parseQuotaResetTTL looks for a quotaResetDelay field (milliseconds, as a
// number or a numeric string) and falls back to the "reset after Xh Ym Zs"
// phrasing some providers embed directly in the error message.
func parseQuotaResetTTL(body []byte, message string) (int, bool) {
	if v := gjson.GetBytes(body, "quotaResetDelay"); v.Exists() {
		switch v.Type {
		case gjson.Number:
			return int(v.Num / 1000), true
		case gjson.String:
			if ms, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
				return int(ms / 1000), true
			}
			if d, err := time.ParseDuration(v.String()); err == nil {
				return int(d / time.Second), true
			}
		}
	}

	if m := resetAfterPattern.FindStringSubmatch(strings.ToLower(message)); m != nil && (m[1] != "" || m[2] != "" || m[3] != "") {
		h, _ := strconv.Atoi(m[1])
		mnt, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		return h*3600 + mnt*60 + s, true
	}

	return 0, false
}
