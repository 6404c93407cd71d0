package gwerrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCodeByClass(t *testing.T) {
	cases := map[Class]int{
		ProtocolError:           http.StatusBadRequest,
		RouteUnavailable:        http.StatusServiceUnavailable,
		NoAvailableProvider:     http.StatusServiceUnavailable,
		UpstreamQuota:           http.StatusTooManyRequests,
		UpstreamCapacity:        http.StatusTooManyRequests,
		UpstreamIdleTimeout:     http.StatusGatewayTimeout,
		ToolPayloadInvalid:      http.StatusUnprocessableEntity,
		InternalConversionError: http.StatusInternalServerError,
	}

	for class, want := range cases {
		e := New(class, "boom", nil)
		require.Equal(t, want, e.StatusCode(), "class %s", class)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := New(UpstreamTransient, "upstream call failed", cause)
	require.ErrorIs(t, e, e)
	require.Contains(t, e.Error(), "upstream call failed")
	require.Contains(t, e.Error(), "dial tcp: timeout")
}

func TestWithHelpersAreImmutable(t *testing.T) {
	base := New(UpstreamQuota, "quota depleted", nil)
	withTarget := base.WithTarget("openai.default.gpt-4o")
	withRetry := withTarget.WithRetryAfter(30)

	require.Empty(t, base.Target)
	require.Equal(t, "openai.default.gpt-4o", withTarget.Target)
	require.Equal(t, 0, withTarget.RetryAfterSeconds)
	require.Equal(t, 30, withRetry.RetryAfterSeconds)
	require.Equal(t, "openai.default.gpt-4o", withRetry.Target)
}

func TestIsRetryableClass(t *testing.T) {
	require.True(t, IsRetryableClass(UpstreamQuota))
	require.True(t, IsRetryableClass(UpstreamTransient))
	require.False(t, IsRetryableClass(ProtocolError))
	require.False(t, IsRetryableClass(Cancelled))
}

func TestCountsAgainstErrorSeries(t *testing.T) {
	require.True(t, CountsAgainstErrorSeries(UpstreamTransient))
	require.False(t, CountsAgainstErrorSeries(Cancelled))
	require.False(t, CountsAgainstErrorSeries(ProtocolError))
	require.False(t, CountsAgainstErrorSeries(ToolPayloadInvalid))
}
