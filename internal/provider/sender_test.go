package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/router"
)

func targetFor(url string) router.Target {
	return router.Target{
		ProviderKey:     router.ProviderKey("openai.default.gpt-4o"),
		OutboundProfile: envelope.ProtocolOpenAIChat,
		Endpoint:        url,
		AuthRef:         "apikey:sk-test",
	}
}

func TestSenderUnarySuccessReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewSender(Config{})
	attempt, err := s.Send(context.Background(), targetFor(srv.URL), []byte(`{}`), false)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(attempt.Body))
}

func TestSenderStreamingReturnsLiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: hello\n\n"))
	}))
	defer srv.Close()

	s := NewSender(Config{})
	attempt, err := s.Send(context.Background(), targetFor(srv.URL), []byte(`{}`), true)
	require.NoError(t, err)
	require.NotNil(t, attempt.Stream)
	body, err := io.ReadAll(attempt.Stream)
	require.NoError(t, err)
	require.Contains(t, string(body), "hello")
}

func TestSenderNonOKStatusClassifiesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	s := NewSender(Config{})
	_, err := s.Send(context.Background(), targetFor(srv.URL), []byte(`{}`), false)
	require.Error(t, err)
	gwErr, ok := err.(*gwerrors.Error)
	require.True(t, ok)
	require.Equal(t, gwerrors.UpstreamCapacity, gwErr.Class)
	require.Equal(t, "openai.default.gpt-4o", gwErr.Target)
}

func TestSenderInvalidAuthRefIsInternalConversionError(t *testing.T) {
	s := NewSender(Config{})
	target := targetFor("http://example.invalid")
	target.AuthRef = "nonsense"

	_, err := s.Send(context.Background(), target, []byte(`{}`), false)
	require.Error(t, err)
	gwErr, ok := err.(*gwerrors.Error)
	require.True(t, ok)
	require.Equal(t, gwerrors.InternalConversionError, gwErr.Class)
}
