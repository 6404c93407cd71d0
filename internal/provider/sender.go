// Package provider implements the provider adapter layer: one HTTP sender
// shared by every target, parameterized per call by router.Target rather
// than by a per-vendor struct, since every vendor in this gateway's scope
// speaks plain JSON-over-HTTPS once auth injection and error
// classification are factored out. Grounded in the teacher's
// relay/adaptor.DoRequestHelper/SetupCommonRequestHeader shape, generalized
// from its per-channel Adaptor interface to a single data-driven sender.
package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/router"
)

const maxErrorBodyBytes = 64 * 1024

// Config parameterizes the sender's HTTP transport and outbound shaping.
type Config struct {
	// RequestTimeout bounds the http.Client itself; the executor also
	// applies its own per-attempt deadline via context, so this is a
	// backstop rather than the primary timeout.
	RequestTimeout time.Duration
	// RateLimitRPS/RateLimitBurst configure per-target outbound shaping;
	// RateLimitRPS<=0 disables shaping entirely.
	RateLimitRPS   float64
	RateLimitBurst int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 150 * time.Second
	}
	return c
}

// ConfigFromEnv builds a Config from the ambient common/config knobs.
func ConfigFromEnv() Config {
	return Config{
		RateLimitRPS:   config.ProviderRateLimitRPS,
		RateLimitBurst: config.ProviderRateLimitBurst,
	}
}

// Sender is the gateway's sole implementation of executor.Provider: it
// injects auth, sends one HTTP request per call, and classifies a non-2xx
// response into the gateway's error taxonomy. One Sender is shared across
// every target and every concurrent request.
type Sender struct {
	HTTPClient *http.Client
	limiters   *limiterRegistry
}

// NewSender builds a Sender ready to serve executor.Provider.
func NewSender(cfg Config) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiters:   newLimiterRegistry(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
}

// Send implements executor.Provider: it resolves the target's auth, builds
// and sends one HTTP POST, and either hands back the unary body or, for a
// streaming call, the live response body as a lazy frame source. On a
// non-2xx response, the body is read, classified, and Body.Close()d here
// since it will never be returned to the caller.
func (s *Sender) Send(ctx context.Context, target router.Target, payload []byte, stream bool) (executor.Attempt, error) {
	if l := s.limiters.get(target.ProviderKey); l != nil {
		if err := l.Wait(ctx); err != nil {
			return executor.Attempt{}, gwerrors.New(gwerrors.Cancelled, "rate limiter wait cancelled", err)
		}
	}

	spec, err := ParseAuthRef(target.AuthRef)
	if err != nil {
		return executor.Attempt{}, gwerrors.New(gwerrors.InternalConversionError, "invalid auth ref for target", err).WithTarget(string(target.ProviderKey))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return executor.Attempt{}, gwerrors.New(gwerrors.InternalConversionError, "failed to build upstream request", err).WithTarget(string(target.ProviderKey))
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	injected, err := spec.Inject(req, payload)
	if err != nil {
		if gwErr, ok := err.(*gwerrors.Error); ok {
			return executor.Attempt{}, gwErr.WithTarget(string(target.ProviderKey))
		}
		return executor.Attempt{}, err
	}
	if !bytes.Equal(injected, payload) {
		req.Body = io.NopCloser(bytes.NewReader(injected))
		req.ContentLength = int64(len(injected))
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Attempt{}, gwerrors.New(gwerrors.Cancelled, "upstream request cancelled", err).WithTarget(string(target.ProviderKey))
		}
		return executor.Attempt{}, gwerrors.New(gwerrors.UpstreamTransient, "upstream request failed", err).WithTarget(string(target.ProviderKey))
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return executor.Attempt{}, classifyResponse(resp.StatusCode, errBody).WithTarget(string(target.ProviderKey))
	}

	if stream {
		return executor.Attempt{Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Attempt{}, gwerrors.New(gwerrors.UpstreamTransient, "failed to read upstream response body", err).WithTarget(string(target.ProviderKey))
	}
	return executor.Attempt{Body: body}, nil
}
