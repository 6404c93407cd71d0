// Package executor performs single-attempt-per-target provider calls,
// cooperating with the router for failover and the quota daemon for
// pool-state bookkeeping, grounded in the teacher's relay/retry loop but
// generalized from HTTP-channel retry to target failover.
package executor

import (
	"context"
	"io"
	"time"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

// Config bounds one request's failover loop.
type Config struct {
	// MaxAttempts bounds how many distinct targets are tried in total.
	// Zero means unbounded (limited only by target exhaustion).
	MaxAttempts int
	// UnaryTimeout is the per-attempt outbound deadline for a non-streaming call.
	UnaryTimeout time.Duration
	// IdleTimeout is the maximum gap between stream frames before the
	// stream is cancelled with UpstreamIdleTimeout.
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UnaryTimeout <= 0 {
		c.UnaryTimeout = 120 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	return c
}

// EventSink is the executor's dependency on the quota daemon, narrowed to
// the two event-reporting methods so tests can fake it without a real Daemon.
type EventSink interface {
	HandleError(evt quota.ErrorEvent, nowMs int64)
	HandleSuccess(evt quota.SuccessEvent, nowMs int64)
}

// Executor ties routing, provider calls, and quota reporting together for
// one request at a time; it holds no per-request mutable state of its own,
// so one Executor value is safe to reuse concurrently across requests.
type Executor struct {
	Router   *router.Router
	Quota    EventSink
	Pipeline *pipeline.Pipeline
	Provider Provider
	Cfg      Config
	Now      func() int64 // nowMs source; defaults to time.Now if nil
}

func (e *Executor) nowMs() int64 {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UnixMilli()
}

// Result is what a completed (possibly multi-attempt) execution returns.
type Result struct {
	Decision router.Decision
	Body     []byte
	Stream   io.ReadCloser
}

// Execute performs the unary failover loop: route, build the outbound
// payload for the chosen target, send, and on a retryable failure ask the
// router for the next target in the same route, excluding every target
// already tried. It stops and returns the last error when the error class
// is not retryable, no target remains, or MaxAttempts is reached.
func (e *Executor) Execute(ctx context.Context, entryProtocol envelope.Protocol, chat *canonical.Chat) (*Result, error) {
	cfg := e.Cfg.withDefaults()
	excluded := map[router.ProviderKey]bool{}

	decision, err := e.Router.Route(chat, e.nowMs())
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		result, attemptErr := e.attemptUnary(ctx, cfg, entryProtocol, chat, decision)
		if attemptErr == nil {
			e.Quota.HandleSuccess(quota.SuccessEvent{ProviderKey: decision.ProviderKey, AtMs: e.nowMs()}, e.nowMs())
			e.Router.ReportSuccess(decision.ProviderKey)
			return result, nil
		}

		gwErr := asGatewayError(attemptErr)
		e.reportFailure(chat, decision, gwErr)

		if !gwerrors.IsRetryableClass(gwErr.Class) {
			return nil, gwErr
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, gwErr
		}

		excluded[decision.ProviderKey] = true
		next, routeErr := e.Router.RouteNext(chat, e.nowMs(), excluded)
		if routeErr != nil {
			return nil, gwErr
		}
		decision = next
	}
}

func (e *Executor) attemptUnary(ctx context.Context, cfg Config, entryProtocol envelope.Protocol, chat *canonical.Chat, decision router.Decision) (*Result, error) {
	payload, err := e.Pipeline.ConvertOutbound(entryProtocol, decision.Target.OutboundProfile, chat)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cfg.UnaryTimeout)
	defer cancel()

	attempt, err := e.Provider.Send(attemptCtx, decision.Target, payload, false)
	if err != nil {
		return nil, err
	}

	converted, err := e.Pipeline.ConvertResponse(entryProtocol, decision.Target.OutboundProfile, attempt.Body)
	if err != nil {
		return nil, err
	}

	return &Result{Decision: decision, Body: converted}, nil
}

// ExecuteStream resolves a target and starts its stream. Per the
// specification, once the provider begins emitting frames no failover is
// attempted: a failure that happens before the stream starts retries the
// same failover loop as Execute, but a failure after Attempt.Stream is
// handed back is the caller's responsibility to surface as a terminal
// frame, not retried here.
func (e *Executor) ExecuteStream(ctx context.Context, entryProtocol envelope.Protocol, chat *canonical.Chat) (*Result, error) {
	cfg := e.Cfg.withDefaults()
	excluded := map[router.ProviderKey]bool{}

	decision, err := e.Router.Route(chat, e.nowMs())
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		result, attemptErr := e.attemptStream(ctx, cfg, entryProtocol, chat, decision)
		if attemptErr == nil {
			return result, nil
		}

		gwErr := asGatewayError(attemptErr)
		e.reportFailure(chat, decision, gwErr)

		if !gwerrors.IsRetryableClass(gwErr.Class) {
			return nil, gwErr
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, gwErr
		}

		excluded[decision.ProviderKey] = true
		next, routeErr := e.Router.RouteNext(chat, e.nowMs(), excluded)
		if routeErr != nil {
			return nil, gwErr
		}
		decision = next
	}
}

func (e *Executor) attemptStream(ctx context.Context, cfg Config, entryProtocol envelope.Protocol, chat *canonical.Chat, decision router.Decision) (*Result, error) {
	payload, err := e.Pipeline.ConvertOutbound(entryProtocol, decision.Target.OutboundProfile, chat)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	attempt, err := e.Provider.Send(streamCtx, decision.Target, payload, true)
	if err != nil {
		cancel()
		return nil, err
	}

	wrapped := newIdleTimeoutReader(streamCtx, cancel, attempt.Stream, cfg.IdleTimeout)
	e.Quota.HandleSuccess(quota.SuccessEvent{ProviderKey: decision.ProviderKey, AtMs: e.nowMs()}, e.nowMs())
	e.Router.ReportSuccess(decision.ProviderKey)
	return &Result{Decision: decision, Stream: wrapped}, nil
}

// reportFailure publishes a ProviderErrorEvent-equivalent to the quota
// daemon and tells the router to penalize the target and clear any
// sticky binding pinned to it.
func (e *Executor) reportFailure(chat *canonical.Chat, decision router.Decision, gwErr *gwerrors.Error) {
	now := e.nowMs()
	if gwerrors.CountsAgainstErrorSeries(gwErr.Class) {
		cooldownMs := int64(gwErr.RetryAfterSeconds) * 1000
		if cooldownMs == 0 {
			switch gwErr.Class {
			case gwerrors.UpstreamQuota, gwerrors.UpstreamCapacity:
				cooldownMs = int64(config.CooldownFor429Sec) * 1000
			case gwerrors.UpstreamAuth:
				cooldownMs = int64(config.CooldownForAuthSec) * 1000
			}
		}
		e.Quota.HandleError(quota.ErrorEvent{
			ProviderKey:     decision.ProviderKey,
			Class:           gwErr.Class,
			Signal:          signalForClass(gwErr),
			CooldownMs:      cooldownMs,
			Code:            gwErr.Code,
			Message:         gwErr.Message,
			VerificationURL: gwErr.VerificationURL,
		}, now)
	}
	e.Router.ReportError(chat.Metadata.SessionID, decision.ProviderKey)
}

func signalForClass(gwErr *gwerrors.Error) quota.Signal {
	if gwErr.VerificationURL != "" {
		return quota.SignalVerificationRequired
	}
	switch gwErr.Class {
	case gwerrors.UpstreamQuota:
		return quota.SignalHTTPQuota
	case gwerrors.UpstreamCapacity:
		return quota.SignalHTTPCooldown
	case gwerrors.UpstreamAuth:
		return quota.SignalAuthFailure
	default:
		return quota.SignalGenericError
	}
}

// asGatewayError normalizes any error into *gwerrors.Error so the failover
// loop always has a Class to branch on; an error that did not originate
// from a classified stage is treated as an internal conversion error since
// it means a bug rather than an upstream condition.
func asGatewayError(err error) *gwerrors.Error {
	if gwErr, ok := err.(*gwerrors.Error); ok {
		return gwErr
	}
	return gwerrors.New(gwerrors.InternalConversionError, "unclassified executor failure", err)
}
