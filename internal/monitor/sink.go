package monitor

import (
	"github.com/routecodex/routecodex/internal/quota"
)

// EventSink mirrors the executor's quota-event dependency so Sink can wrap
// the daemon without importing the executor package.
type EventSink interface {
	HandleError(evt quota.ErrorEvent, nowMs int64)
	HandleSuccess(evt quota.SuccessEvent, nowMs int64)
}

// Sink tees the executor's quota events into the success-rate monitor on
// their way to the daemon, so every attempt feeds both the per-event
// status rules and the rolling window.
type Sink struct {
	Next    EventSink
	Monitor *Monitor
}

func (s Sink) HandleError(evt quota.ErrorEvent, nowMs int64) {
	s.Next.HandleError(evt, nowMs)
	if s.Monitor != nil {
		s.Monitor.Emit(evt.ProviderKey, false, nowMs)
	}
}

func (s Sink) HandleSuccess(evt quota.SuccessEvent, nowMs int64) {
	s.Next.HandleSuccess(evt, nowMs)
	if s.Monitor != nil {
		s.Monitor.Emit(evt.ProviderKey, true, nowMs)
	}
}
