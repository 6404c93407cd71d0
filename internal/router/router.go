package router

import (
	"sync"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

// RouteTable is the static routing configuration: named routes plus the
// resolved Target for every ProviderKey any route references.
type RouteTable struct {
	Routes  map[string]Route
	Targets map[ProviderKey]Target
}

// Router ties classification, tier/target selection, and sticky-session
// binding together behind a single Route call. It holds no provider
// readiness state of its own beyond the injected QuotaView; QuotaState
// remains owned exclusively by the quota daemon.
type Router struct {
	mu         sync.RWMutex
	table      RouteTable
	classifier ClassifierConfig
	quota      QuotaView
	selector   *Selector
	sticky     *StickyTable
}

// New builds a Router over a static route table and a live QuotaView.
func New(table RouteTable, quota QuotaView, classifier ClassifierConfig, stickyCapacity int) *Router {
	return &Router{
		table:      table,
		classifier: classifier,
		quota:      quota,
		selector:   NewSelector(),
		sticky:     NewStickyTable(stickyCapacity),
	}
}

// Table returns the current static routing configuration, for the admin
// read surface.
func (r *Router) Table() RouteTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// SetErrorPriorityWindow overrides how long a target's recent error series
// keeps penalizing its selection order; zero restores the default.
func (r *Router) SetErrorPriorityWindow(ms int64) {
	r.selector.ErrorPriorityWindowMs = ms
}

// SetRouteTable swaps the static routing configuration, e.g. on a config
// reload. Existing sticky bindings and selection penalties are preserved
// even if they reference a ProviderKey dropped from the new table; Route
// ignores a sticky binding whose key has no Target in the current table
// and selects afresh, and Select skips a tier whose chosen key has no
// Target.
func (r *Router) SetRouteTable(table RouteTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
}

// Route classifies chat, consults the sticky binding for its session (if
// any), and otherwise selects a target from the classified route's tiers.
// A successful fresh selection is recorded as the session's new sticky
// binding.
func (r *Router) Route(chat *canonical.Chat, nowMs int64) (Decision, error) {
	return r.route(chat, nowMs, nil)
}

// RouteNext reselects within the same classified route, excluding targets
// the caller (the executor) already attempted. It does not consult or
// update the sticky binding: a mid-request failover must not disturb the
// session's steady-state stickiness, only the caller's local retry loop.
func (r *Router) RouteNext(chat *canonical.Chat, nowMs int64, excluded map[ProviderKey]bool) (Decision, error) {
	r.mu.RLock()
	table := r.table
	r.mu.RUnlock()

	classification := Classify(chat, r.classifier)
	if classification.ForcedProviderKey != "" {
		return Decision{}, gwerrors.New(gwerrors.NoAvailableProvider, "forced provider directive target failed, no alternative target exists", nil)
	}

	route, ok := table.Routes[classification.RouteName]
	if !ok {
		route, ok = table.Routes[RouteDefault]
		if !ok {
			return Decision{}, gwerrors.New(gwerrors.NoAvailableProvider, "no route configured for "+classification.RouteName+" and no default route", nil)
		}
	}

	return r.selector.Select(route, table.Targets, r.quota, nowMs, excluded)
}

func (r *Router) route(chat *canonical.Chat, nowMs int64, excluded map[ProviderKey]bool) (Decision, error) {
	r.mu.RLock()
	table := r.table
	r.mu.RUnlock()

	sessionID := chat.Metadata.SessionID

	if sessionID != "" && len(excluded) == 0 {
		if decision, ok := r.sticky.Lookup(sessionID, r.quota, nowMs); ok {
			if _, known := table.Targets[decision.ProviderKey]; known {
				return decision, nil
			}
		}
	}

	classification := Classify(chat, r.classifier)

	if classification.ForcedProviderKey != "" {
		target, ok := table.Targets[classification.ForcedProviderKey]
		if !ok {
			return Decision{}, gwerrors.New(gwerrors.ProtocolError, "forced provider directive names an unknown target", nil)
		}
		view, found := r.quota.View(classification.ForcedProviderKey)
		if !found || !view.Ready(nowMs) {
			return Decision{}, gwerrors.New(gwerrors.NoAvailableProvider, "forced provider directive target is not ready", nil)
		}
		decision := Decision{
			RouteName:   "forced",
			ProviderKey: classification.ForcedProviderKey,
			Target:      target,
		}
		if sessionID != "" {
			r.sticky.Bind(sessionID, decision)
		}
		return decision, nil
	}

	route, ok := table.Routes[classification.RouteName]
	if !ok {
		route, ok = table.Routes[RouteDefault]
		if !ok {
			return Decision{}, gwerrors.New(gwerrors.NoAvailableProvider, "no route configured for "+classification.RouteName+" and no default route", nil)
		}
	}

	decision, err := r.selector.Select(route, table.Targets, r.quota, nowMs, excluded)
	if err != nil {
		return Decision{}, err
	}

	if sessionID != "" {
		r.sticky.Bind(sessionID, decision)
	}
	return decision, nil
}

// ReportError records a failed attempt against a target: it bumps the
// local selection penalty and, if the target was a session's sticky
// binding, clears that binding so the next Route call reselects.
func (r *Router) ReportError(sessionID string, key ProviderKey) {
	r.selector.RecordError(key)
	if sessionID != "" {
		r.sticky.Clear(sessionID)
	}
}

// ReportSuccess clears the accumulated selection penalty for a target.
func (r *Router) ReportSuccess(key ProviderKey) {
	r.selector.RecordSuccess(key)
}
