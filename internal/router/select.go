package router

import (
	"sort"
	"sync"

	"github.com/routecodex/routecodex/internal/gwerrors"
)

// Selector holds the router-local mutable selection state: the
// round-robin cursor per tier and the selection penalty per target. Both
// are advisory and local to one router instance; the quota daemon's
// QuotaState remains the only authoritative readiness signal.
type Selector struct {
	mu        sync.Mutex
	cursors   map[string]int
	penalties map[ProviderKey]int

	// ErrorPriorityWindowMs bounds how long a target's recent error series
	// (from the quota view) counts against its selection order; outside the
	// window that component of the penalty is zero. Zero means the
	// ten-minute default.
	ErrorPriorityWindowMs int64
}

// penaltyCap bounds the view-derived penalty component so one flapping
// target cannot dominate ordering forever.
const penaltyCap = 5

const defaultErrorPriorityWindowMs = 10 * 60 * 1000

// viewPenalty derives the quota-view component of a target's selection
// penalty: its consecutive error count, capped, and only while the last
// error falls inside the error-priority window.
func (s *Selector) viewPenalty(view QuotaViewEntry, nowMs int64) int {
	window := s.ErrorPriorityWindowMs
	if window <= 0 {
		window = defaultErrorPriorityWindowMs
	}
	if view.LastErrorAtMs == 0 || nowMs-view.LastErrorAtMs > window {
		return 0
	}
	if view.ConsecutiveErrorCount > penaltyCap {
		return penaltyCap
	}
	return view.ConsecutiveErrorCount
}

// NewSelector returns an empty Selector.
func NewSelector() *Selector {
	return &Selector{
		cursors:   make(map[string]int),
		penalties: make(map[ProviderKey]int),
	}
}

// RecordError bumps the selection penalty for a target after a failed
// attempt, so Select prefers other targets in the same tier next time.
func (s *Selector) RecordError(key ProviderKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalties[key]++
}

// RecordSuccess clears the selection penalty accumulated for a target.
func (s *Selector) RecordSuccess(key ProviderKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.penalties, key)
}

type readyTarget struct {
	key     ProviderKey
	tierID  string
	view    QuotaViewEntry
	penalty int
}

// Select walks a route's tiers, primary tiers in priority order before any
// backup tier, and within each tier filters targets by readiness and picks
// one ordered by (priorityTier asc, selectionPenalty asc, roundRobinCursor).
// It returns NoAvailableProvider if every tier is exhausted. excluded may be
// nil; any key it contains is skipped regardless of readiness, letting the
// executor retry a route while excluding targets it already attempted.
func (s *Selector) Select(route Route, targets map[ProviderKey]Target, quota QuotaView, nowMs int64, excluded map[ProviderKey]bool) (Decision, error) {
	ordered := orderedTiers(route.Tiers)

	for _, tier := range ordered {
		ready := s.readyTargetsInTier(tier, quota, nowMs, excluded)
		if len(ready) == 0 {
			continue
		}

		chosen := s.pick(tier, ready)
		target, ok := targets[chosen.key]
		if !ok {
			continue
		}
		return Decision{
			RouteName:   route.Name,
			TierID:      tier.ID,
			ProviderKey: chosen.key,
			Target:      target,
		}, nil
	}

	return Decision{}, gwerrors.New(gwerrors.NoAvailableProvider, "no ready target in any tier for route "+route.Name, nil)
}

// orderedTiers returns primary tiers (Backup=false) in ascending Priority
// order, followed by backup tiers in ascending Priority order.
func orderedTiers(tiers []Tier) []Tier {
	primary := make([]Tier, 0, len(tiers))
	backup := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.Backup {
			backup = append(backup, t)
		} else {
			primary = append(primary, t)
		}
	}
	sort.SliceStable(primary, func(i, j int) bool { return primary[i].Priority < primary[j].Priority })
	sort.SliceStable(backup, func(i, j int) bool { return backup[i].Priority < backup[j].Priority })
	return append(primary, backup...)
}

func (s *Selector) readyTargetsInTier(tier Tier, quota QuotaView, nowMs int64, excluded map[ProviderKey]bool) []readyTarget {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]readyTarget, 0, len(tier.Targets))
	for _, key := range tier.Targets {
		if excluded != nil && excluded[key] {
			continue
		}
		view, ok := quota.View(key)
		if !ok || !view.Ready(nowMs) {
			continue
		}
		out = append(out, readyTarget{
			key:     key,
			tierID:  tier.ID,
			view:    view,
			penalty: s.penalties[key] + s.viewPenalty(view, nowMs),
		})
	}
	return out
}

// pick orders ready targets by (priorityTier, selectionPenalty) and, for
// ModeRoundRobin tiers, rotates the starting point using the tier's cursor.
// ModeWeighted biases toward lower priorityTier values by repeating
// lower-tier entries in the rotation; ModePriority and the default simply
// take the best-ordered entry.
func (s *Selector) pick(tier Tier, ready []readyTarget) readyTarget {
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].view.PriorityTier != ready[j].view.PriorityTier {
			return ready[i].view.PriorityTier < ready[j].view.PriorityTier
		}
		return ready[i].penalty < ready[j].penalty
	})

	switch tier.Mode {
	case ModeRoundRobin:
		s.mu.Lock()
		cursor := s.cursors[tier.ID]
		s.cursors[tier.ID] = cursor + 1
		s.mu.Unlock()
		return ready[cursor%len(ready)]
	case ModeWeighted:
		rotation := weightedRotation(ready)
		s.mu.Lock()
		cursor := s.cursors[tier.ID]
		s.cursors[tier.ID] = cursor + 1
		s.mu.Unlock()
		return rotation[cursor%len(rotation)]
	default:
		return ready[0]
	}
}

// weightedRotation expands each ready target into slots proportional to a
// weight derived from its priorityTier (lower tier number, the stronger
// preference, gets more slots), so a round-robin cursor over the expanded
// slice approximates weighted selection deterministically.
func weightedRotation(ready []readyTarget) []readyTarget {
	maxTier := 0
	for _, r := range ready {
		if r.view.PriorityTier > maxTier {
			maxTier = r.view.PriorityTier
		}
	}
	rotation := make([]readyTarget, 0, len(ready)*2)
	for _, r := range ready {
		weight := maxTier - r.view.PriorityTier + 1
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			rotation = append(rotation, r)
		}
	}
	return rotation
}
