// Package quota implements the provider-quota daemon: the single writer of
// per-target pool-membership state, driven by provider error/success events
// and operator overrides, persisted to a JSON snapshot on a debounced timer.
package quota

import (
	"github.com/routecodex/routecodex/internal/router"
)

// Reason is the pool-membership reason carried by a QuotaState, mirroring
// the classification the router's readiness check keys off.
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonCooldown             Reason = "cooldown"
	ReasonQuotaDepleted        Reason = "quotaDepleted"
	ReasonBlacklist            Reason = "blacklist"
	ReasonProtected            Reason = "protected"
	ReasonVerificationRequired Reason = "verificationRequired"
	// ReasonFatal is a legacy import-only state; Load migrates it into
	// ReasonCooldown, keeping the longer of the fatal/cooldown timers.
	ReasonFatal Reason = "fatal"
)

// AuthType records how a target authenticates, carried through for
// operator visibility; the daemon does not branch on it except for
// antigravity-specific OAuth gating.
type AuthType string

const (
	AuthTypeAPIKey  AuthType = "apikey"
	AuthTypeOAuth   AuthType = "oauth"
	AuthTypeUnknown AuthType = "unknown"
)

// QuotaState is the daemon's authoritative record for one ProviderKey.
// Exactly one of CooldownUntilMs/BlacklistUntilMs constrains InPool=false
// at a time; readiness (see Ready) is computed from whichever is active.
type QuotaState struct {
	ProviderKey           router.ProviderKey `json:"providerKey"`
	InPool                bool               `json:"inPool"`
	Reason                Reason             `json:"reason"`
	CooldownUntilMs       int64              `json:"cooldownUntil,omitempty"`
	BlacklistUntilMs      int64              `json:"blacklistUntil,omitempty"`
	AuthType              AuthType           `json:"authType"`
	PriorityTier          int                `json:"priorityTier"`
	TotalTokensUsed       int64              `json:"totalTokensUsed"`
	LastErrorSeries       string             `json:"lastErrorSeries,omitempty"`
	LastErrorCode         string             `json:"lastErrorCode,omitempty"`
	LastErrorAtMs         int64              `json:"lastErrorAtMs,omitempty"`
	ConsecutiveErrorCount int                `json:"consecutiveErrorCount"`
	WindowStartMs         int64              `json:"windowStartMs,omitempty"`
	VerificationURL       string             `json:"verificationUrl,omitempty"`
}

// Ready reports the same invariant the router applies to a QuotaViewEntry:
// in pool, reason ok, and outside any active cooldown/blacklist window. An
// active blacklist always overrides, even if a cooldown timer also exists.
func (s *QuotaState) Ready(nowMs int64) bool {
	if s.BlacklistUntilMs > nowMs {
		return false
	}
	if !s.InPool || s.Reason != ReasonOK {
		return false
	}
	if s.CooldownUntilMs > nowMs {
		return false
	}
	return true
}

// toView projects a QuotaState into the read-only shape the router consumes.
func (s *QuotaState) toView() router.QuotaViewEntry {
	return router.QuotaViewEntry{
		InPool:                s.InPool,
		Reason:                string(s.Reason),
		CooldownUntilMs:       s.CooldownUntilMs,
		BlacklistUntilMs:      s.BlacklistUntilMs,
		PriorityTier:          s.PriorityTier,
		ConsecutiveErrorCount: s.ConsecutiveErrorCount,
		LastErrorAtMs:         s.LastErrorAtMs,
	}
}

// newState returns a fresh, ready QuotaState for a target the daemon has
// not seen before.
func newState(key router.ProviderKey, priorityTier int, authType AuthType) *QuotaState {
	return &QuotaState{
		ProviderKey:  key,
		InPool:       true,
		Reason:       ReasonOK,
		AuthType:     authType,
		PriorityTier: priorityTier,
	}
}
