package quota

import (
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/router"
)

// Signal distinguishes the provider-error-center/success-center event kinds
// the daemon dispatches on, beyond the generic gwerrors.Class the executor
// already attaches to every failure.
type Signal string

const (
	SignalQuotaDepleted        Signal = "QUOTA_DEPLETED"
	SignalQuotaRecovery        Signal = "QUOTA_RECOVERY"
	SignalHTTPCooldown         Signal = "HTTP_429_COOLDOWN"
	SignalHTTPQuota            Signal = "HTTP_429_QUOTA"
	SignalAuthFailure          Signal = "AUTH_FAILURE"
	SignalVerificationRequired Signal = "VERIFICATION_REQUIRED"
	SignalGenericError         Signal = "GENERIC_ERROR"
)

// ErrorEvent is what the executor publishes to the provider error center on
// every failed attempt; the daemon is its sole consumer.
type ErrorEvent struct {
	ProviderKey     router.ProviderKey
	Class           gwerrors.Class
	Signal          Signal
	CooldownMs      int64 // explicit or parsed TTL, 0 if none carried
	Code            string
	Message         string
	VerificationURL string
	AtMs            int64
}

// SuccessEvent is what the executor publishes to the provider success
// center after a completed attempt.
type SuccessEvent struct {
	ProviderKey router.ProviderKey
	TokensUsed  int64
	AtMs        int64
}

// DisableMode distinguishes an operator override's strength.
type DisableMode string

const (
	DisableModeCooldown  DisableMode = "cooldown"
	DisableModeBlacklist DisableMode = "blacklist"
)
