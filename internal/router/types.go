// Package router classifies a canonical request into a logical route name
// and selects a provider+model target from that route's pool of tiers.
package router

import (
	"regexp"
	"strings"

	"github.com/routecodex/routecodex/internal/envelope"
)

// ProviderKey is the dotted identifier providerId.aliasOrKey.modelId, e.g.
// "antigravity.foo.gemini-3-pro". Always construct one through Canonicalize
// so legacy numeric-prefixed aliases normalize consistently everywhere.
type ProviderKey string

var legacyAliasPrefix = regexp.MustCompile(`^\d+`)

// Canonicalize strips a leading numeric sequence from the alias segment of
// a provider key (a legacy encoding some configs still carry) so every
// consumer of the key sees the same string.
func Canonicalize(key string) ProviderKey {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 {
		return ProviderKey(key)
	}
	parts[1] = legacyAliasPrefix.ReplaceAllString(parts[1], "")
	return ProviderKey(strings.Join(parts, "."))
}

// Target is one addressable provider+model endpoint a route may select.
type Target struct {
	ProviderKey          ProviderKey
	ProviderType         string
	OutboundProfile      envelope.Protocol
	CompatibilityProfile string
	RuntimeKey           string
	Endpoint             string
	AuthRef              string
	DefaultModel         string
}

// TierMode controls how Select orders ready targets within one tier.
type TierMode string

const (
	ModePriority   TierMode = "priority"
	ModeWeighted   TierMode = "weighted"
	ModeRoundRobin TierMode = "round-robin"
)

// Tier is one ordered group of targets within a route; a route tries its
// primary tiers in order before falling back to backup tiers.
type Tier struct {
	ID       string
	Priority int
	Backup   bool
	Mode     TierMode
	Targets  []ProviderKey
}

// Route is a named, ordered list of tiers. Primary tiers (Backup=false) are
// tried, in Priority order, before any backup tier.
type Route struct {
	Name  string
	Tiers []Tier
}

// Decision is what Select returns: the route and pool it chose from, and
// the resolved target.
type Decision struct {
	RouteName   string
	TierID      string
	ProviderKey ProviderKey
	Target      Target
}
