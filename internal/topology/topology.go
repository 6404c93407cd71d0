// Package topology loads the gateway's routing bootstrap: the targets,
// routes, and classifier keyword lists the virtual router selects over.
// The file is read once at startup; the router receives a plain
// RouteTable value and never touches the filesystem itself.
package topology

import (
	"os"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"

	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

// TargetSpec is one provider+model endpoint as written in the bootstrap file.
type TargetSpec struct {
	Key                  string `yaml:"key"`
	ProviderType         string `yaml:"providerType"`
	OutboundProfile      string `yaml:"outboundProfile"`
	CompatibilityProfile string `yaml:"compatibilityProfile"`
	RuntimeKey           string `yaml:"runtimeKey"`
	Endpoint             string `yaml:"endpoint"`
	AuthRef              string `yaml:"authRef"`
	DefaultModel         string `yaml:"defaultModel"`
	PriorityTier         int    `yaml:"priorityTier"`
}

// TierSpec is one pool within a route.
type TierSpec struct {
	ID       string   `yaml:"id"`
	Priority int      `yaml:"priority"`
	Backup   bool     `yaml:"backup"`
	Mode     string   `yaml:"mode"`
	Targets  []string `yaml:"targets"`
}

// ClassifierSpec overrides the router's heuristic classification defaults.
type ClassifierSpec struct {
	LongContextThresholdTokens int      `yaml:"longContextThresholdTokens"`
	ThinkingKeywords           []string `yaml:"thinkingKeywords"`
	BackgroundKeywords         []string `yaml:"backgroundKeywords"`
}

// File is the raw YAML document shape.
type File struct {
	Classifier ClassifierSpec        `yaml:"classifier"`
	Targets    []TargetSpec          `yaml:"targets"`
	Routes     map[string][]TierSpec `yaml:"routes"`
}

// Seed carries what the quota daemon needs to register one target at boot.
type Seed struct {
	Key          router.ProviderKey
	PriorityTier int
	AuthType     quota.AuthType
}

// Topology is the parsed, validated bootstrap: everything main() needs to
// construct the router and seed the quota daemon.
type Topology struct {
	Table      router.RouteTable
	Classifier router.ClassifierConfig
	Seeds      []Seed
}

// Provider abstracts where the bootstrap comes from, so tests and embedded
// deployments can inject a Topology without a file on disk.
type Provider interface {
	Topology() (Topology, error)
}

// FileProvider loads the bootstrap from a YAML file.
type FileProvider struct {
	Path string
}

func (p FileProvider) Topology() (Topology, error) {
	body, err := os.ReadFile(p.Path)
	if err != nil {
		return Topology{}, errors.Wrapf(err, "read topology file %q", p.Path)
	}
	return Parse(body)
}

var validProfiles = map[envelope.Protocol]bool{
	envelope.ProtocolOpenAIChat:      true,
	envelope.ProtocolOpenAIResponses: true,
	envelope.ProtocolAnthropic:       true,
	envelope.ProtocolGemini:          true,
}

// Parse decodes and validates a bootstrap document. Every target key is
// canonicalized before use so the legacy numeric-prefix alias encoding
// never leaks past this boundary; a tier referencing an undeclared target
// is a hard error rather than a silently empty pool.
func Parse(body []byte) (Topology, error) {
	var f File
	if err := yaml.Unmarshal(body, &f); err != nil {
		return Topology{}, errors.Wrap(err, "parse topology yaml")
	}

	targets := make(map[router.ProviderKey]router.Target, len(f.Targets))
	seeds := make([]Seed, 0, len(f.Targets))
	for _, spec := range f.Targets {
		if spec.Key == "" {
			return Topology{}, errors.New("topology target with empty key")
		}
		profile := envelope.Protocol(spec.OutboundProfile)
		if !validProfiles[profile] {
			return Topology{}, errors.Errorf("target %q has unknown outbound profile %q", spec.Key, spec.OutboundProfile)
		}
		key := router.Canonicalize(spec.Key)
		if _, dup := targets[key]; dup {
			return Topology{}, errors.Errorf("duplicate target key %q", key)
		}
		targets[key] = router.Target{
			ProviderKey:          key,
			ProviderType:         spec.ProviderType,
			OutboundProfile:      profile,
			CompatibilityProfile: spec.CompatibilityProfile,
			RuntimeKey:           spec.RuntimeKey,
			Endpoint:             spec.Endpoint,
			AuthRef:              spec.AuthRef,
			DefaultModel:         spec.DefaultModel,
		}
		seeds = append(seeds, Seed{
			Key:          key,
			PriorityTier: spec.PriorityTier,
			AuthType:     authTypeFor(spec.AuthRef),
		})
	}

	routes := make(map[string]router.Route, len(f.Routes))
	for name, tierSpecs := range f.Routes {
		route := router.Route{Name: name, Tiers: make([]router.Tier, 0, len(tierSpecs))}
		for _, ts := range tierSpecs {
			tier := router.Tier{
				ID:       ts.ID,
				Priority: ts.Priority,
				Backup:   ts.Backup,
				Mode:     tierMode(ts.Mode),
			}
			for _, raw := range ts.Targets {
				key := router.Canonicalize(raw)
				if _, ok := targets[key]; !ok {
					return Topology{}, errors.Errorf("route %q tier %q references undeclared target %q", name, ts.ID, raw)
				}
				tier.Targets = append(tier.Targets, key)
			}
			route.Tiers = append(route.Tiers, tier)
		}
		routes[name] = route
	}

	classifier := router.DefaultClassifierConfig()
	if f.Classifier.LongContextThresholdTokens > 0 {
		classifier.LongContextThresholdTokens = f.Classifier.LongContextThresholdTokens
	}
	if len(f.Classifier.ThinkingKeywords) > 0 {
		classifier.ThinkingKeywords = f.Classifier.ThinkingKeywords
	}
	if len(f.Classifier.BackgroundKeywords) > 0 {
		classifier.BackgroundKeywords = f.Classifier.BackgroundKeywords
	}

	return Topology{
		Table:      router.RouteTable{Routes: routes, Targets: targets},
		Classifier: classifier,
		Seeds:      seeds,
	}, nil
}

func tierMode(raw string) router.TierMode {
	switch router.TierMode(raw) {
	case router.ModeWeighted:
		return router.ModeWeighted
	case router.ModeRoundRobin:
		return router.ModeRoundRobin
	default:
		return router.ModePriority
	}
}

// authTypeFor maps an auth ref's mode onto the quota daemon's coarse
// AuthType, used only for the antigravity OAuth gating rules.
func authTypeFor(ref string) quota.AuthType {
	spec, err := provider.ParseAuthRef(ref)
	if err != nil {
		return quota.AuthTypeUnknown
	}
	switch spec.Mode {
	case provider.AuthModeAPIKey:
		return quota.AuthTypeAPIKey
	case provider.AuthModeOAuthFile, provider.AuthModeProjectBearer:
		return quota.AuthTypeOAuth
	default:
		return quota.AuthTypeUnknown
	}
}
