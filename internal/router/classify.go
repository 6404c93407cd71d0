package router

import (
	"regexp"
	"strings"

	"github.com/routecodex/routecodex/internal/canonical"
)

// Default route names, named in the glossary; a config may define others.
const (
	RouteDefault     = "default"
	RouteThinking    = "thinking"
	RouteLongContext = "longcontext"
	RouteBackground  = "background"
)

// ClassifierConfig parameterizes the heuristic classifiers (rule 3).
// Defaults match the specification's defaults.
type ClassifierConfig struct {
	LongContextThresholdTokens int
	ThinkingKeywords           []string
	BackgroundKeywords         []string
}

// DefaultClassifierConfig returns the specification's default thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		LongContextThresholdTokens: 180000,
		ThinkingKeywords:           []string{"think step by step", "reasoning", "chain of thought"},
		BackgroundKeywords:         []string{"background task", "async job", "no rush"},
	}
}

// directivePattern matches an inline "<**...**>" directive anywhere in a
// message, the syntax rule 1/rule 2 both key off.
var directivePattern = regexp.MustCompile(`<\*\*([^*]+)\*\*>`)

// providerDirectivePattern recognizes a providerId.alias.modelId shaped
// directive body, distinguishing rule 2 (force a target) from rule 1
// (an inline route-name override).
var providerDirectivePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_.-]+$`)

// Classification is Classify's result: either a route name to select over,
// or (rule 2) a specific target forced regardless of route.
type Classification struct {
	RouteName         string
	ForcedProviderKey ProviderKey // non-empty only when rule 2 matched
}

// Classify applies the classification rules in priority order, first match
// wins: explicit routeHint/inline directive, then provider directive, then
// heuristic keyword/length classifiers, then the default route.
func Classify(chat *canonical.Chat, cfg ClassifierConfig) Classification {
	if chat.Metadata.RouteHint != "" {
		return Classification{RouteName: chat.Metadata.RouteHint}
	}

	if directive, ok := lastUserDirective(chat); ok {
		if providerDirectivePattern.MatchString(directive) {
			return Classification{ForcedProviderKey: Canonicalize(directive)}
		}
		return Classification{RouteName: directive}
	}

	text := lastUserText(chat)
	lower := strings.ToLower(text)

	if estimateTokens(text) >= cfg.LongContextThresholdTokens {
		return Classification{RouteName: RouteLongContext}
	}
	for _, kw := range cfg.ThinkingKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Classification{RouteName: RouteThinking}
		}
	}
	for _, kw := range cfg.BackgroundKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Classification{RouteName: RouteBackground}
		}
	}

	return Classification{RouteName: RouteDefault}
}

func lastUserDirective(chat *canonical.Chat) (string, bool) {
	text := lastUserText(chat)
	m := directivePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func lastUserText(chat *canonical.Chat) string {
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		m := chat.Messages[i]
		if m.Role == canonical.RoleUser && m.Content != nil {
			return *m.Content
		}
	}
	return ""
}
