package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

const sampleDoc = `
classifier:
  longContextThresholdTokens: 90000
  thinkingKeywords: ["deliberate"]
targets:
  - key: openai.default.gpt-4
    providerType: openai
    outboundProfile: openai-chat
    endpoint: https://api.openai.com/v1/chat/completions
    authRef: "apikey:sk-test"
    defaultModel: gpt-4
  - key: antigravity.12acc1.gemini-3-pro
    providerType: antigravity
    outboundProfile: gemini
    endpoint: https://antigravity.example/v1
    authRef: "project-bearer:proj-1:tokens/acc1.json"
    defaultModel: gemini-3-pro
    priorityTier: 1
routes:
  default:
    - id: primary
      priority: 0
      mode: priority
      targets: [openai.default.gpt-4]
    - id: fallback
      priority: 0
      backup: true
      mode: round-robin
      targets: [antigravity.12acc1.gemini-3-pro]
`

func TestParseSampleTopology(t *testing.T) {
	topo, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	require.Len(t, topo.Table.Targets, 2)
	require.Contains(t, topo.Table.Targets, router.ProviderKey("openai.default.gpt-4"))
	// Legacy numeric alias prefix is stripped at parse time.
	require.Contains(t, topo.Table.Targets, router.ProviderKey("antigravity.acc1.gemini-3-pro"))

	route := topo.Table.Routes["default"]
	require.Len(t, route.Tiers, 2)
	require.False(t, route.Tiers[0].Backup)
	require.True(t, route.Tiers[1].Backup)
	require.Equal(t, router.ModeRoundRobin, route.Tiers[1].Mode)
	require.Equal(t, []router.ProviderKey{"antigravity.acc1.gemini-3-pro"}, route.Tiers[1].Targets)

	require.Equal(t, 90000, topo.Classifier.LongContextThresholdTokens)
	require.Equal(t, []string{"deliberate"}, topo.Classifier.ThinkingKeywords)
	// Unset lists keep the defaults.
	require.NotEmpty(t, topo.Classifier.BackgroundKeywords)

	gemini := topo.Table.Targets["antigravity.acc1.gemini-3-pro"]
	require.Equal(t, envelope.ProtocolGemini, gemini.OutboundProfile)

	require.Len(t, topo.Seeds, 2)
	byKey := map[router.ProviderKey]Seed{}
	for _, s := range topo.Seeds {
		byKey[s.Key] = s
	}
	require.Equal(t, quota.AuthTypeAPIKey, byKey["openai.default.gpt-4"].AuthType)
	require.Equal(t, quota.AuthTypeOAuth, byKey["antigravity.acc1.gemini-3-pro"].AuthType)
	require.Equal(t, 1, byKey["antigravity.acc1.gemini-3-pro"].PriorityTier)
}

func TestParseRejectsUndeclaredTarget(t *testing.T) {
	doc := `
targets:
  - key: openai.default.gpt-4
    outboundProfile: openai-chat
    authRef: "apikey:sk"
routes:
  default:
    - id: primary
      targets: [missing.alias.model]
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared target")
}

func TestParseRejectsUnknownProfile(t *testing.T) {
	doc := `
targets:
  - key: openai.default.gpt-4
    outboundProfile: grpc
    authRef: "apikey:sk"
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "outbound profile")
}
