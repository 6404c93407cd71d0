package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

type fakeQuotaView struct {
	entries map[ProviderKey]QuotaViewEntry
}

func (f fakeQuotaView) View(key ProviderKey) (QuotaViewEntry, bool) {
	e, ok := f.entries[key]
	return e, ok
}

func readyEntry(priorityTier int) QuotaViewEntry {
	return QuotaViewEntry{InPool: true, Reason: "ok", PriorityTier: priorityTier}
}

func unreadyEntry() QuotaViewEntry {
	return QuotaViewEntry{InPool: true, Reason: "cooldown", CooldownUntilMs: 1 << 40}
}

func userChat(text string) *canonical.Chat {
	content := text
	return &canonical.Chat{Messages: []canonical.Message{{Role: canonical.RoleUser, Content: &content}}}
}

func TestClassifyRouteHintWinsOverEverything(t *testing.T) {
	chat := userChat("think step by step please")
	chat.Metadata.RouteHint = "custom"
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, "custom", c.RouteName)
}

func TestClassifyInlineRouteDirective(t *testing.T) {
	chat := userChat("hello <**longcontext**> world")
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, "longcontext", c.RouteName)
}

func TestClassifyProviderDirectiveForcesTarget(t *testing.T) {
	chat := userChat("hello <**antigravity.foo.gemini-3-pro**> world")
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, ProviderKey("antigravity.foo.gemini-3-pro"), c.ForcedProviderKey)
}

func TestClassifyHeuristicThinkingKeyword(t *testing.T) {
	chat := userChat("let's do some reasoning about this")
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, RouteThinking, c.RouteName)
}

func TestClassifyHeuristicLongContext(t *testing.T) {
	// Approximate mode keeps the estimate deterministic and the test
	// independent of tiktoken's downloadable encoding files.
	original := config.ApproximateTokenEnabled
	config.ApproximateTokenEnabled = true
	t.Cleanup(func() { config.ApproximateTokenEnabled = original })

	// 800k chars * 0.38 tokens/char clears the 180k default threshold.
	chat := userChat(strings.Repeat("x", 800000))
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, RouteLongContext, c.RouteName)

	chat = userChat(strings.Repeat("x", 1000))
	c = Classify(chat, DefaultClassifierConfig())
	require.Equal(t, RouteDefault, c.RouteName)
}

func TestClassifyDefault(t *testing.T) {
	chat := userChat("just a normal question")
	c := Classify(chat, DefaultClassifierConfig())
	require.Equal(t, RouteDefault, c.RouteName)
}

func TestSelectPrefersPrimaryTierOverBackup(t *testing.T) {
	route := Route{
		Name: "default",
		Tiers: []Tier{
			{ID: "backup", Priority: 0, Backup: true, Targets: []ProviderKey{"p.a.m"}},
			{ID: "primary", Priority: 0, Backup: false, Targets: []ProviderKey{"p.b.m"}},
		},
	}
	targets := map[ProviderKey]Target{
		"p.a.m": {ProviderKey: "p.a.m"},
		"p.b.m": {ProviderKey: "p.b.m"},
	}
	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{
		"p.a.m": readyEntry(0),
		"p.b.m": readyEntry(0),
	}}

	d, err := NewSelector().Select(route, targets, quota, 0, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.b.m"), d.ProviderKey)
}

func TestSelectFallsBackToBackupWhenPrimaryUnready(t *testing.T) {
	route := Route{
		Name: "default",
		Tiers: []Tier{
			{ID: "primary", Priority: 0, Backup: false, Targets: []ProviderKey{"p.a.m"}},
			{ID: "backup", Priority: 0, Backup: true, Targets: []ProviderKey{"p.b.m"}},
		},
	}
	targets := map[ProviderKey]Target{
		"p.a.m": {ProviderKey: "p.a.m"},
		"p.b.m": {ProviderKey: "p.b.m"},
	}
	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{
		"p.a.m": unreadyEntry(),
		"p.b.m": readyEntry(0),
	}}

	d, err := NewSelector().Select(route, targets, quota, 0, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.b.m"), d.ProviderKey)
}

func TestSelectReturnsNoAvailableProviderWhenExhausted(t *testing.T) {
	route := Route{Name: "default", Tiers: []Tier{{ID: "only", Targets: []ProviderKey{"p.a.m"}}}}
	targets := map[ProviderKey]Target{"p.a.m": {ProviderKey: "p.a.m"}}
	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{"p.a.m": unreadyEntry()}}

	_, err := NewSelector().Select(route, targets, quota, 0, nil)
	require.Error(t, err)
	var gwErr *gwerrors.Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, gwerrors.NoAvailableProvider, gwErr.Class)
}

func TestSelectOrdersByPriorityTierThenPenalty(t *testing.T) {
	route := Route{Name: "default", Tiers: []Tier{{ID: "only", Targets: []ProviderKey{"p.a.m", "p.b.m"}}}}
	targets := map[ProviderKey]Target{
		"p.a.m": {ProviderKey: "p.a.m"},
		"p.b.m": {ProviderKey: "p.b.m"},
	}
	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{
		"p.a.m": readyEntry(1),
		"p.b.m": readyEntry(0),
	}}

	d, err := NewSelector().Select(route, targets, quota, 0, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.b.m"), d.ProviderKey)
}

func TestRouterStickySessionBindsAndClearsOnUnready(t *testing.T) {
	table := RouteTable{
		Routes: map[string]Route{
			"default": {Name: "default", Tiers: []Tier{{ID: "only", Targets: []ProviderKey{"p.a.m"}}}},
		},
		Targets: map[ProviderKey]Target{"p.a.m": {ProviderKey: "p.a.m"}},
	}
	entries := map[ProviderKey]QuotaViewEntry{"p.a.m": readyEntry(0)}
	quota := fakeQuotaView{entries: entries}

	r := New(table, quota, DefaultClassifierConfig(), 16)

	chat := userChat("hello")
	chat.Metadata.SessionID = "sess-1"

	d1, err := r.Route(chat, 0)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.a.m"), d1.ProviderKey)

	d2, err := r.Route(chat, 1)
	require.NoError(t, err)
	require.Equal(t, d1.ProviderKey, d2.ProviderKey)

	entries["p.a.m"] = unreadyEntry()
	_, err = r.Route(chat, 2)
	require.Error(t, err)
}

func TestRouterForcedProviderDirective(t *testing.T) {
	table := RouteTable{
		Routes:  map[string]Route{},
		Targets: map[ProviderKey]Target{"antigravity.foo.gemini-3-pro": {ProviderKey: "antigravity.foo.gemini-3-pro"}},
	}
	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{
		"antigravity.foo.gemini-3-pro": readyEntry(0),
	}}
	r := New(table, quota, DefaultClassifierConfig(), 16)

	chat := userChat("<**antigravity.foo.gemini-3-pro**>")
	d, err := r.Route(chat, 0)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("antigravity.foo.gemini-3-pro"), d.ProviderKey)
}

func TestSelectionPenaltyHonorsErrorPriorityWindow(t *testing.T) {
	route := Route{
		Name: "default",
		Tiers: []Tier{
			{ID: "t", Priority: 0, Targets: []ProviderKey{"p.a.m", "p.b.m"}},
		},
	}
	targets := map[ProviderKey]Target{
		"p.a.m": {ProviderKey: "p.a.m"},
		"p.b.m": {ProviderKey: "p.b.m"},
	}

	erroring := readyEntry(0)
	erroring.ConsecutiveErrorCount = 2
	erroring.LastErrorAtMs = 1000

	quota := fakeQuotaView{entries: map[ProviderKey]QuotaViewEntry{
		"p.a.m": erroring,
		"p.b.m": readyEntry(0),
	}}

	s := NewSelector()

	// Inside the window the recently-failing target is penalized.
	d, err := s.Select(route, targets, quota, 2000, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.b.m"), d.ProviderKey)

	// Once the window elapses both targets are on equal footing and
	// insertion order wins again.
	d, err = s.Select(route, targets, quota, 1000+defaultErrorPriorityWindowMs+1, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderKey("p.a.m"), d.ProviderKey)
}
