package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/router"
)

type fakeQuotaSource struct {
	snapshot AntigravitySnapshot
	err      error
	calls    int
}

func (f *fakeQuotaSource) Fetch(ctx context.Context) (AntigravitySnapshot, error) {
	f.calls++
	if f.err != nil {
		return AntigravitySnapshot{}, f.err
	}
	return f.snapshot, nil
}

func TestOAuthGateOpensOnlyOnQuotaRecovery(t *testing.T) {
	d := NewDaemon(Config{})
	key := router.ProviderKey("antigravity.acc1.gemini-3-pro")
	d.RegisterOAuthGate(key, 0)

	view, ok := d.View(key)
	require.True(t, ok)
	require.False(t, view.Ready(1000))

	// A generic error does not open the gate.
	d.HandleError(ErrorEvent{ProviderKey: key, Signal: SignalGenericError}, 1000)
	view, _ = d.View(key)
	require.False(t, view.Ready(2000))

	d.HandleError(ErrorEvent{ProviderKey: key, Signal: SignalQuotaRecovery}, 3000)
	view, _ = d.View(key)
	require.True(t, view.Ready(4000))
}

func TestProtectedModelSurvivesRecoverySignals(t *testing.T) {
	d := NewDaemon(Config{})
	key := router.ProviderKey("antigravity.acc1.gemini-3-pro")
	d.MarkProtected(key)

	d.HandleError(ErrorEvent{ProviderKey: key, Signal: SignalQuotaRecovery}, 1000)
	view, _ := d.View(key)
	require.Equal(t, string(ReasonProtected), view.Reason)
	require.False(t, view.Ready(2000))

	// Only the operator override brings it back.
	d.RecoverProvider(key)
	view, _ = d.View(key)
	require.True(t, view.Ready(3000))
}

func TestRefresherFeedsDaemonAndPersists(t *testing.T) {
	d := NewDaemon(Config{})
	ready := router.ProviderKey("antigravity.acc1.gemini-3-pro")
	depleted := router.ProviderKey("antigravity.acc2.gemini-3-pro")
	protected := router.ProviderKey("antigravity.acc1.gemini-3-ultra")
	d.RegisterOAuthGate(ready, 0)
	d.RegisterOAuthGate(depleted, 0)

	path := filepath.Join(t.TempDir(), "antigravity.json")
	r := &Refresher{
		Daemon:       d,
		SnapshotPath: path,
		Source: &fakeQuotaSource{snapshot: AntigravitySnapshot{
			Quotas:    map[router.ProviderKey]int64{ready: 100, depleted: 0},
			Protected: []router.ProviderKey{protected},
		}},
	}
	require.NoError(t, r.RefreshNow(context.Background()))

	view, _ := d.View(ready)
	require.Equal(t, "ok", view.Reason)

	view, _ = d.View(depleted)
	require.Equal(t, string(ReasonQuotaDepleted), view.Reason)

	view, _ = d.View(protected)
	require.Equal(t, string(ReasonProtected), view.Reason)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), "antigravity.acc1.gemini-3-pro")

	loaded, err := LoadAntigravitySnapshot(path)
	require.NoError(t, err)
	require.EqualValues(t, 100, loaded.Quotas[ready])
}

func TestRefresherSelfDisablesAfterThreeFailures(t *testing.T) {
	d := NewDaemon(Config{})
	source := &fakeQuotaSource{err: errors.New("oauth endpoint down")}
	r := &Refresher{Daemon: d, Source: source}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r.refresh(ctx)
	}
	require.True(t, r.Disabled())

	// Disabled: further ticks do not hit the source.
	before := source.calls
	r.refresh(ctx)
	require.Equal(t, before, source.calls)

	// Manual RefreshNow re-enables the loop.
	source.err = nil
	source.snapshot = AntigravitySnapshot{}
	require.NoError(t, r.RefreshNow(ctx))
	require.False(t, r.Disabled())
}
