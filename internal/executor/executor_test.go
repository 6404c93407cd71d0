package executor

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/envelope"
	"github.com/routecodex/routecodex/internal/gwerrors"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

type fakeQuotaView struct {
	entries map[router.ProviderKey]router.QuotaViewEntry
}

func (f fakeQuotaView) View(key router.ProviderKey) (router.QuotaViewEntry, bool) {
	e, ok := f.entries[key]
	return e, ok
}

func ready() router.QuotaViewEntry { return router.QuotaViewEntry{InPool: true, Reason: "ok"} }

type fakeSink struct {
	errors    []quota.ErrorEvent
	successes []quota.SuccessEvent
}

func (f *fakeSink) HandleError(evt quota.ErrorEvent, nowMs int64) { f.errors = append(f.errors, evt) }
func (f *fakeSink) HandleSuccess(evt quota.SuccessEvent, nowMs int64) {
	f.successes = append(f.successes, evt)
}

type scriptedProvider struct {
	calls     int
	responses []Attempt
	errs      []error
}

func (p *scriptedProvider) Send(ctx context.Context, target router.Target, payload []byte, stream bool) (Attempt, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	var resp Attempt
	if i < len(p.responses) {
		resp = p.responses[i]
	}
	return resp, err
}

func userChat(text string) *canonical.Chat {
	content := text
	return &canonical.Chat{Messages: []canonical.Message{{Role: canonical.RoleUser, Content: &content}}}
}

func newTestExecutor(t *testing.T, table router.RouteTable, quotaView router.QuotaView, provider Provider, sink EventSink) *Executor {
	t.Helper()
	r := router.New(table, quotaView, router.DefaultClassifierConfig(), 16)
	return &Executor{
		Router:   r,
		Quota:    sink,
		Pipeline: pipeline.New(codec.NewRegistry()),
		Provider: provider,
		Now:      func() int64 { return 0 },
	}
}

func oneTargetTable(key router.ProviderKey) router.RouteTable {
	return router.RouteTable{
		Routes: map[string]router.Route{
			"default": {Name: "default", Tiers: []router.Tier{{ID: "only", Targets: []router.ProviderKey{key}}}},
		},
		Targets: map[router.ProviderKey]router.Target{
			key: {ProviderKey: key, OutboundProfile: envelope.ProtocolOpenAIChat},
		},
	}
}

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	key := router.ProviderKey("p.a.m")
	table := oneTargetTable(key)
	quotaView := fakeQuotaView{entries: map[router.ProviderKey]router.QuotaViewEntry{key: ready()}}
	provider := &scriptedProvider{responses: []Attempt{{Body: []byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`)}}}
	sink := &fakeSink{}

	e := newTestExecutor(t, table, quotaView, provider, sink)
	chat := userChat("hello")

	result, err := e.Execute(context.Background(), envelope.ProtocolOpenAIChat, chat)
	require.NoError(t, err)
	require.Equal(t, key, result.Decision.ProviderKey)
	require.Contains(t, string(result.Body), "hi")
	require.Len(t, sink.successes, 1)
}

func TestExecuteFailsOverToNextTargetOnRetryableError(t *testing.T) {
	keyA := router.ProviderKey("p.a.m")
	keyB := router.ProviderKey("p.b.m")
	table := router.RouteTable{
		Routes: map[string]router.Route{
			"default": {Name: "default", Tiers: []router.Tier{{ID: "only", Targets: []router.ProviderKey{keyA, keyB}}}},
		},
		Targets: map[router.ProviderKey]router.Target{
			keyA: {ProviderKey: keyA, OutboundProfile: envelope.ProtocolOpenAIChat},
			keyB: {ProviderKey: keyB, OutboundProfile: envelope.ProtocolOpenAIChat},
		},
	}
	quotaView := fakeQuotaView{entries: map[router.ProviderKey]router.QuotaViewEntry{keyA: ready(), keyB: ready()}}
	provider := &scriptedProvider{
		errs: []error{gwerrors.New(gwerrors.UpstreamTransient, "boom", nil)},
		responses: []Attempt{
			{},
			{Body: []byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"recovered"}}]}`)},
		},
	}
	sink := &fakeSink{}

	e := newTestExecutor(t, table, quotaView, provider, sink)
	chat := userChat("hello")

	result, err := e.Execute(context.Background(), envelope.ProtocolOpenAIChat, chat)
	require.NoError(t, err)
	require.Contains(t, string(result.Body), "recovered")
	require.Len(t, sink.errors, 1)
	require.Equal(t, keyA, sink.errors[0].ProviderKey)
}

func TestExecuteStopsImmediatelyOnNonRetryableError(t *testing.T) {
	keyA := router.ProviderKey("p.a.m")
	keyB := router.ProviderKey("p.b.m")
	table := router.RouteTable{
		Routes: map[string]router.Route{
			"default": {Name: "default", Tiers: []router.Tier{{ID: "only", Targets: []router.ProviderKey{keyA, keyB}}}},
		},
		Targets: map[router.ProviderKey]router.Target{
			keyA: {ProviderKey: keyA, OutboundProfile: envelope.ProtocolOpenAIChat},
			keyB: {ProviderKey: keyB, OutboundProfile: envelope.ProtocolOpenAIChat},
		},
	}
	quotaView := fakeQuotaView{entries: map[router.ProviderKey]router.QuotaViewEntry{keyA: ready(), keyB: ready()}}
	provider := &scriptedProvider{errs: []error{gwerrors.New(gwerrors.ToolPayloadInvalid, "bad patch", nil)}}
	sink := &fakeSink{}

	e := newTestExecutor(t, table, quotaView, provider, sink)
	chat := userChat("hello")

	_, err := e.Execute(context.Background(), envelope.ProtocolOpenAIChat, chat)
	require.Error(t, err)
	require.Equal(t, 1, provider.calls)
}

func TestExecuteStreamReturnsLiveStreamWithoutFailoverAfterStart(t *testing.T) {
	key := router.ProviderKey("p.a.m")
	table := oneTargetTable(key)
	quotaView := fakeQuotaView{entries: map[router.ProviderKey]router.QuotaViewEntry{key: ready()}}
	provider := &scriptedProvider{responses: []Attempt{{Stream: io.NopCloser(bytes.NewReader([]byte("data: [DONE]\n\n")))}}}
	sink := &fakeSink{}

	e := newTestExecutor(t, table, quotaView, provider, sink)
	chat := userChat("hello")

	result, err := e.ExecuteStream(context.Background(), envelope.ProtocolOpenAIChat, chat)
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	body, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	require.Contains(t, string(body), "[DONE]")
}
