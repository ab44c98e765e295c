package facade

import (
	"context"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/envvars"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestEnvVarCreateInvalidatesSubscriberButUnrelatedRenameDoesNot covers
// the full query -> subscribe -> env var write -> notify loop: a query
// that reads process.env.FLAG is invalidated the moment FLAG is created
// or changed, but a change to an unrelated name leaves it alone.
func TestEnvVarCreateInvalidatesSubscriberButUnrelatedRenameDoesNot(t *testing.T) {
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	subs := subscription.New()
	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	functions := NewFunctionTable()
	f, err := New(reg, store.Reader(), c, functions, subs, config.Defaults().Cache, 1024, config.Defaults().Sandbox, config.Defaults().Transaction)
	require.NoError(t, err)
	c.SetNotifier(f)

	ev := envvars.NewManager(reg, store.Reader(), c, config.Defaults().Transaction)

	functions.Register(FunctionSpec{
		Path:       "flags/read",
		Type:       FunctionQuery,
		Visibility: VisibilityPublic,
		Source:     `envGet("FLAG");`,
	})

	req := CallRequest{Identity: identity(), Component: "app", Path: "flags/read", Args: types.Null()}
	res, err := f.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.KindNull, res.Value.Kind, "FLAG does not exist yet")

	require.NoError(t, ev.SetVar(context.Background(), "FLAG", "on"))

	select {
	case <-res.Notify:
	default:
		t.Fatal("creating the env var a live query read must invalidate its subscription")
	}

	// Re-querying re-subscribes against a fresh read set that now
	// depends on FLAG's current value.
	res2, err := f.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "on", res2.Value.Str)

	require.NoError(t, ev.SetVar(context.Background(), "OTHER", "x"))

	select {
	case <-res2.Notify:
		t.Fatal("renaming or setting an unrelated env var must not invalidate this subscriber")
	default:
	}
}
