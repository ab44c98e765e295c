package envvars

import (
	"context"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) *Manager {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	return NewManager(reg, store.Reader(), c, config.Defaults().Transaction)
}

func TestSetVarCreatesThenUpdatesInPlace(t *testing.T) {
	m := newFixture(t)
	ctx := context.Background()

	require.NoError(t, m.SetVar(ctx, "FLAG", "on"))
	vars, err := m.ListVars(ctx)
	require.NoError(t, err)
	require.Equal(t, "on", vars["FLAG"])

	require.NoError(t, m.SetVar(ctx, "FLAG", "off"))
	vars, err = m.ListVars(ctx)
	require.NoError(t, err)
	require.Equal(t, "off", vars["FLAG"])
	require.Len(t, vars, 1)
}

func TestDeleteVarRemovesRow(t *testing.T) {
	m := newFixture(t)
	ctx := context.Background()

	require.NoError(t, m.SetVar(ctx, "FLAG", "on"))
	require.NoError(t, m.DeleteVar(ctx, "FLAG"))

	vars, err := m.ListVars(ctx)
	require.NoError(t, err)
	require.Empty(t, vars)
}

func TestSetVarRejectsEmptyName(t *testing.T) {
	m := newFixture(t)
	require.Error(t, m.SetVar(context.Background(), "", "x"))
}
