package registry

import (
	"context"
	"testing"

	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func seedSystemTable(t *testing.T, store *persistence.BoltPersistence, tablet types.TabletID, id types.InternalID, ts types.Timestamp, v types.Value) {
	t.Helper()
	var batch persistence.WriteBatch
	batch.AddDocument(types.LogRecord{
		ID:    types.DocumentID{Tablet: tablet, InternalID: id},
		Ts:    ts,
		Value: &v,
	})
	require.NoError(t, store.Write(context.Background(), batch))
}

func openTestStore(t *testing.T) *persistence.BoltPersistence {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBootstrapBuildsTableIndexes(t *testing.T) {
	store := openTestStore(t)
	root := schema.Namespace{}

	table := schema.TableMetadata{
		Tablet: "tab_users_1", Namespace: root, Name: "users", Number: 1, State: schema.TableActive,
	}
	seedSystemTable(t, store, TablesTablet, "tbl1", 1, EncodeTableMetadata(table))

	idx := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: "tab_users_1", Descriptor: "by_id"}, nil)
	seedSystemTable(t, store, IndexTablet, "idx1", 1, EncodeIndexMetadata(idx))

	reg := New()
	require.NoError(t, reg.Bootstrap(context.Background(), store.Reader(), 1))

	tablet, number, err := reg.ResolveName(root, "users")
	require.NoError(t, err)
	require.Equal(t, types.TabletID("tab_users_1"), tablet)
	require.Equal(t, types.TableNumber(1), number)

	indexes := reg.IndexesForTablet("tab_users_1")
	require.Len(t, indexes, 1)
	require.Equal(t, schema.ByID, indexes[0].ID.Descriptor)
}

func TestResolveNameMissingReturnsNotFound(t *testing.T) {
	reg := New()
	_, _, err := reg.ResolveName(schema.Namespace{}, "nope")
	require.Error(t, err)
}

func TestPatchTableValidatesPreImage(t *testing.T) {
	reg := New()
	table := schema.TableMetadata{Tablet: "t1", Name: "users", Number: 1, State: schema.TableActive}
	require.NoError(t, reg.PatchTable(nil, &table))

	stale := table
	stale.State = schema.TableHidden
	updated := table
	updated.State = schema.TableDeleting

	err := reg.PatchTable(&stale, &updated)
	require.Error(t, err)

	require.NoError(t, reg.PatchTable(&table, &updated))
	got, ok := reg.TableByTablet("t1")
	require.True(t, ok)
	require.Equal(t, schema.TableDeleting, got.State)
}

func TestPatchSchemaEnforcesAtMostOneActive(t *testing.T) {
	reg := New()
	ns := schema.Namespace{}

	s1 := schema.SchemaDocument{ID: "s1", Namespace: ns, State: schema.SchemaActive}
	require.NoError(t, reg.PatchSchema(ns, s1))

	s2 := schema.SchemaDocument{ID: "s2", Namespace: ns, State: schema.SchemaActive}
	err := reg.PatchSchema(ns, s2)
	require.Error(t, err)
}

func TestResolvePathWalksComponentTree(t *testing.T) {
	reg := New()
	root := schema.ComponentInstance{ID: "root", Parent: "", Name: "", State: schema.ComponentActive}
	child := schema.ComponentInstance{ID: "billing", Parent: "root", Name: "billing", State: schema.ComponentActive}
	require.NoError(t, reg.PatchComponent(nil, &root))
	require.NoError(t, reg.PatchComponent(nil, &child))

	got, err := reg.ResolvePath("billing")
	require.NoError(t, err)
	require.Equal(t, "billing", got.ID)

	_, err = reg.ResolvePath("nope")
	require.Error(t, err)
}
