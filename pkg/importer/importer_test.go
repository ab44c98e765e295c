package importer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*Importer, *registry.Registry, persistence.PersistenceReader) {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	return NewImporter(reg, store.Reader(), c, config.Defaults().Transaction), reg, store.Reader()
}

// row builds a BatchWriteRow whose payload is encoded the same
// invertible internal JSON form a function call's args travel in.
func row(t *testing.T, table string, op BatchWriteOperation, fields map[string]types.Value) BatchWriteRow {
	t.Helper()
	objFields := make([]types.ObjectField, 0, len(fields))
	for name, v := range fields {
		objFields = append(objFields, types.Field(name, v))
	}
	raw, err := types.EncodeInternal(types.ObjOf(objFields...))
	require.NoError(t, err)
	return BatchWriteRow{Table: table, Operation: op, Row: raw}
}

func TestBatchWriteUpsertCreatesTableAndRow(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	r := row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"name":          types.Str("ada"),
	})
	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{r}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)

	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Value)
	name, ok := rec.Value.Get("name")
	require.True(t, ok)
	require.Equal(t, "ada", name.Str)
}

func TestBatchWriteUpsertThenUpsertReplaces(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"name":          types.Str("ada"),
	})}))
	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"name":          types.Str("grace"),
	})}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)
	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	name, _ := rec.Value.Get("name")
	require.Equal(t, "grace", name.Str)
}

func TestBatchWriteUpdatePatchesExistingRow(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"name":          types.Str("ada"),
		"age":           types.Int(30),
	})}))
	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", Update, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"age":           types.Int(31),
	})}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)
	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	name, _ := rec.Value.Get("name")
	require.Equal(t, "ada", name.Str) // untouched field survives the shallow merge
	age, _ := rec.Value.Get("age")
	require.Equal(t, int64(31), age.Int64)
}

func TestBatchWriteHardDeleteRemovesRow(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
		"name":          types.Str("ada"),
	})}))
	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{row(t, "users", HardDelete, map[string]types.Value{
		fivetranIDField: types.Str("u1"),
	})}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)
	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestBatchWriteStoresFivetranMetadataUnderMetadataField(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	r := row(t, "users", Upsert, map[string]types.Value{
		fivetranIDField:      types.Str("u1"),
		fivetranSyncedField:  types.Int(1000),
		fivetranDeletedField: types.Bool_(false),
		"name":               types.Str("ada"),
	})
	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{r}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)
	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	_, ok := rec.Value.Get(fivetranSyncedField)
	require.False(t, ok)
	meta, ok := rec.Value.Get(metadataField)
	require.True(t, ok)
	synced, ok := meta.Get(syncedSubfield)
	require.True(t, ok)
	require.Equal(t, int64(1000), synced.Int64)
	deleted, ok := meta.Get(deletedSubfield)
	require.True(t, ok)
	require.False(t, deleted.Bool)
}

func TestTruncateTableSoftDeleteMarksRows(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{
		row(t, "users", Upsert, map[string]types.Value{fivetranIDField: types.Str("u1"), fivetranSyncedField: types.Int(100)}),
		row(t, "users", Upsert, map[string]types.Value{fivetranIDField: types.Str("u2"), fivetranSyncedField: types.Int(200)}),
	}))

	cutoff := int64(150)
	require.NoError(t, im.TruncateTable(ctx, TruncateTableArgs{TableName: "users", DeleteBefore: &cutoff, DeleteType: SoftDelete}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)

	u1, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	meta, ok := u1.Value.Get(metadataField)
	require.True(t, ok)
	deleted, ok := meta.Get(deletedSubfield)
	require.True(t, ok)
	require.True(t, deleted.Bool)

	u2, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u2"}, nil)
	require.NoError(t, err)
	meta, ok = u2.Value.Get(metadataField)
	require.True(t, ok)
	_, ok = meta.Get(deletedSubfield)
	require.False(t, ok) // synced after cutoff, untouched
}

func TestTruncateTableHardDeleteRemovesRows(t *testing.T) {
	im, reg, reader := newFixture(t)
	ctx := context.Background()

	require.NoError(t, im.BatchWrite(ctx, []BatchWriteRow{
		row(t, "users", Upsert, map[string]types.Value{fivetranIDField: types.Str("u1")}),
	}))
	require.NoError(t, im.TruncateTable(ctx, TruncateTableArgs{TableName: "users", DeleteType: HardDeleteType}))

	tablet, _, err := reg.ResolveName(schema.Namespace{}, "users")
	require.NoError(t, err)
	rec, err := reader.GetDocument(ctx, types.DocumentID{Tablet: tablet, InternalID: "u1"}, nil)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestTruncateTableOfUnknownTableIsNoop(t *testing.T) {
	im, _, _ := newFixture(t)
	require.NoError(t, im.TruncateTable(context.Background(), TruncateTableArgs{TableName: "nope", DeleteType: HardDeleteType}))
}

func TestGetSchemaReturnsNullWithoutAnActiveSchema(t *testing.T) {
	im, _, _ := newFixture(t)
	raw, err := im.GetSchema(context.Background())
	require.NoError(t, err)

	var decoded any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Nil(t, decoded)
}
