package exports

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/filestorage"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const usersTablet types.TabletID = "tab_users_1"

type fixture struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer *committer.Committer
	files     *filestorage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	table := schema.TableMetadata{Tablet: usersTablet, Name: "users", Number: 1, State: schema.TableActive}
	require.NoError(t, reg.PatchTable(nil, &table))
	byID := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: usersTablet, Descriptor: schema.ByID}, nil)
	require.NoError(t, reg.PatchIndex(nil, &byID))

	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	blobs, err := filestorage.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	files := filestorage.New(blobs, reg, store.Reader(), c, config.Defaults().Transaction)

	return &fixture{reg: reg, reader: store.Reader(), committer: c, files: files}
}

func (f *fixture) insert(t *testing.T, tablet types.TabletID, id types.InternalID, value types.Value) {
	t.Helper()
	ctx := context.Background()
	snapshot, err := f.committer.Snapshot(ctx)
	require.NoError(t, err)
	tx := txn.Begin(txn.Identity{Subject: "test"}, snapshot, f.reg, f.reader, config.Defaults().Transaction)
	_, err = tx.Insert(ctx, tablet, id, value)
	require.NoError(t, err)
	_, err = f.committer.Commit(ctx, tx)
	require.NoError(t, err)
}

func zipEntryNames(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		contents, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = contents
	}
	return out
}

func TestGenerateWritesReadmeAndTableDocuments(t *testing.T) {
	f := newFixture(t)
	f.insert(t, usersTablet, "u1", types.ObjOf(types.Field("name", types.Str("ada"))))
	f.insert(t, usersTablet, "u2", types.ObjOf(types.Field("name", types.Str("grace"))))

	g := NewGenerator(f.reg, f.reader, f.committer, f.files)
	meta, err := g.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "application/zip", meta.ContentType)

	rc, _, err := f.files.Open(context.Background(), meta.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	entries := zipEntryNames(t, data)
	require.Contains(t, entries, "README.md")
	require.Contains(t, entries, "users/documents.jsonl")
	require.Contains(t, entries, "users/generated_schema.jsonl")

	lines := bytes.Split(bytes.TrimRight(entries["users/documents.jsonl"], "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	require.Contains(t, string(lines[0]), "\"name\"")
	require.Contains(t, string(lines[0]), "\"_id\"")
}

func TestGenerateSkipsHiddenAndDeletingTables(t *testing.T) {
	f := newFixture(t)
	hiddenTablet := types.TabletID("tab_staging_2")
	hidden := schema.TableMetadata{Tablet: hiddenTablet, Name: "staging", Number: 2, State: schema.TableHidden}
	require.NoError(t, f.reg.PatchTable(nil, &hidden))

	g := NewGenerator(f.reg, f.reader, f.committer, f.files)
	meta, err := g.Generate(context.Background())
	require.NoError(t, err)

	rc, _, err := f.files.Open(context.Background(), meta.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	entries := zipEntryNames(t, data)
	require.NotContains(t, entries, "staging/documents.jsonl")
}

func TestGenerateIncludesStorageBlobs(t *testing.T) {
	f := newFixture(t)
	content := []byte("file contents for export")
	meta, err := f.files.Put(context.Background(), bytes.NewReader(content), "text/plain")
	require.NoError(t, err)

	g := NewGenerator(f.reg, f.reader, f.committer, f.files)
	exportMeta, err := g.Generate(context.Background())
	require.NoError(t, err)

	rc, _, err := f.files.Open(context.Background(), exportMeta.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	entries := zipEntryNames(t, data)
	require.Contains(t, entries, "_storage/documents.jsonl")

	found := false
	for name, contents := range entries {
		if name == "_storage/documents.jsonl" || name == "README.md" {
			continue
		}
		if bytes.Equal(contents, content) {
			found = true
		}
	}
	require.True(t, found, "expected an entry with the uploaded file's bytes, got %v", entries)
	_ = meta
}
