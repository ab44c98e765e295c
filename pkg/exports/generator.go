package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"sort"

	"github.com/relaydb/relay/pkg/filestorage"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
)

// Committer is the narrow slice of *committer.Committer a snapshot
// export needs: a repeatable read timestamp to scan every table at,
// consistently. Exports never write, so unlike pkg/facade.Committer and
// pkg/filestorage.Committer this has no Commit method.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
}

// Generator builds snapshot export ZIP archives and stores the result
// as an ordinary uploaded file, the way the original hands the finished
// archive to its own file storage layer (storage.ChannelWriter) rather
// than returning it in memory.
type Generator struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	files     *filestorage.Store
}

func NewGenerator(reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, files *filestorage.Store) *Generator {
	return &Generator{reg: reg, reader: reader, committer: committer, files: files}
}

// Generate snapshots every active table in the deployment as of the
// generator's current repeatable timestamp and returns the stored ZIP's
// file metadata, ready to hand back through httpapi's existing
// /api/storage/{id} download route.
func (g *Generator) Generate(ctx context.Context) (filestorage.Metadata, error) {
	snapshot, err := g.committer.Snapshot(ctx)
	if err != nil {
		return filestorage.Metadata{}, err
	}
	readTs := types.Timestamp(snapshot)

	var buf bytes.Buffer
	zw, err := newSnapshotZipWriter(&buf)
	if err != nil {
		return filestorage.Metadata{}, fmt.Errorf("exports: open zip writer: %w", err)
	}

	for _, group := range g.groupActiveTablesByNamespace() {
		for _, table := range group.tables {
			if err := g.writeTable(ctx, zw, group.pathPrefix, table, readTs); err != nil {
				return filestorage.Metadata{}, err
			}
		}
	}

	// `_storage` is never registered in `_tables` (pkg/registry keeps no
	// in-memory mirror of it, per registry.StorageTablet's doc comment),
	// so it never appears in groupActiveTablesByNamespace and is always
	// exported for the root namespace explicitly here instead.
	storageTable := schema.TableMetadata{Tablet: registry.StorageTablet, Name: "_storage", State: schema.TableActive}
	if err := g.writeStorageTable(ctx, zw, "", storageTable, readTs); err != nil {
		return filestorage.Metadata{}, err
	}

	if err := zw.close(); err != nil {
		return filestorage.Metadata{}, fmt.Errorf("exports: close zip writer: %w", err)
	}

	meta, err := g.files.Put(ctx, bytes.NewReader(buf.Bytes()), "application/zip")
	if err != nil {
		return filestorage.Metadata{}, err
	}
	return meta, nil
}

type namespaceGroup struct {
	pathPrefix string
	tables     []schema.TableMetadata
}

// groupActiveTablesByNamespace buckets every active table by its owning
// component, sorted for deterministic archive contents, and assigns
// each bucket the path prefix its entries are written under - empty for
// the root namespace, "_components/<name>/" for a mounted component,
// mirroring the original's per-component_path prefixing without
// requiring the full dotted component path this registry doesn't track.
func (g *Generator) groupActiveTablesByNamespace() []namespaceGroup {
	byNamespace := make(map[string][]schema.TableMetadata)
	for _, tablet := range g.reg.AllTablets() {
		table, ok := g.reg.TableByTablet(tablet)
		if !ok || !table.IsActive() {
			continue
		}
		byNamespace[table.Namespace.ComponentID] = append(byNamespace[table.Namespace.ComponentID], table)
	}

	componentIDs := make([]string, 0, len(byNamespace))
	for id := range byNamespace {
		componentIDs = append(componentIDs, id)
	}
	sort.Strings(componentIDs)

	groups := make([]namespaceGroup, 0, len(componentIDs))
	for _, id := range componentIDs {
		tables := byNamespace[id]
		sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
		groups = append(groups, namespaceGroup{pathPrefix: g.pathPrefixFor(id), tables: tables})
	}
	return groups
}

func (g *Generator) pathPrefixFor(componentID string) string {
	if componentID == "" {
		return ""
	}
	name := componentID
	if inst, err := g.reg.LoadComponent(componentID); err == nil && inst.Name != "" {
		name = inst.Name
	}
	return fmt.Sprintf("_components/%s/", name)
}

// writeTable streams a user table's current documents into
// <prefix><name>/documents.jsonl, using the lossy clean encoding an
// external reader (or npx convex import) consumes, and records the
// field shapes it observed into <prefix><name>/generated_schema.jsonl.
func (g *Generator) writeTable(ctx context.Context, zw *snapshotZipWriter, pathPrefix string, table schema.TableMetadata, readTs types.Timestamp) error {
	rows, err := g.scanTable(ctx, table.Tablet, readTs)
	if err != nil {
		return err
	}

	upload, err := zw.startTable(pathPrefix, table.Name)
	if err != nil {
		return err
	}

	shape := newGeneratedShape()
	for _, rec := range rows {
		exportValue := g.withSystemFields(ctx, rec)
		shape.observe(exportValue)
		raw, err := types.EncodeClean(exportValue)
		if err != nil {
			return fmt.Errorf("exports: encode %s: %w", rec.ID, err)
		}
		if err := upload.writeLine(raw); err != nil {
			return err
		}
	}

	return zw.writeGeneratedSchema(pathPrefix, table.Name, *shape)
}

// withSystemFields adds the "_id" and "_creationTime" fields every
// exported document carries alongside its user value, matching the
// shape a function sees through db.get.
func (g *Generator) withSystemFields(ctx context.Context, rec types.LogRecord) types.Value {
	if rec.Value == nil {
		return types.Null()
	}
	if rec.Value.Kind != types.KindObject {
		return *rec.Value
	}
	fields := make([]types.ObjectField, 0, len(rec.Value.Object)+2)
	fields = append(fields, rec.Value.Object...)
	fields = append(fields, types.Field("_id", types.Str(string(rec.ID.InternalID))))
	fields = append(fields, types.Field("_creationTime", types.Int(int64(g.firstWriteTimestamp(ctx, rec)))))
	return types.ObjOf(fields...)
}

// firstWriteTimestamp walks a document's version chain back through
// LogRecord.PrevTs to the timestamp of its first write - the closest
// analogue this log-structured store has to a stored creation time,
// since the document log never materializes one separately.
func (g *Generator) firstWriteTimestamp(ctx context.Context, rec types.LogRecord) types.Timestamp {
	cur := rec
	for cur.PrevTs != nil {
		prev, err := g.reader.GetDocument(ctx, cur.ID, cur.PrevTs)
		if err != nil || prev == nil {
			break
		}
		cur = *prev
	}
	return cur.Ts
}

func (g *Generator) scanTable(ctx context.Context, tablet types.TabletID, readTs types.Timestamp) ([]types.LogRecord, error) {
	indexName := schema.IndexName{Tablet: tablet, Descriptor: schema.ByID}.String()
	results, err := g.reader.IndexScan(ctx, indexName, types.All(), readTs, types.Ascending, 0)
	if err != nil {
		return nil, fmt.Errorf("exports: scan %s: %w", tablet, err)
	}
	rows := make([]types.LogRecord, 0, len(results))
	for _, r := range results {
		rows = append(rows, r.Record)
	}
	return rows, nil
}

// writeStorageTable exports `_storage` the way export_storage.rs does:
// a documents.jsonl of developer-visible metadata rows plus the actual
// file bytes behind every row, each written under
// "_storage/<id><guessed extension>" so the archive is browsable on its
// own.
func (g *Generator) writeStorageTable(ctx context.Context, zw *snapshotZipWriter, pathPrefix string, table schema.TableMetadata, readTs types.Timestamp) error {
	rows, err := g.scanTable(ctx, table.Tablet, readTs)
	if err != nil {
		return err
	}

	upload, err := zw.startTable(pathPrefix, table.Name)
	if err != nil {
		return err
	}

	type storageRow struct {
		id    types.InternalID
		entry schema.StorageEntry
	}
	var entries []storageRow
	for _, rec := range rows {
		if rec.Value == nil {
			continue
		}
		entry, err := registry.DecodeStorageEntry(rec.ID.InternalID, *rec.Value)
		if err != nil {
			return fmt.Errorf("exports: decode _storage row %s: %w", rec.ID, err)
		}
		entries = append(entries, storageRow{id: rec.ID.InternalID, entry: entry})

		raw, err := json.Marshal(map[string]any{
			"_id":          string(rec.ID.InternalID),
			"sha256":       entry.Digest,
			"size":         entry.Size,
			"content_type": entry.ContentType,
		})
		if err != nil {
			return err
		}
		if err := upload.writeLine(raw); err != nil {
			return err
		}
	}

	for _, row := range entries {
		rc, meta, err := g.files.Open(ctx, row.id)
		if err != nil {
			return fmt.Errorf("exports: open blob for %s: %w", row.id, err)
		}
		path := fmt.Sprintf("%s%s/%s%s", pathPrefix, table.Name, row.id, extensionGuess(meta.ContentType))
		err = zw.streamFullFile(path, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extensionGuess(contentType string) string {
	if contentType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
