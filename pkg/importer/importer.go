package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// Committer is the narrow slice of pkg/committer's API a streaming
// import needs: a snapshot to begin a transaction against, and a place
// to commit it - the same decoupling shape as pkg/filestorage.Committer.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// Importer implements the Fivetran/Airbyte streaming destination: tables
// named by the connector are created Active on first use (streaming
// import has no prepare/commit staging step the way snapshot import
// does - every batch lands directly), and every write addresses a row
// by the connector's own "_fivetran_id" used directly as the document's
// id.
type Importer struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	txnLimits config.TransactionLimits
}

func NewImporter(reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, txnLimits config.TransactionLimits) *Importer {
	return &Importer{reg: reg, reader: reader, committer: committer, txnLimits: txnLimits}
}

var importerIdentity = txn.Identity{Subject: "importer"}

// GetSchema returns the active root-namespace schema, or nil if none has
// been pushed - the destination-discovery step a connector runs before
// its first sync, matching Destination::get_schema's "Option<DatabaseSchema>".
//
// This is a deliberately simplified rendering of the pushed schema
// (table names, validator sources, and declared indexes) rather than a
// port of the original's DatabaseSchema/shape_inference model: that
// model lives in a separate crate this repo never pulled in, and a
// Fivetran connector only consults get_schema to decide whether it's
// talking to a backend that already has a notion of these tables, not
// to derive full type information from it.
func (im *Importer) GetSchema(ctx context.Context) (json.RawMessage, error) {
	active, ok := im.reg.ActiveSchema(schema.Namespace{})
	if !ok {
		return json.Marshal(nil)
	}
	return json.Marshal(active)
}

// TruncateTable removes (or soft-deletes) every row of tableName synced
// at or before args.DeleteBefore, or every row if it's nil - matching
// Destination::truncate_table. A table the connector has never written
// to is truncated as a no-op rather than an error, since "nothing to
// truncate" and "table doesn't exist yet" are indistinguishable from a
// connector's point of view on its very first sync.
func (im *Importer) TruncateTable(ctx context.Context, args TruncateTableArgs) error {
	tablet, _, err := im.reg.ResolveName(schema.Namespace{}, args.TableName)
	if err != nil {
		return nil
	}

	snapshot, err := im.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	readTs := types.Timestamp(snapshot)

	indexName := schema.IndexName{Tablet: tablet, Descriptor: schema.ByID}.String()
	results, err := im.reader.IndexScan(ctx, indexName, types.All(), readTs, types.Ascending, 0)
	if err != nil {
		return fmt.Errorf("importer: scan %s for truncate: %w", args.TableName, err)
	}

	tx := txn.Begin(importerIdentity, snapshot, im.reg, im.reader, im.txnLimits)
	for _, r := range results {
		if r.Record.Value == nil {
			continue
		}
		if !truncateApplies(*r.Record.Value, args.DeleteBefore) {
			continue
		}
		docID := types.DocumentID{Tablet: tablet, InternalID: r.Record.ID.InternalID}
		if args.DeleteType == HardDeleteType {
			if err := tx.Delete(ctx, docID); err != nil {
				tx.Cancel()
				return err
			}
			continue
		}
		if err := tx.Patch(ctx, docID, markDeletedPatch()); err != nil {
			tx.Cancel()
			return err
		}
	}

	if _, err := im.committer.Commit(ctx, tx); err != nil {
		return err
	}
	return nil
}

// truncateApplies reports whether a stored row's fivetran.synced
// timestamp falls at or before deleteBefore; a row with no recorded
// synced timestamp truncates unconditionally, same as a nil deleteBefore.
func truncateApplies(v types.Value, deleteBefore *int64) bool {
	if deleteBefore == nil {
		return true
	}
	meta, ok := v.Get(metadataField)
	if !ok {
		return true
	}
	synced, ok := meta.Get(syncedSubfield)
	if !ok || synced.Kind != types.KindInt64 {
		return true
	}
	return synced.Int64 <= *deleteBefore
}

func markDeletedPatch() types.Value {
	return types.ObjOf(types.Field(metadataField, types.ObjOf(types.Field(deletedSubfield, types.Bool_(true)))))
}

// BatchWrite applies every row of a single Fivetran batch atomically,
// auto-creating any table named by a row that doesn't exist yet -
// matching Destination::batch_write, which is handed the whole batch in
// one call and (per apply_fivetran_operations's framing as one POST) is
// expected to apply it as a unit.
func (im *Importer) BatchWrite(ctx context.Context, rows []BatchWriteRow) error {
	for _, tableName := range distinctTables(rows) {
		if err := im.ensureTable(ctx, tableName); err != nil {
			return err
		}
	}

	snapshot, err := im.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(importerIdentity, snapshot, im.reg, im.reader, im.txnLimits)

	for _, row := range rows {
		if err := im.applyRow(ctx, tx, row); err != nil {
			tx.Cancel()
			return err
		}
	}

	if _, err := im.committer.Commit(ctx, tx); err != nil {
		return err
	}
	return nil
}

func distinctTables(rows []BatchWriteRow) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rows {
		if !seen[r.Table] {
			seen[r.Table] = true
			names = append(names, r.Table)
		}
	}
	return names
}

func (im *Importer) applyRow(ctx context.Context, tx *txn.Transaction, row BatchWriteRow) error {
	tablet, _, err := im.reg.ResolveName(schema.Namespace{}, row.Table)
	if err != nil {
		return apperr.Wrap(apperr.System, err, "importer: table %q should have been created", row.Table)
	}

	decoded, err := types.DecodeInternal(row.Row)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, err, "importer: decode row for %q", row.Table)
	}
	if decoded.Kind != types.KindObject {
		return apperr.New(apperr.BadRequest, "importer: row for %q must be an object", row.Table)
	}

	id, value, err := splitFivetranRow(decoded)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, err, "importer: row for %q", row.Table)
	}
	docID := types.DocumentID{Tablet: tablet, InternalID: id}

	switch row.Operation {
	case HardDelete:
		return tx.Delete(ctx, docID)
	case Update:
		return tx.Patch(ctx, docID, value)
	case Upsert:
		existing, err := tx.Get(ctx, docID)
		if err != nil {
			return err
		}
		if existing != nil {
			return tx.Replace(ctx, docID, value)
		}
		_, err = tx.Insert(ctx, tablet, id, value)
		return err
	default:
		return apperr.New(apperr.BadRequest, "importer: unknown operation %q", row.Operation)
	}
}

// splitFivetranRow pulls "_fivetran_id" out as the row's identity and
// folds the remaining Fivetran system columns ("_fivetran_synced",
// "_fivetran_deleted") into a nested "fivetran" object, matching
// FivetranFieldName::try_into<FieldPath>'s SYNCED_FIELD_PATH/
// SOFT_DELETE_FIELD_PATH nesting rather than leaving Fivetran's
// underscore-prefixed columns sitting at the top level of the document.
func splitFivetranRow(v types.Value) (types.InternalID, types.Value, error) {
	idField, ok := v.Get(fivetranIDField)
	if !ok || idField.Kind != types.KindString {
		return "", types.Value{}, fmt.Errorf("row missing string %q field", fivetranIDField)
	}

	var userFields []types.ObjectField
	var metaFields []types.ObjectField
	for _, f := range v.Object {
		switch f.Name {
		case fivetranIDField:
			// consumed above, not stored as a user field
		case fivetranSyncedField:
			metaFields = append(metaFields, types.Field(syncedSubfield, f.Value))
		case fivetranDeletedField:
			metaFields = append(metaFields, types.Field(deletedSubfield, f.Value))
		default:
			userFields = append(userFields, f)
		}
	}
	if len(metaFields) > 0 {
		userFields = append(userFields, types.Field(metadataField, types.ObjOf(metaFields...)))
	}
	return types.InternalID(idField.Str), types.ObjOf(userFields...), nil
}

// ensureTable creates tableName as a fresh tablet with an enabled by_id
// index if it doesn't already resolve, committing both `_tables` and
// `_index` rows in one transaction so the by_id index exists in the
// registry mirror (via committer.patchRegistry) before any data row
// ever targets the new tablet - staging a data write and its table
// creation in the same transaction would miss the index, since
// Transaction.computeIndexUpdates consults the registry's current state
// at staging time, before this transaction's own writes are visible.
func (im *Importer) ensureTable(ctx context.Context, tableName string) error {
	if _, _, err := im.reg.ResolveName(schema.Namespace{}, tableName); err == nil {
		return nil
	}

	snapshot, err := im.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(importerIdentity, snapshot, im.reg, im.reader, im.txnLimits)

	tablet := types.TabletID("tab_" + uuid.NewString())
	table := schema.TableMetadata{
		Tablet: tablet,
		Name:   tableName,
		Number: im.nextTableNumber(),
		State:  schema.TableActive,
	}
	tableRowID := types.InternalID(uuid.NewString())
	if _, err := tx.Insert(ctx, registry.TablesTablet, tableRowID, registry.EncodeTableMetadata(table)); err != nil {
		tx.Cancel()
		return err
	}

	byID := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: tablet, Descriptor: schema.ByID}, nil)
	indexRowID := types.InternalID(uuid.NewString())
	if _, err := tx.Insert(ctx, registry.IndexTablet, indexRowID, registry.EncodeIndexMetadata(byID)); err != nil {
		tx.Cancel()
		return err
	}

	if _, err := im.committer.Commit(ctx, tx); err != nil {
		return err
	}
	return nil
}

func (im *Importer) nextTableNumber() types.TableNumber {
	var max types.TableNumber
	for _, tablet := range im.reg.AllTablets() {
		if t, ok := im.reg.TableByTablet(tablet); ok && t.Number > max {
			max = t.Number
		}
	}
	return max + 1
}
