package txn

import (
	"context"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
)

// Identity names who is running a transaction, threaded through for
// auth checks the façade performs before staging any write.
type Identity struct {
	Subject string // empty for an unauthenticated caller
}

// Transaction is one in-flight read/write view: a fixed snapshot, a
// sound read set, and a buffer of staged writes never visible to any
// other transaction until the committer durably applies them.
type Transaction struct {
	identity Identity
	snapshot types.RepeatableTimestamp
	reg      *registry.Registry
	reader   persistence.PersistenceReader
	limits   config.TransactionLimits

	readSet  types.ReadSet
	writeSet *types.WriteSet

	// indexUpdates accumulates the index-log rows this transaction's
	// staged writes produced, in staging order, for the committer to
	// hand to Persistence.Write alongside the document rows.
	indexUpdates []persistence.IndexEntry
}

// Begin opens a new transaction reading at snapshot against reg/reader.
func Begin(identity Identity, snapshot types.RepeatableTimestamp, reg *registry.Registry, reader persistence.PersistenceReader, limits config.TransactionLimits) *Transaction {
	return &Transaction{
		identity: identity,
		snapshot: snapshot,
		reg:      reg,
		reader:   reader,
		limits:   limits,
		writeSet: types.NewWriteSet(),
	}
}

// Snapshot returns the timestamp this transaction's reads are pinned to.
func (t *Transaction) Snapshot() types.RepeatableTimestamp { return t.snapshot }

// Identity returns who is running this transaction.
func (t *Transaction) Identity() Identity { return t.identity }

// ReadSet returns the transaction's accumulated read set, handed to the
// committer's OCC conflict check at commit time.
func (t *Transaction) ReadSet() types.ReadSet { return t.readSet }

// WriteSet returns the transaction's staged writes.
func (t *Transaction) WriteSet() *types.WriteSet { return t.writeSet }

// IndexUpdates returns the index-log rows staged writes have produced so
// far, for the committer to append alongside the document writes.
func (t *Transaction) IndexUpdates() []persistence.IndexEntry { return t.indexUpdates }

// Cancel discards every staged read and write. A cancelled transaction
// must not be reused.
func (t *Transaction) Cancel() {
	t.writeSet = types.NewWriteSet()
	t.readSet = types.ReadSet{}
	t.indexUpdates = nil
}

func (t *Transaction) byIDIndexName(tablet types.TabletID) string {
	return schema.IndexName{Tablet: tablet, Descriptor: schema.ByID}.String()
}

// Get returns the current value of id: the transaction's own staged
// write if present, otherwise the Persistence revision at the snapshot.
// Records a point read-set entry on the tablet's by_id index so a later
// write to this document invalidates the transaction.
func (t *Transaction) Get(ctx context.Context, id types.DocumentID) (*types.Value, error) {
	if w, ok := t.writeSet.Get(id); ok {
		if w.New == nil {
			return nil, nil
		}
		return &w.New.Value, nil
	}

	key, err := EncodeDocumentKey(nil, types.Null(), id.InternalID)
	if err != nil {
		return nil, err
	}
	t.readSet.Add(types.ReadSetEntry{
		IndexName: t.byIDIndexName(id.Tablet),
		Interval:  types.Point(key),
	})

	rec, err := t.reader.GetDocument(ctx, id, tsPtr(types.Timestamp(t.snapshot)))
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Value == nil {
		return nil, nil
	}
	t.readSet.UserDocsRead++
	t.readSet.UserBytesRead += types.Size(*rec.Value)
	return rec.Value, nil
}

func tsPtr(ts types.Timestamp) *types.Timestamp { return &ts }

// IndexRangeResult is one row of an IndexRange scan: the document's
// developer-stable identity plus its value at the transaction's
// snapshot.
type IndexRangeResult struct {
	ID    types.DocumentID
	Value types.Value
}

// IndexRange scans indexName within iv, merging the Persistence view at
// the transaction's snapshot with any buffered writes that fall in the
// same interval, and records the actually-scanned interval (clamped by
// limit) in the read set.
func (t *Transaction) IndexRange(ctx context.Context, indexName string, iv types.Interval, order types.Order, limit int) ([]IndexRangeResult, error) {
	results, err := t.reader.IndexScan(ctx, indexName, iv, types.Timestamp(t.snapshot), order, limit)
	if err != nil {
		return nil, err
	}

	out := make([]IndexRangeResult, 0, len(results))
	seen := make(map[types.DocumentID]bool, len(results))
	for _, r := range results {
		if r.Record.Deleted || r.Record.Value == nil {
			continue
		}
		if w, ok := t.writeSet.Get(r.Record.ID); ok {
			seen[r.Record.ID] = true
			if w.New == nil {
				continue // deleted within this transaction
			}
			out = append(out, IndexRangeResult{ID: r.Record.ID, Value: w.New.Value})
			continue
		}
		seen[r.Record.ID] = true
		out = append(out, IndexRangeResult{ID: r.Record.ID, Value: *r.Record.Value})
	}

	// Overlay any staged-but-uncommitted write whose current value would
	// fall in iv but that Persistence hasn't seen yet.
	t.writeSet.Range(func(id types.DocumentID, w types.DocumentWrite) bool {
		if seen[id] || w.New == nil {
			return true
		}
		var fields []string
		found := false
		for _, idx := range t.reg.IndexesForTablet(id.Tablet) {
			if idx.Kind == schema.IndexDatabase && (schema.IndexName{Tablet: id.Tablet, Descriptor: idx.ID.Descriptor}).String() == indexName {
				fields, found = idx.IndexedFields, true
				if idx.ID.Descriptor == schema.ByCreationTime {
					fields = []string{"_creationTime"}
				}
			}
		}
		if !found {
			return true
		}
		key, err := EncodeDocumentKey(fields, indexableValue(w.New), id.InternalID)
		if err != nil {
			return true
		}
		if iv.Contains(key) {
			out = append(out, IndexRangeResult{ID: id, Value: w.New.Value})
		}
		return true
	})

	scanned := iv
	if limit > 0 && len(out) >= limit {
		// The actual scanned range ends at the last key returned, not the
		// interval's nominal upper bound - record the tighter bound so an
		// unrelated later insert past this point doesn't spuriously
		// invalidate this read.
		if len(results) > 0 {
			last := results[len(results)-1].Key
			scanned = types.Interval{Start: iv.Start, StartIncluded: iv.StartIncluded, End: types.Excluded(types.ImmediateSuccessor(last))}
		}
	}
	t.readSet.Add(types.ReadSetEntry{IndexName: indexName, Interval: scanned})
	t.readSet.UserDocsRead += int64(len(out))

	return out, nil
}

// TableIsEmpty reports whether tablet has zero live documents, derived
// from a limit-1 scan of its by_id index.
func (t *Transaction) TableIsEmpty(ctx context.Context, tablet types.TabletID) (bool, error) {
	rows, err := t.IndexRange(ctx, t.byIDIndexName(tablet), types.All(), types.Ascending, 1)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// Count returns the approximate number of live documents in tablet. This
// records a full-table read-set entry, since any insert or delete on the
// tablet could change the result.
func (t *Transaction) Count(ctx context.Context, tablet types.TabletID) (int64, error) {
	t.readSet.Add(types.ReadSetEntry{IndexName: t.byIDIndexName(tablet), Interval: types.All()})
	return t.reader.DocumentCount(ctx, tablet)
}

// Insert stages a new document in tablet. It fails if a document with
// this id already exists or a transaction write limit is exceeded. The
// value is not checked against the table's active schema, here or in
// the sandbox.
func (t *Transaction) Insert(ctx context.Context, tablet types.TabletID, id types.InternalID, value types.Value) (types.DocumentID, error) {
	docID := types.DocumentID{Tablet: tablet, InternalID: id}
	if existing, _ := t.Get(ctx, docID); existing != nil {
		return docID, apperr.New(apperr.BadRequest, "document %s already exists", docID)
	}
	doc := &types.Document{ID: docID, Value: value}
	if err := t.stageWrite(tablet, docID, nil, doc); err != nil {
		return docID, err
	}
	return docID, nil
}

// Replace stages a full replacement of an existing document's value.
func (t *Transaction) Replace(ctx context.Context, id types.DocumentID, value types.Value) error {
	previous, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if previous == nil {
		return apperr.New(apperr.NotFound, "document %s does not exist", id)
	}
	var prevDoc *types.Document
	if w, ok := t.writeSet.Get(id); ok && w.Previous != nil {
		prevDoc = w.Previous
	} else {
		prevDoc = &types.Document{ID: id, Value: *previous}
	}
	next := &types.Document{ID: id, Value: value}
	return t.stageWrite(id.Tablet, id, prevDoc, next)
}

// Patch stages a shallow merge of patch's top-level object fields into
// the existing document.
func (t *Transaction) Patch(ctx context.Context, id types.DocumentID, patch types.Value) error {
	previous, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if previous == nil {
		return apperr.New(apperr.NotFound, "document %s does not exist", id)
	}
	if previous.Kind != types.KindObject || patch.Kind != types.KindObject {
		return apperr.New(apperr.BadRequest, "patch requires an object document and an object patch")
	}
	merged := mergeObjects(*previous, patch)
	return t.Replace(ctx, id, merged)
}

func mergeObjects(base, patch types.Value) types.Value {
	fields := make([]types.ObjectField, 0, len(base.Object)+len(patch.Object))
	seen := make(map[string]bool, len(patch.Object))
	for _, pf := range patch.Object {
		seen[pf.Name] = true
	}
	for _, bf := range base.Object {
		if seen[bf.Name] {
			continue
		}
		fields = append(fields, bf)
	}
	fields = append(fields, patch.Object...)
	return types.ObjOf(fields...)
}

// Delete stages a tombstone for id.
func (t *Transaction) Delete(ctx context.Context, id types.DocumentID) error {
	previous, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if previous == nil {
		return apperr.New(apperr.NotFound, "document %s does not exist", id)
	}
	var prevDoc *types.Document
	if w, ok := t.writeSet.Get(id); ok && w.Previous != nil {
		prevDoc = w.Previous
	} else {
		prevDoc = &types.Document{ID: id, Value: *previous}
	}
	return t.stageWrite(id.Tablet, id, prevDoc, nil)
}

// stageWrite records the write in the write set, enforces transaction
// size limits, and recomputes every index update the tablet's indexes
// require for this document.
func (t *Transaction) stageWrite(tablet types.TabletID, id types.DocumentID, previous, next *types.Document) error {
	isSystem := isSystemTablet(tablet)

	var size int64
	if next != nil {
		size = types.Size(next.Value)
	}
	if isSystem {
		t.readSet.SystemDocsRead++ // system writes ride along; accounted as system activity
		if size > t.limits.MaxSystemBytesWritten {
			return apperr.New(apperr.QuotaExceeded, "system write exceeds max_system_bytes_written")
		}
	} else {
		if int64(t.writeSet.Len())+1 > t.limits.MaxUserDocsWritten {
			return apperr.New(apperr.QuotaExceeded, "transaction exceeds max_user_docs_written")
		}
		if size > t.limits.MaxUserBytesWritten {
			return apperr.New(apperr.QuotaExceeded, "document exceeds max_user_bytes_written")
		}
	}

	if previous != nil {
		t.writeSet.SetPrevious(id, previous)
	}
	t.writeSet.Stage(id, next)

	return t.computeIndexUpdates(tablet, id, previous, next)
}

// computeIndexUpdates builds an IndexEntry for every index declared on
// tablet reflecting this write: a deletion entry for the previous key
// (if the document existed) and an insertion entry for the new key (if
// the document isn't being deleted).
func (t *Transaction) computeIndexUpdates(tablet types.TabletID, id types.DocumentID, previous, next *types.Document) error {
	for _, idx := range t.reg.IndexesForTablet(tablet) {
		if idx.Kind != schema.IndexDatabase {
			continue // search/vector indexes are maintained by the search engine's delta, not here
		}
		name := schema.IndexName{Tablet: tablet, Descriptor: idx.ID.Descriptor}.String()

		fields := idx.IndexedFields
		if idx.ID.Descriptor == schema.ByCreationTime {
			fields = []string{"_creationTime"}
		}

		if previous != nil {
			key, err := EncodeDocumentKey(fields, indexableValue(previous), id.InternalID)
			if err != nil {
				return err
			}
			t.indexUpdates = append(t.indexUpdates, persistence.IndexEntry{IndexID: name, Key: key, DocID: id, Deleted: true})
		}
		if next != nil {
			key, err := EncodeDocumentKey(fields, indexableValue(next), id.InternalID)
			if err != nil {
				return err
			}
			if len(key) > persistence.MaxIndexKeyBytes {
				return apperr.New(apperr.BadRequest, "indexed value for %s exceeds the maximum index key size", name)
			}
			t.indexUpdates = append(t.indexUpdates, persistence.IndexEntry{IndexID: name, Key: key, DocID: id})
		}
	}
	return nil
}

// indexableValue exposes a document's creation time as a synthetic
// "_creationTime" field alongside its user value, so the built-in
// by_creation_time index can be driven through the same indexed-field
// path as every other index.
func indexableValue(doc *types.Document) types.Value {
	if doc.Value.Kind != types.KindObject {
		return doc.Value
	}
	fields := make([]types.ObjectField, 0, len(doc.Value.Object)+1)
	fields = append(fields, doc.Value.Object...)
	fields = append(fields, types.Field("_creationTime", types.Int(int64(doc.CreationTime))))
	return types.ObjOf(fields...)
}

func isSystemTablet(tablet types.TabletID) bool {
	return len(tablet) > 0 && tablet[0] == '_'
}
