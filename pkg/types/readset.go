package types

// ReadSetEntry records that a transaction scanned interval Interval of
// index IndexName (whose key is built from IndexedFields). The committer
// checks every entry against the commits that landed between a
// transaction's snapshot and its commit timestamp; the subscription engine
// checks every entry against every future commit.
type ReadSetEntry struct {
	IndexName     string
	IndexedFields []string
	Interval      Interval
}

// ReadSet is the sound over-approximation of everything a transaction
// depended on: every index interval it scanned, plus accounting of how
// much it read.
type ReadSet struct {
	Entries          []ReadSetEntry
	UserDocsRead     int64
	UserBytesRead    int64
	SystemDocsRead   int64
	SystemBytesRead  int64
}

// Add appends an entry. Entries are not merged: entries over the same
// index with adjacent or overlapping intervals are all kept.
func (rs *ReadSet) Add(e ReadSetEntry) {
	rs.Entries = append(rs.Entries, e)
}

// Intersects reports whether any entry of rs overlaps interval iv on index
// name.
func (rs *ReadSet) Intersects(indexName string, iv Interval) bool {
	for _, e := range rs.Entries {
		if e.IndexName != indexName {
			continue
		}
		if Intersects(e.Interval, iv) {
			return true
		}
	}
	return false
}

// WriteSet is the set of staged document writes for an in-flight
// transaction, keyed by document id so that later writes in the same
// transaction supersede earlier ones (last-write-wins within a txn).
type WriteSet struct {
	order []DocumentID
	byID  map[DocumentID]DocumentWrite
}

// DocumentWrite pairs a document's pre-image (nil on insert) with its
// post-image (nil on delete).
type DocumentWrite struct {
	Previous *Document
	New      *Document
}

func NewWriteSet() *WriteSet {
	return &WriteSet{byID: make(map[DocumentID]DocumentWrite)}
}

// Stage records a write, overwriting any prior staged write for the same
// document id in this transaction but preserving the original Previous
// image so OCC sees the true pre-transaction state.
func (ws *WriteSet) Stage(id DocumentID, next *Document) {
	existing, ok := ws.byID[id]
	if !ok {
		ws.order = append(ws.order, id)
		ws.byID[id] = DocumentWrite{New: next}
		return
	}
	existing.New = next
	ws.byID[id] = existing
}

// SetPrevious records the pre-transaction image of id the first time it is
// touched; subsequent calls are no-ops.
func (ws *WriteSet) SetPrevious(id DocumentID, prev *Document) {
	existing, ok := ws.byID[id]
	if ok && existing.Previous != nil {
		return
	}
	if !ok {
		ws.order = append(ws.order, id)
	}
	existing.Previous = prev
	ws.byID[id] = existing
}

// Get returns the staged write for id, if any.
func (ws *WriteSet) Get(id DocumentID) (DocumentWrite, bool) {
	w, ok := ws.byID[id]
	return w, ok
}

// Len returns the number of distinct documents staged.
func (ws *WriteSet) Len() int { return len(ws.order) }

// Range iterates staged writes in staging order.
func (ws *WriteSet) Range(fn func(id DocumentID, w DocumentWrite) bool) {
	for _, id := range ws.order {
		if !fn(id, ws.byID[id]) {
			return
		}
	}
}
