package persistence

import (
	"context"
	"encoding/json"

	"github.com/relaydb/relay/pkg/types"
)

// GlobalKey names one row of the globals bucket: small persistence-wide
// metadata that isn't a document, e.g. the schema generation marker or a
// retention cursor.
type GlobalKey string

// IndexEntry is one row of the index log: the index key a document
// produced at a given timestamp, pointing back at the document log row
// it was derived from.
type IndexEntry struct {
	IndexID string
	Key     []byte
	Ts      types.Timestamp
	DocID   types.DocumentID
	Deleted bool
}

// IndexResult is one row returned from an index scan: the index key and
// the document log record it currently points to.
type IndexResult struct {
	Key    []byte
	Record types.LogRecord
}

// WriteBatch accumulates one committer transaction's durable effects
// before they're handed to Persistence.Write atomically.
type WriteBatch struct {
	Documents []types.LogRecord
	Indexes   []IndexEntry
}

func (b *WriteBatch) AddDocument(r types.LogRecord) { b.Documents = append(b.Documents, r) }
func (b *WriteBatch) AddIndex(e IndexEntry)         { b.Indexes = append(b.Indexes, e) }
func (b *WriteBatch) Len() int                      { return len(b.Documents) + len(b.Indexes) }

// Persistence is the durable document log, index log, and globals
// bucket. Every write is append-only: a document update is a new log
// row linked to its predecessor via PrevTs, never an in-place mutation.
// This is the only component in the system that writes bytes to disk.
type Persistence interface {
	// Reader returns a PersistenceReader for point-in-time queries. Safe
	// for concurrent use from multiple goroutines.
	Reader() PersistenceReader

	// Write atomically appends a batch of document and index log rows.
	// The caller (the committer) has already resolved OCC conflicts and
	// assigned Ts; Write never rejects on conflict, only on I/O failure.
	Write(ctx context.Context, batch WriteBatch) error

	// WriteGlobal upserts one globals-bucket row.
	WriteGlobal(ctx context.Context, key GlobalKey, value json.RawMessage) error

	// GetGlobal returns a globals-bucket row, or nil if it doesn't exist.
	GetGlobal(ctx context.Context, key GlobalKey) (json.RawMessage, error)

	// MaxTimestamp returns the newest timestamp ever written, 0 if empty.
	MaxTimestamp(ctx context.Context) (types.Timestamp, error)

	// DeleteBefore purges document and index log rows with Ts strictly
	// less than cutoff, except the newest version of each document at or
	// before cutoff and the newest row of each index key at or before
	// cutoff (so reads at cutoff or later, current reads included, never
	// lose data). Used by the committer's retention loop to bound log
	// growth.
	DeleteBefore(ctx context.Context, cutoff types.Timestamp) (int, error)

	Close() error
}

// PersistenceReader provides point-in-time consistent read operations.
type PersistenceReader interface {
	// GetDocument returns the latest non-deleted version of a document.
	// If atTs is non-nil, returns the latest version at or before atTs
	// (a time-travel read); otherwise the current latest version. Returns
	// nil if the document doesn't exist or is deleted at that point.
	GetDocument(ctx context.Context, id types.DocumentID, atTs *types.Timestamp) (*types.LogRecord, error)

	// LoadDocuments returns every log row for tablet within tsRange,
	// including intermediate versions, ordered as requested. Used by
	// backfill and export, not by ordinary query execution.
	LoadDocuments(ctx context.Context, tablet types.TabletID, tsRange types.TimestampRange, order types.Order) ([]types.LogRecord, error)

	// IndexScan walks an index within iv as of readTs, returning at most
	// limit results (0 means unlimited) ordered as requested. Each
	// result is the latest non-deleted document version at readTs for
	// that key.
	IndexScan(ctx context.Context, indexID string, iv types.Interval, readTs types.Timestamp, order types.Order, limit int) ([]IndexResult, error)

	// IndexGet performs a point lookup on an index as of readTs.
	IndexGet(ctx context.Context, indexID string, key []byte, readTs types.Timestamp) (*IndexResult, error)

	// DocumentCount returns an approximate count of non-deleted
	// documents in tablet, used for table.size() without a full scan.
	DocumentCount(ctx context.Context, tablet types.TabletID) (int64, error)
}
