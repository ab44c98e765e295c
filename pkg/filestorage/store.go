package filestorage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// Committer is the narrow slice of pkg/committer's API file storage
// needs: a snapshot to begin the metadata write against, and a place to
// commit it to. Same decoupling shape as pkg/facade.Committer and
// pkg/sandbox.Committer.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// Metadata is a file's resolved descriptor: enough for an HTTP handler
// to set Content-Type/Content-Length/ETag headers without re-reading
// the blob.
type Metadata struct {
	ID          types.InternalID
	Digest      string
	Size        int64
	ContentType string
	CreatedAt   types.Timestamp
}

// Store composes the content-addressed BlobStore with the `_storage`
// system table: Put hashes and persists a blob, then records a
// developer-visible id pointing at its digest; Open resolves that id
// back to a blob and its metadata (Stat resolves the metadata alone).
type Store struct {
	blobs     *BlobStore
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	txnLimits config.TransactionLimits
}

// New constructs a Store over an already-opened BlobStore.
func New(blobs *BlobStore, reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, txnLimits config.TransactionLimits) *Store {
	return &Store{blobs: blobs, reg: reg, reader: reader, committer: committer, txnLimits: txnLimits}
}

// Put uploads r's content, assigns it a fresh developer-visible id, and
// records its metadata in `_storage`.
func (s *Store) Put(ctx context.Context, r io.Reader, contentType string) (Metadata, error) {
	digest, size, err := s.blobs.Put(r)
	if err != nil {
		return Metadata{}, err
	}

	snapshot, err := s.committer.Snapshot(ctx)
	if err != nil {
		return Metadata{}, err
	}
	tx := txn.Begin(txn.Identity{Subject: "filestorage"}, snapshot, s.reg, s.reader, s.txnLimits)

	id := types.InternalID(uuid.NewString())
	now := types.Timestamp(time.Now().UnixMilli())
	entry := schema.StorageEntry{ID: id, Digest: digest, Size: size, ContentType: contentType, CreatedAt: now}
	if _, err := tx.Insert(ctx, registry.StorageTablet, id, registry.EncodeStorageEntry(entry)); err != nil {
		tx.Cancel()
		return Metadata{}, err
	}
	if _, err := s.committer.Commit(ctx, tx); err != nil {
		return Metadata{}, err
	}

	return Metadata{ID: id, Digest: digest, Size: size, ContentType: contentType, CreatedAt: now}, nil
}

// Stat resolves id to its metadata without opening the underlying blob.
func (s *Store) Stat(ctx context.Context, id types.InternalID) (Metadata, error) {
	rec, err := s.reader.GetDocument(ctx, types.DocumentID{Tablet: registry.StorageTablet, InternalID: id}, nil)
	if err != nil {
		return Metadata{}, err
	}
	if rec == nil || rec.Value == nil {
		return Metadata{}, apperr.New(apperr.NotFound, "filestorage: no file with id %s", id)
	}
	entry, err := registry.DecodeStorageEntry(id, *rec.Value)
	if err != nil {
		return Metadata{}, apperr.Wrap(apperr.System, err, "filestorage: decode _storage row")
	}
	return Metadata{ID: entry.ID, Digest: entry.Digest, Size: entry.Size, ContentType: entry.ContentType, CreatedAt: entry.CreatedAt}, nil
}

// Open resolves id and opens its blob for reading. Returns
// apperr.NotFound if either the metadata row or the blob itself is
// missing.
func (s *Store) Open(ctx context.Context, id types.InternalID) (io.ReadSeekCloser, Metadata, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, Metadata{}, err
	}
	f, err := s.blobs.Open(meta.Digest)
	if err != nil {
		return nil, Metadata{}, err
	}
	return f, meta, nil
}
