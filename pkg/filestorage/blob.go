// Package filestorage implements the content-addressed blob store
// behind the file upload/download endpoints, adapted from pkg/volume's
// local bind-mount driver: the same os.MkdirAll-under-a-base-path shape,
// but one file per blob (sharded two hex characters deep) keyed by
// SHA-256 digest instead of a directory per developer-assigned volume id,
// so two uploads of identical bytes share one blob on disk.
package filestorage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/relaydb/relay/pkg/apperr"
)

// DefaultBlobsPath is the base directory for on-disk blobs, absent an
// operator override (mirrors pkg/volume's DefaultVolumesPath).
const DefaultBlobsPath = "/var/lib/relay/blobs"

// BlobStore is a content-addressed local disk blob store: Put hashes
// its input while streaming it to a temp file, then atomically renames
// it into place under its digest; Open opens a blob for (optionally
// ranged) reading.
type BlobStore struct {
	basePath string
}

// NewBlobStore creates a blob store rooted at basePath, creating it if
// necessary (mirrors pkg/volume's NewLocalDriver).
func NewBlobStore(basePath string) (*BlobStore, error) {
	if basePath == "" {
		basePath = DefaultBlobsPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.System, err, "filestorage: create blobs directory")
	}
	return &BlobStore{basePath: basePath}, nil
}

// Put streams r to disk, returning the hex SHA-256 digest and byte
// count. The write goes to a temp file first and is renamed into its
// final digest-named path only once fully written and hashed, so a
// reader never observes a partially-written blob.
func (s *BlobStore) Put(r io.Reader) (digest string, size int64, err error) {
	tmp, err := os.CreateTemp(s.basePath, "upload-*.tmp")
	if err != nil {
		return "", 0, apperr.Wrap(apperr.System, err, "filestorage: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	h := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, h))
	if err != nil {
		tmp.Close()
		return "", 0, apperr.Wrap(apperr.System, err, "filestorage: write upload")
	}
	if err := tmp.Close(); err != nil {
		return "", 0, apperr.Wrap(apperr.System, err, "filestorage: close upload")
	}

	digest = hex.EncodeToString(h.Sum(nil))
	finalPath := s.pathFor(digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", 0, apperr.Wrap(apperr.System, err, "filestorage: create blob shard directory")
	}
	if _, err := os.Stat(finalPath); err == nil {
		// Identical content already stored; discard the duplicate temp file.
		return digest, n, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", 0, apperr.Wrap(apperr.System, err, "filestorage: finalize blob")
	}
	return digest, n, nil
}

// Open returns a handle for reading the blob named by digest. The
// caller is responsible for Close; *os.File satisfies io.ReadSeekCloser
// so range requests can Seek before reading.
func (s *BlobStore) Open(digest string) (*os.File, error) {
	f, err := os.Open(s.pathFor(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "filestorage: no blob with digest %s", digest)
		}
		return nil, apperr.Wrap(apperr.System, err, "filestorage: open blob")
	}
	return f, nil
}

// Delete removes a blob. Not wired to any reference count - the façade
// layer above is expected to only delete a blob once it has confirmed
// no `_storage` row still references its digest.
func (s *BlobStore) Delete(digest string) error {
	if err := os.Remove(s.pathFor(digest)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.System, err, "filestorage: delete blob")
	}
	return nil
}

// pathFor shards blobs two hex characters deep so a single directory
// never holds more than ~1/256th of all blobs.
func (s *BlobStore) pathFor(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(s.basePath, digest)
	}
	return filepath.Join(s.basePath, digest[:2], fmt.Sprintf("%s.blob", digest))
}
