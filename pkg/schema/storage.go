package schema

import "github.com/relaydb/relay/pkg/types"

// StorageEntry is a `_storage` system-table row: the developer-visible
// identity of an uploaded file plus the content-addressed blob it
// resolves to. The digest, not the developer id, is what the blob store
// keys its on-disk layout by, so two uploads of identical bytes share
// one blob.
type StorageEntry struct {
	ID          types.InternalID
	Digest      string
	Size        int64
	ContentType string
	CreatedAt   types.Timestamp
}
