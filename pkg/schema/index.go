package schema

import "github.com/relaydb/relay/pkg/types"

// IndexKind distinguishes the three index flavors a tablet can carry.
type IndexKind string

const (
	IndexDatabase IndexKind = "database"
	IndexText     IndexKind = "text"
	IndexVector   IndexKind = "vector"
)

// DatabaseIndexState is the on-disk lifecycle of a database index.
type DatabaseIndexState string

const (
	DatabaseIndexBackfilling DatabaseIndexState = "backfilling"
	DatabaseIndexBackfilled  DatabaseIndexState = "backfilled"
	DatabaseIndexEnabled     DatabaseIndexState = "enabled"
)

// SearchIndexState is the on-disk lifecycle of a text/vector index; it
// additionally tracks the timestamp of the last committed segment
// snapshot, since search indexes serve reads from flushed segments plus
// an in-memory delta rather than directly from the document log.
type SearchIndexState struct {
	State          DatabaseIndexState
	SnapshottedAt  *types.Timestamp
}

// Descriptor is the developer-chosen name of an index on a tablet, e.g.
// "by_status" or the reserved "by_id"/"by_creation_time".
type Descriptor string

const (
	ByID           Descriptor = "by_id"
	ByCreationTime Descriptor = "by_creation_time"
)

func (d Descriptor) IsReserved() bool { return d == ByID || d == ByCreationTime }

// IndexName identifies an index by the tablet it indexes plus its
// descriptor.
type IndexName struct {
	Tablet     types.TabletID
	Descriptor Descriptor
}

func (n IndexName) String() string { return string(n.Tablet) + "." + string(n.Descriptor) }

// IndexMetadata is one row of the `_index` system table. Exactly one of
// the Database/Text/Vector field groups is meaningful, selected by Kind -
// mirroring the tagged-config shape of the original bootstrap model
// without the generic type parameter a Rust enum would carry.
type IndexMetadata struct {
	Name types.TabletID
	ID   IndexName
	Kind IndexKind

	// Database index config.
	IndexedFields []string // ordered field paths
	DatabaseState DatabaseIndexState

	// Text index config.
	SearchField  string
	FilterFields []string
	TextState    SearchIndexState

	// Vector index config.
	VectorField    string
	VectorDims     int
	VectorFilters  []string
	VectorState    SearchIndexState
}

// NewBackfillingDatabaseIndex creates a database index in its initial
// Backfilling state.
func NewBackfillingDatabaseIndex(name IndexName, fields []string) IndexMetadata {
	return IndexMetadata{
		ID:            name,
		Kind:          IndexDatabase,
		IndexedFields: fields,
		DatabaseState: DatabaseIndexBackfilling,
	}
}

// NewEnabledDatabaseIndex creates a database index already in the Enabled
// state, used for the built-in by_id/by_creation_time indexes every
// tablet gets at creation.
func NewEnabledDatabaseIndex(name IndexName, fields []string) IndexMetadata {
	return IndexMetadata{
		ID:            name,
		Kind:          IndexDatabase,
		IndexedFields: fields,
		DatabaseState: DatabaseIndexEnabled,
	}
}

// ReadyForQueries reports whether the index can serve reads: Enabled for
// database indexes; for search indexes, a recorded segment snapshot
// (SnapshottedAt set), whatever their State.
func (m IndexMetadata) ReadyForQueries() bool {
	switch m.Kind {
	case IndexDatabase:
		return m.DatabaseState == DatabaseIndexEnabled
	case IndexText:
		return m.TextState.SnapshottedAt != nil
	case IndexVector:
		return m.VectorState.SnapshottedAt != nil
	default:
		return false
	}
}
