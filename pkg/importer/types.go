package importer

import "encoding/json"

// BatchWriteOperation selects how a BatchWriteRow is applied, mirroring
// api_types.rs's BatchWriteOperation enum.
type BatchWriteOperation string

const (
	Upsert     BatchWriteOperation = "upsert"
	Update     BatchWriteOperation = "update"
	HardDelete BatchWriteOperation = "hard_delete"
)

// BatchWriteRow is one row of a POST /api/streaming_import/apply_fivetran_operations
// request body, mirroring api_types.rs's BatchWriteRow.
type BatchWriteRow struct {
	Table     string              `json:"table"`
	Operation BatchWriteOperation `json:"operation"`
	Row       json.RawMessage     `json:"row"`
}

// DeleteType selects whether TruncateTable removes rows outright or
// only marks them deleted, mirroring api_types.rs's DeleteType enum.
type DeleteType string

const (
	SoftDelete     DeleteType = "soft_delete"
	HardDeleteType DeleteType = "hard_delete"
)

// TruncateTableArgs is the body of a POST
// /api/streaming_import/fivetran_truncate_table request, mirroring
// api_types.rs's TruncateTableArgs. DeleteBefore is nil for "truncate
// everything"; when set, only rows synced at or before it are affected.
// A DeleteBefore in the future is forwarded unmodified rather than
// rejected or clamped to "now" - this destination has no opinion about
// clock skew between it and the connector driving it.
type TruncateTableArgs struct {
	TableName    string     `json:"tableName"`
	DeleteBefore *int64     `json:"deleteBefore,omitempty"` // unix millis, matches types.Timestamp's resolution
	DeleteType   DeleteType `json:"deleteType"`
}

// the well-known Fivetran column names with destination-specific
// handling, matching FivetranFieldName.is_fivetran_system_field in
// api_types.rs.
const (
	fivetranIDField      = "_fivetran_id"
	fivetranSyncedField  = "_fivetran_synced"
	fivetranDeletedField = "_fivetran_deleted"
)

// the Convex-side field names these map to on the stored document,
// matching FivetranFieldName::try_into<FieldPath>'s "fivetran.*" nesting
// for Fivetran's own bookkeeping columns.
const (
	metadataField   = "fivetran"
	syncedSubfield  = "synced"
	deletedSubfield = "deleted"
)
