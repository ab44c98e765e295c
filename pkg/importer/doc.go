// Package importer implements the Fivetran/Airbyte-style streaming
// import surface: a destination that an external ETL connector drives
// row-by-row instead of the bulk snapshot path in pkg/exports.
//
// Grounded on original_source's convex_fivetran_destination crate
// (crates/fivetran_destination/src/api_types.rs and convex_api.rs): the
// wire types (BatchWriteOperation, BatchWriteRow, DeleteType,
// TruncateTableArgs) and the three endpoints a destination exposes
// (get_schema, fivetran_truncate_table, apply_fivetran_operations) are
// carried over unchanged in shape. Two fields the connector treats
// specially - "_fivetran_id" (the row's stable identity) and
// "_fivetran_synced" (the row's last-sync timestamp, used by
// TruncateTable's delete_before cutoff) - are threaded through the same
// way: the id becomes the row's types.InternalID directly (no
// idGen()-style secondary lookup needed, since this deployment's insert
// API already takes an explicit id), and the synced timestamp is stored
// as an ordinary field on the document.
//
// A row's "row" payload travels in the same invertible internal JSON
// encoding as a function call's args (api_types.rs serializes it with
// convex_object_json_serializer, the Rust analogue of
// types.EncodeInternal/DecodeInternal here), so BatchWriteRow decodes it
// with types.DecodeInternal exactly like pkg/httpapi's decodeArgs does.
package importer
