// Package exports builds the ZIP snapshot export: one README, one
// <table>/documents.jsonl plus
// <table>/generated_schema.jsonl per user table, and the file contents
// behind every `_storage` row - adapted from the original's
// zip_uploader.rs (entry layout, permissions, compression) and
// export_storage.rs (`_storage` table handling) onto archive/zip, the
// same ZIP library the example pack itself reaches for
// (evalgo-org-eve/archive). The finished archive is stored as an
// ordinary file through pkg/filestorage, so downloading an export reuses
// the same content-addressed blob path as any user upload.
package exports
