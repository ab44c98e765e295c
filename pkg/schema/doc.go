/*
Package schema defines the metadata shapes of relay's system tables:
tables, indexes, components, and per-namespace schemas. These are the
structs the registry bootstraps from `_tables`/`_index`/`_components`/
`_schemas` and that the committer patches in place after every commit.

This package holds only metadata and the state machines each kind of
record moves through - no persistence, no locking. See pkg/registry for
the live, mutable, concurrency-safe mirror built from these types.
*/
package schema
