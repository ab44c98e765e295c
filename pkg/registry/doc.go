/*
Package registry is the in-memory mirror of relay's system tables: the
live, concurrency-safe copy of `_tables`, `_index`, `_components`, and
`_schemas` that every name resolution and query plan reads instead of
round-tripping to persistence.

Bootstrap loads every system-table document up to the bootstrap
timestamp; after that the committer is the only writer, patching one
table/index/component/schema at a time with the before/after diff from
a commit's write set and validating the pre-image against the current
in-memory row.
*/
package registry
