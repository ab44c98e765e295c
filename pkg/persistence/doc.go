/*
Package persistence is the durable document log and index log: the only
component in the system that writes bytes to disk. It stores every
document version ever committed (never in place), plus a derived index
log used for range scans, and a small bucket of global key/value
metadata (schema version markers, retention cursors).

The on-disk layout follows pkg/storage's bucket-per-entity bbolt
convention (one bucket per logical table, JSON-marshaled values),
generalized here to three buckets: documents, indexes, and globals,
each keyed so that bbolt's native byte-lexicographic cursor order does
the range-scan work for us.
*/
package persistence
