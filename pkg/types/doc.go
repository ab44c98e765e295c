/*
Package types defines the core data structures shared by every engine in
relay: the tagged document value, document and index identity, timestamps,
read/write sets, and the byte-interval representation used by index scans.

# Architecture

The types package is the foundation of relay's data model. It defines:

  - Value: a recursively nested tagged union (null, int64, float64, bool,
    string, bytes, array, set, map, object)
  - Document identity: TabletID/InternalID (physical) and TableNumber/
    InternalID (developer-visible, stable across table renames)
  - Timestamp and RepeatableTimestamp: the monotone integers persistence
    assigns to commits and promises not to accept new writes below
  - Interval: a lexicographic byte range over index keys, with an
    excluded-or-unbounded end bound
  - ReadSet/WriteSet: the per-transaction record of what was read and
    what is staged to be written

All types here are plain data - no I/O, no locking. Engines in pkg/txn,
pkg/persistence, and pkg/subscription build behavior around them.
*/
package types
