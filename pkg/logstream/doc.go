// Package logstream fans a deployment's function log lines out to
// externally configured sinks, independently of the client sync
// protocol. It is the supplemented counterpart to original_source's
// crates/application/src/log_streaming.rs: sinks are persisted as
// `_log_sinks` rows (state Pending -> Active/Failed, never mirrored
// into pkg/registry's in-memory tables the way `_tables`/`_index` are -
// the same non-mirrored-system-tablet treatment pkg/filestorage gives
// `_storage`) and delivered to over a pluggable Deliverer.
//
// The fan-out mechanism is adapted from pkg/events.Broker's shape: a
// buffered channel feeding a single dispatch loop that broadcasts each
// batch to every subscriber, reshaped here so a "subscriber" is a
// configured sink rather than an in-process channel, and delivery
// happens over the network instead of an in-memory send.
package logstream
