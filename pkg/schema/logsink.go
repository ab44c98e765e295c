package schema

// LogSinkState is the lifecycle of a configured log sink, matching
// log_streaming.rs's PENDING -> ACTIVE / FAILED -> TOMBSTONED states.
type LogSinkState string

const (
	LogSinkPending    LogSinkState = "pending"
	LogSinkActive     LogSinkState = "active"
	LogSinkFailed     LogSinkState = "failed"
	LogSinkTombstoned LogSinkState = "tombstoned"
)

// LogSinkEntry is a `_log_sinks` system-table row: a sink's own opaque
// JSON configuration (destination-specific - this package never parses
// it) plus the lifecycle state the delivery loop drives it through.
type LogSinkEntry struct {
	ID     string
	Config string // opaque JSON, caller-defined shape
	State  LogSinkState
	Error  string // populated when State == LogSinkFailed
}
