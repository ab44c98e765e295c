package schema

import "github.com/relaydb/relay/pkg/types"

// JobStatus is the lifecycle of a scheduled function call, matching
// rust_runner's JobStatus (Pending/Running/Completed/Failed/Cancelled).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never run again,
// matching JobStatus::is_terminal.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether a job in this status is still eligible to run,
// matching JobStatus::is_active.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// ScheduledJob is a `_scheduled_jobs` system-table row: a deferred call
// into a mutation or action, addressed by function path rather than by
// name the way rust_runner's JobInfo carries `function_name`.
type ScheduledJob struct {
	ID              string
	Name            string
	Path            string
	Args            types.Value
	IdentitySubject string
	Status          JobStatus
	ScheduledAt     types.Timestamp // wall-clock millis when Schedule was called
	ExecuteAt       types.Timestamp // wall-clock millis the job becomes eligible to run
	RetryCount      int
	MaxRetries      int
	Error           string
}
