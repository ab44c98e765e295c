// Package scheduler defers a mutation or action call until a later
// wall-clock time, the way a guest function's `scheduler.runAfter`/
// `runAt` binding would. Grounded on original_source's
// crates/rust_runner/src/scheduler.rs (JobId, ScheduleOptions,
// JobStatus, JobInfo, and the JobScheduler trait's schedule_job/
// cancel_job/get_job_info/list_jobs operations). This package previously
// assigned pending containers to healthy worker nodes on a fixed tick;
// it keeps that same ticker-driven "one pass per tick" shape but now
// runs it against `_scheduled_jobs` rows instead of container
// placements.
package scheduler
