package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/rs/zerolog"
)

// Committer is the narrow slice of pkg/committer's API the scheduler
// needs, the same decoupling shape as pkg/filestorage.Committer and
// pkg/logstream.Committer.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// LeaderChecker reports whether this node currently holds raft
// leadership, the same gate pkg/committer.runRetention uses to keep a
// follower from running its own sweep independently.
type LeaderChecker interface {
	IsLeader() bool
}

// Caller is the slice of *facade.Facade the scheduler dispatches jobs
// through: resolve a path's declared function type, then invoke it as a
// mutation or action exactly as an httpapi request would.
type Caller interface {
	Functions() *facade.FunctionTable
	Mutation(ctx context.Context, req facade.CallRequest) (facade.MutationResult, error)
	Action(ctx context.Context, req facade.CallRequest) (facade.MutationResult, error)
}

var schedulerIdentity = txn.Identity{Subject: "scheduler"}

// ScheduleOptions controls when a deferred call becomes eligible to run
// and how many times it may be retried, matching rust_runner's
// ScheduleOptions (delay_ms/execute_at_ms/max_retries/name).
type ScheduleOptions struct {
	Name        string
	DelayMS     int64 // relative delay from now; ignored if ExecuteAtMS is set
	ExecuteAtMS int64 // absolute wall-clock execute time; takes precedence over DelayMS
	MaxRetries  int
}

// Scheduler defers a mutation or action call until a later wall-clock
// time, persisting the deferral as a `_scheduled_jobs` row and picking
// up eligible rows on a fixed tick.
type Scheduler struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	caller    Caller
	leader    LeaderChecker
	txnLimits config.TransactionLimits
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// NewScheduler constructs a Scheduler that ticks every interval, only
// acting on rows while leader.IsLeader() reports true.
func NewScheduler(reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, caller Caller, leader LeaderChecker, txnLimits config.TransactionLimits, interval time.Duration) *Scheduler {
	return &Scheduler{
		reg:       reg,
		reader:    reader,
		committer: committer,
		caller:    caller,
		leader:    leader,
		txnLimits: txnLimits,
		interval:  interval,
		logger:    log.WithComponent("scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop ends the tick loop started by Start.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("job scheduler started")

	for {
		select {
		case <-ticker.C:
			if !s.leader.IsLeader() {
				continue
			}
			if err := s.runOnce(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("job scheduler stopped")
			return
		}
	}
}

// runOnce scans `_scheduled_jobs` for pending rows whose execute time
// has arrived and dispatches each to a mutation or action in turn. One
// slow job delays the rest of the tick, the same tradeoff
// pkg/committer.sweepOnce accepts for a single-pass-per-tick sweep.
func (s *Scheduler) runOnce(ctx context.Context) error {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: scan _scheduled_jobs: %w", err)
	}

	now := types.Timestamp(time.Now().UnixMilli())
	for id, job := range jobs {
		if job.Status != schema.JobPending || job.ExecuteAt > now {
			continue
		}
		s.runJob(ctx, id, job)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, id types.InternalID, job schema.ScheduledJob) {
	if err := s.patchJob(ctx, id, func(j *schema.ScheduledJob) { j.Status = schema.JobRunning }); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark job running")
		return
	}

	spec, err := s.caller.Functions().Resolve(job.Path)
	if err != nil {
		s.failOrRetry(ctx, id, job, err)
		return
	}

	req := facade.CallRequest{
		Identity: txn.Identity{Subject: job.IdentitySubject},
		Path:     job.Path,
		Args:     job.Args,
	}

	var callErr error
	switch spec.Type {
	case facade.FunctionMutation:
		_, callErr = s.caller.Mutation(ctx, req)
	case facade.FunctionAction:
		_, callErr = s.caller.Action(ctx, req)
	default:
		callErr = apperr.New(apperr.BadRequest, "scheduler: %q is not a mutation or action", job.Path)
	}

	if callErr != nil {
		s.failOrRetry(ctx, id, job, callErr)
		return
	}

	if err := s.patchJob(ctx, id, func(j *schema.ScheduledJob) { j.Status = schema.JobCompleted }); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark job completed")
	}
}

// failOrRetry increments the job's retry count on failure; once it
// reaches MaxRetries the job is marked Failed for good, otherwise it is
// left Pending so the next tick retries it - the coarser max_retries-
// only model rust_runner's scheduler uses, with no exponential backoff.
func (s *Scheduler) failOrRetry(ctx context.Context, id types.InternalID, job schema.ScheduledJob, callErr error) {
	s.logger.Warn().Err(callErr).Str("job_id", job.ID).Str("path", job.Path).Msg("scheduled job failed")
	err := s.patchJob(ctx, id, func(j *schema.ScheduledJob) {
		j.RetryCount++
		j.Error = callErr.Error()
		if j.RetryCount >= j.MaxRetries {
			j.Status = schema.JobFailed
		} else {
			j.Status = schema.JobPending
		}
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("record job failure")
	}
}

// Schedule persists a deferred call to path, to run no earlier than
// opts.ExecuteAtMS (if set) or opts.DelayMS from now, and returns the
// new job's id.
func (s *Scheduler) Schedule(ctx context.Context, identity txn.Identity, path string, args types.Value, opts ScheduleOptions) (string, error) {
	now := time.Now()
	executeAt := opts.ExecuteAtMS
	if executeAt == 0 {
		executeAt = now.UnixMilli() + opts.DelayMS
	}

	snapshot, err := s.committer.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	tx := txn.Begin(schedulerIdentity, snapshot, s.reg, s.reader, s.txnLimits)

	id := types.InternalID(uuid.NewString())
	job := schema.ScheduledJob{
		ID:              string(id),
		Name:            opts.Name,
		Path:            path,
		Args:            args,
		IdentitySubject: identity.Subject,
		Status:          schema.JobPending,
		ScheduledAt:     types.Timestamp(now.UnixMilli()),
		ExecuteAt:       types.Timestamp(executeAt),
		MaxRetries:      opts.MaxRetries,
	}
	if _, err := tx.Insert(ctx, registry.ScheduledJobsTablet, id, registry.EncodeScheduledJob(job)); err != nil {
		tx.Cancel()
		return "", err
	}
	if _, err := s.committer.Commit(ctx, tx); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Cancel marks a pending or running job Cancelled so the next tick
// skips it. Cancelling a job that already reached a terminal status is
// an error, matching JobScheduler::cancel_job's contract that only an
// active job can be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	id := types.InternalID(jobID)
	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.New(apperr.BadRequest, "scheduler: job %q already %s", jobID, job.Status)
	}
	return s.patchJob(ctx, id, func(j *schema.ScheduledJob) { j.Status = schema.JobCancelled })
}

// GetJob returns one job's current state by id.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (schema.ScheduledJob, error) {
	return s.getJob(ctx, types.InternalID(jobID))
}

// ListJobs returns every job, optionally filtered to one status. limit
// <= 0 means unbounded.
func (s *Scheduler) ListJobs(ctx context.Context, status *schema.JobStatus, limit int) ([]schema.ScheduledJob, error) {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.ScheduledJob, 0, len(jobs))
	for _, j := range jobs {
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, j)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Scheduler) getJob(ctx context.Context, id types.InternalID) (schema.ScheduledJob, error) {
	jobs, err := s.scanJobs(ctx)
	if err != nil {
		return schema.ScheduledJob{}, err
	}
	job, ok := jobs[id]
	if !ok {
		return schema.ScheduledJob{}, apperr.New(apperr.NotFound, "scheduler: no job %q", id)
	}
	return job, nil
}

func (s *Scheduler) scanJobs(ctx context.Context) (map[types.InternalID]schema.ScheduledJob, error) {
	snapshot, err := s.committer.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	indexName := schema.IndexName{Tablet: registry.ScheduledJobsTablet, Descriptor: schema.ByID}.String()
	results, err := s.reader.IndexScan(ctx, indexName, types.All(), types.Timestamp(snapshot), types.Ascending, 0)
	if err != nil {
		return nil, fmt.Errorf("scheduler: scan _scheduled_jobs: %w", err)
	}
	out := make(map[types.InternalID]schema.ScheduledJob, len(results))
	for _, r := range results {
		if r.Record.Value == nil {
			continue
		}
		job, err := registry.DecodeScheduledJob(r.Record.ID.InternalID, *r.Record.Value)
		if err != nil {
			return nil, err
		}
		out[r.Record.ID.InternalID] = job
	}
	return out, nil
}

func (s *Scheduler) patchJob(ctx context.Context, id types.InternalID, mutate func(*schema.ScheduledJob)) error {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}
	mutate(&job)

	snapshot, err := s.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(schedulerIdentity, snapshot, s.reg, s.reader, s.txnLimits)
	docID := types.DocumentID{Tablet: registry.ScheduledJobsTablet, InternalID: id}
	patch := types.ObjOf(
		types.Field("status", types.Str(string(job.Status))),
		types.Field("retry_count", types.Int(int64(job.RetryCount))),
		types.Field("error", types.Str(job.Error)),
	)
	if err := tx.Patch(ctx, docID, patch); err != nil {
		tx.Cancel()
		return err
	}
	_, err = s.committer.Commit(ctx, tx)
	return err
}
