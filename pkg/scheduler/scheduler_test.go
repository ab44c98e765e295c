package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const usersTablet types.TabletID = "tab_users_1"

type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

func newFixture(t *testing.T) (*Scheduler, *facade.Facade) {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	table := schema.TableMetadata{Tablet: usersTablet, Name: "users", Number: 1, State: schema.TableActive}
	require.NoError(t, reg.PatchTable(nil, &table))
	byID := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: usersTablet, Descriptor: schema.ByID}, nil)
	require.NoError(t, reg.PatchIndex(nil, &byID))

	c, err := committer.New(store, reg, nil, nil, time.Minute)
	require.NoError(t, err)

	functions := facade.NewFunctionTable()
	subs := subscription.New()
	f, err := facade.New(reg, store.Reader(), c, functions, subs, config.Defaults().Cache, 1024, config.Defaults().Sandbox, config.Defaults().Transaction)
	require.NoError(t, err)

	s := NewScheduler(reg, store.Reader(), c, f, alwaysLeader{}, config.Defaults().Transaction, 10*time.Millisecond)
	return s, f
}

func identity() txn.Identity { return txn.Identity{Subject: "test"} }

func TestScheduleThenRunOncePicksUpDueJob(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{MaxRetries: 3})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobPending, job.Status)

	require.NoError(t, s.runOnce(context.Background()))

	job, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobCompleted, job.Status)
}

func TestRunOnceSkipsJobNotYetDue(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{DelayMS: time.Hour.Milliseconds()})
	require.NoError(t, err)

	require.NoError(t, s.runOnce(context.Background()))

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobPending, job.Status)
}

func TestFailingJobRetriesThenFails(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/broken",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `throw new Error("boom");`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/broken", types.Null(), ScheduleOptions{MaxRetries: 2})
	require.NoError(t, err)

	require.NoError(t, s.runOnce(context.Background()))
	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobPending, job.Status)
	require.Equal(t, 1, job.RetryCount)

	require.NoError(t, s.runOnce(context.Background()))
	job, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobFailed, job.Status)
	require.Equal(t, 2, job.RetryCount)
	require.NotEmpty(t, job.Error)
}

func TestCancelPendingJobStopsItFromRunning(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{MaxRetries: 3})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), jobID))

	require.NoError(t, s.runOnce(context.Background()))

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, schema.JobCancelled, job.Status)
}

func TestCancelTerminalJobErrors(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{MaxRetries: 3})
	require.NoError(t, err)
	require.NoError(t, s.runOnce(context.Background()))

	err = s.Cancel(context.Background(), jobID)
	require.Error(t, err)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	_, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{DelayMS: time.Hour.Milliseconds()})
	require.NoError(t, err)
	_, err = s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{DelayMS: time.Hour.Milliseconds()})
	require.NoError(t, err)

	pending := schema.JobPending
	jobs, err := s.ListJobs(context.Background(), &pending, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestStartAndStopRunTickLoop(t *testing.T) {
	s, f := newFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path:       "users/create",
		Type:       facade.FunctionMutation,
		Visibility: facade.VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	jobID, err := s.Schedule(context.Background(), identity(), "users/create", types.Null(), ScheduleOptions{MaxRetries: 1})
	require.NoError(t, err)

	s.Start()
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		job, err := s.GetJob(context.Background(), jobID)
		return err == nil && job.Status == schema.JobCompleted
	}, time.Second, 5*time.Millisecond)
}
