package sandbox

import (
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const usersTablet types.TabletID = "tab_users_1"

func newTxnFixture(t *testing.T) *txn.Transaction {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	table := schema.TableMetadata{Tablet: usersTablet, Name: "users", Number: 1, State: schema.TableActive}
	require.NoError(t, reg.PatchTable(nil, &table))
	byID := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: usersTablet, Descriptor: schema.ByID}, nil)
	require.NoError(t, reg.PatchIndex(nil, &byID))

	return txn.Begin(txn.Identity{Subject: "test"}, types.RepeatableTimestamp(0), reg, store.Reader(), config.Defaults().Transaction)
}

func TestIsolateInsertAndGetRoundTrip(t *testing.T) {
	tx := newTxnFixture(t)
	iso := NewIsolate(tx, Environment{Now: time.Unix(0, 0), Seed: 1}, DefaultQueryLimits())

	outcome := iso.Run(`
		var id = db.insert("tab_users_1", "u1", {name: "ada"});
		id;
	`)
	require.Nil(t, outcome.Err)
	require.NotNil(t, outcome.Result)
	require.Equal(t, types.KindString, outcome.Result.Kind)
}

func TestIsolateDeterministicTimeAndRandom(t *testing.T) {
	tx := newTxnFixture(t)
	fixedTime := time.Unix(1000, 0)
	iso := NewIsolate(tx, Environment{Now: fixedTime, Seed: 7}, DefaultQueryLimits())

	outcome := iso.Run(`now();`)
	require.Nil(t, outcome.Err)
	require.Equal(t, types.KindInt64, outcome.Result.Kind)
	require.Equal(t, fixedTime.UnixMilli(), outcome.Result.Int64)
}

func TestIsolateSyscallBudgetExceeded(t *testing.T) {
	tx := newTxnFixture(t)
	limits := DefaultQueryLimits()
	limits.MaxSyscalls = 2
	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1}, limits)

	outcome := iso.Run(`
		for (var i = 0; i < 10; i++) { envGet("X"); }
	`)
	require.NotNil(t, outcome.Err)
	require.Equal(t, "timeout", string(outcome.Err.Code))
}

func TestIsolateWallClockTimeout(t *testing.T) {
	tx := newTxnFixture(t)
	limits := DefaultQueryLimits()
	limits.WallClock = 10 * time.Millisecond
	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1}, limits)

	outcome := iso.Run(`while (true) {}`)
	require.NotNil(t, outcome.Err)
	require.Equal(t, "timeout", string(outcome.Err.Code))
}

func TestIsolateCapturesThrownErrorPayload(t *testing.T) {
	tx := newTxnFixture(t)
	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1}, DefaultQueryLimits())

	outcome := iso.Run(`throw {code: "invalid_arg", message: "bad input"};`)
	require.NotNil(t, outcome.Err)
	require.Equal(t, "developer_error", string(outcome.Err.Code))
	require.NotNil(t, outcome.Err.Payload)
}

func TestIsolateEnvReadFixedAtBegin(t *testing.T) {
	tx := newTxnFixture(t)
	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1, EnvVars: map[string]string{"FOO": "bar"}}, DefaultQueryLimits())

	outcome := iso.Run(`envGet("FOO");`)
	require.Nil(t, outcome.Err)
	require.Equal(t, "bar", outcome.Result.Str)
}

func TestIsolateEnvReadPrefersPersistedRowOverFixture(t *testing.T) {
	tx := newTxnFixture(t)
	id := types.DocumentID{Tablet: registry.EnvVarsTablet, InternalID: "FOO"}
	_, err := tx.Insert(t.Context(), registry.EnvVarsTablet, id.InternalID, registry.EncodeEnvVar("FOO", "persisted"))
	require.NoError(t, err)

	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1, EnvVars: map[string]string{"FOO": "fixture"}}, DefaultQueryLimits())
	outcome := iso.Run(`envGet("FOO");`)
	require.Nil(t, outcome.Err)
	require.Equal(t, "persisted", outcome.Result.Str)
}

func TestIsolateEnvReadStagesReadSetEntry(t *testing.T) {
	tx := newTxnFixture(t)
	iso := NewIsolate(tx, Environment{Now: time.Now(), Seed: 1}, DefaultQueryLimits())

	outcome := iso.Run(`envGet("FLAG");`)
	require.Nil(t, outcome.Err)
	require.Equal(t, types.KindNull, outcome.Result.Kind, "unset var should read as null/undefined, not a string")

	indexName := schema.IndexName{Tablet: registry.EnvVarsTablet, Descriptor: schema.ByID}.String()
	key, err := txn.EncodeDocumentKey(nil, types.Null(), "FLAG")
	require.NoError(t, err)
	rs := tx.ReadSet()
	require.True(t, rs.Intersects(indexName, types.Point(key)),
		"envGet must stage a read-set entry even for a name with no persisted row, so a later create still invalidates")
}

func TestIsolateSchedulerRunAfterInsertsScheduledJob(t *testing.T) {
	tx := newTxnFixture(t)
	fixedTime := time.Unix(1000, 0)
	iso := NewIsolate(tx, Environment{Now: fixedTime, Seed: 1}, DefaultMutationLimits())

	outcome := iso.Run(`scheduler.runAfter("users/notify", {userId: "u1"}, 5000);`)
	require.Nil(t, outcome.Err)
	require.Equal(t, types.KindString, outcome.Result.Kind)

	docID := types.DocumentID{Tablet: registry.ScheduledJobsTablet, InternalID: types.InternalID(outcome.Result.Str)}
	v, err := tx.Get(t.Context(), docID)
	require.NoError(t, err)
	require.NotNil(t, v)

	job, err := registry.DecodeScheduledJob(docID.InternalID, *v)
	require.NoError(t, err)
	require.Equal(t, "users/notify", job.Path)
	require.Equal(t, schema.JobPending, job.Status)
	require.Equal(t, fixedTime.UnixMilli()+5000, int64(job.ExecuteAt))
}

func TestIsolateSchedulerRunAtUsesAbsoluteTime(t *testing.T) {
	tx := newTxnFixture(t)
	iso := NewIsolate(tx, Environment{Now: time.Unix(0, 0), Seed: 1}, DefaultMutationLimits())

	outcome := iso.Run(`scheduler.runAt("users/notify", {}, 123456789);`)
	require.Nil(t, outcome.Err)

	docID := types.DocumentID{Tablet: registry.ScheduledJobsTablet, InternalID: types.InternalID(outcome.Result.Str)}
	v, err := tx.Get(t.Context(), docID)
	require.NoError(t, err)
	job, err := registry.DecodeScheduledJob(docID.InternalID, *v)
	require.NoError(t, err)
	require.Equal(t, int64(123456789), int64(job.ExecuteAt))
}
