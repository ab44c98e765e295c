package facade

import (
	"context"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const usersTablet types.TabletID = "tab_users_1"

func newFixture(t *testing.T) *Facade {
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

	functions := NewFunctionTable()
	subs := subscription.New()

	f, err := New(reg, store.Reader(), c, functions, subs, config.Defaults().Cache, 1024, config.Defaults().Sandbox, config.Defaults().Transaction)
	require.NoError(t, err)
	return f
}

func identity() txn.Identity { return txn.Identity{Subject: "test"} }

func TestFunctionTableResolveNotFound(t *testing.T) {
	tbl := NewFunctionTable()
	_, err := tbl.Resolve("does/not/exist")
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.NotFound, ae.Code)
}

func TestCheckCallRejectsInternalWithoutAdmin(t *testing.T) {
	spec := FunctionSpec{Path: "internal/secret", Type: FunctionQuery, Visibility: VisibilityInternal}
	err := checkCall(spec, FunctionQuery, false)
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.Forbidden, ae.Code)

	require.NoError(t, checkCall(spec, FunctionQuery, true))
}

func TestCheckCallRejectsTypeMismatch(t *testing.T) {
	spec := FunctionSpec{Path: "users/get", Type: FunctionQuery, Visibility: VisibilityPublic}
	err := checkCall(spec, FunctionMutation, false)
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.BadRequest, ae.Code)
}

func TestStateGateRejectsNonActive(t *testing.T) {
	g := NewStateGate()
	require.NoError(t, g.Check())

	g.Set(BackendPaused)
	err := g.Check()
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.BackendUnavailable, ae.Code)

	g.Set(BackendActive)
	require.NoError(t, g.Check())
}

func TestFingerprintStableAcrossFieldAndElementOrder(t *testing.T) {
	obj1 := types.ObjOf(types.Field("a", types.Int(1)), types.Field("b", types.Str("x")))
	obj2 := types.ObjOf(types.Field("b", types.Str("x")), types.Field("a", types.Int(1)))
	require.Equal(t, Fingerprint(obj1), Fingerprint(obj2))

	set1 := types.Value{Kind: types.KindSet, Set: []types.Value{types.Int(1), types.Int(2)}}
	set2 := types.Value{Kind: types.KindSet, Set: []types.Value{types.Int(2), types.Int(1)}}
	require.Equal(t, Fingerprint(set1), Fingerprint(set2))
}

func TestFingerprintDiffersForDifferentValues(t *testing.T) {
	a := types.ObjOf(types.Field("a", types.Int(1)))
	b := types.ObjOf(types.Field("a", types.Int(2)))
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestQueryResolvesAndCachesResult(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{
		Path:       "users/count",
		Type:       FunctionQuery,
		Visibility: VisibilityPublic,
		Source:     `1;`,
	})

	req := CallRequest{Identity: identity(), Component: "app", Path: "users/count", Args: types.Null()}
	res1, err := f.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(1), res1.Value.Int64)
	require.NotEmpty(t, res1.Token.ID)

	res2, err := f.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, res1.Value, res2.Value)
}

func TestQueryRejectsUnknownFunction(t *testing.T) {
	f := newFixture(t)
	_, err := f.Query(context.Background(), CallRequest{Identity: identity(), Path: "nope", Args: types.Null()})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.NotFound, ae.Code)
}

func TestQueryRejectedWhenBackendNotActive(t *testing.T) {
	f := newFixture(t)
	f.State().Set(BackendDisabled)
	_, err := f.Query(context.Background(), CallRequest{Identity: identity(), Path: "whatever", Args: types.Null()})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.BackendUnavailable, ae.Code)
}

func TestMutationInsertsAndCommits(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{
		Path:       "users/create",
		Type:       FunctionMutation,
		Visibility: VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	req := CallRequest{Identity: identity(), SessionID: "s1", RequestID: "r1", Path: "users/create", Args: types.Null()}
	res, err := f.Mutation(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Value)
	require.Equal(t, types.Timestamp(1), res.Ts)
}

func TestMutationIdempotentFastPathSkipsReExecution(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{
		Path:       "users/create",
		Type:       FunctionMutation,
		Visibility: VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u3", {name: "ada"});`,
	})

	req := CallRequest{Identity: identity(), SessionID: "s1", RequestID: "r1", Path: "users/create", Args: types.Null()}
	first, err := f.Mutation(context.Background(), req)
	require.NoError(t, err)

	second, err := f.Mutation(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Ts, second.Ts)
}

func TestMutationRejectsWrongFunctionType(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{Path: "users/get", Type: FunctionQuery, Visibility: VisibilityPublic, Source: `1;`})

	_, err := f.Mutation(context.Background(), CallRequest{Identity: identity(), Path: "users/get", Args: types.Null()})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.BadRequest, ae.Code)
}

func TestActionRunsAsSingleSubInvocation(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{
		Path:       "users/backfill",
		Type:       FunctionAction,
		Visibility: VisibilityPublic,
		Source:     `db.insert("tab_users_1", "u2", {name: "grace"});`,
	})

	res, err := f.Action(context.Background(), CallRequest{Identity: identity(), Path: "users/backfill", Args: types.Null()})
	require.NoError(t, err)
	require.NotNil(t, res.Value)
	require.NotZero(t, res.Ts)
}

func TestActionRejectsInternalFunctionWithoutAdmin(t *testing.T) {
	f := newFixture(t)
	f.Functions().Register(FunctionSpec{Path: "internal/cleanup", Type: FunctionAction, Visibility: VisibilityInternal, Source: `1;`})

	_, err := f.Action(context.Background(), CallRequest{Identity: identity(), Path: "internal/cleanup", Args: types.Null()})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, apperr.Forbidden, ae.Code)

	res, err := f.Action(context.Background(), CallRequest{Identity: identity(), Path: "internal/cleanup", Admin: true, Args: types.Null()})
	require.NoError(t, err)
	require.NotZero(t, res.Ts)
}

type recordingEmitter struct {
	path  string
	lines []string
}

func (r *recordingEmitter) Emit(path string, lines []string) {
	r.path = path
	r.lines = append(r.lines, lines...)
}

func TestMutationForwardsLogLinesToEmitter(t *testing.T) {
	f := newFixture(t)
	emitter := &recordingEmitter{}
	f.SetLogEmitter(emitter)
	f.Functions().Register(FunctionSpec{
		Path:       "users/create",
		Type:       FunctionMutation,
		Visibility: VisibilityPublic,
		Source:     `console.log("creating user"); db.insert("tab_users_1", "u4", {name: "ada"});`,
	})

	_, err := f.Mutation(context.Background(), CallRequest{Identity: identity(), SessionID: "s2", RequestID: "r2", Path: "users/create", Args: types.Null()})
	require.NoError(t, err)

	require.Equal(t, "users/create", emitter.path)
	require.Contains(t, emitter.lines, "creating user")
}
