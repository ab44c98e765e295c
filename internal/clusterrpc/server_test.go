package clusterrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const usersTablet types.TabletID = "tab_users_1"

func newFacadeFixture(t *testing.T) *facade.Facade {
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

	f, err := facade.New(reg, store.Reader(), c, facade.NewFunctionTable(), subscription.New(),
		config.Defaults().Cache, 1024, config.Defaults().Sandbox, config.Defaults().Transaction)
	require.NoError(t, err)
	return f
}

func TestServerForwardMutationRunsAgainstLocalFacade(t *testing.T) {
	f := newFacadeFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path: "users/create", Type: facade.FunctionMutation, Visibility: facade.VisibilityPublic,
		Source: `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})
	s := NewServer(f)

	resp, err := s.ForwardMutation(context.Background(), &ForwardCallRequest{Subject: "follower", Path: "users/create"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Greater(t, resp.Ts, int64(0))
}

func TestServerForwardMutationPropagatesNotFoundAsErrorPayload(t *testing.T) {
	f := newFacadeFixture(t)
	s := NewServer(f)

	resp, err := s.ForwardMutation(context.Background(), &ForwardCallRequest{Subject: "follower", Path: "nope"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, "not_found", resp.Error.Code)
}

// TestClientServerRoundTripOverBufconn proves the hand-written
// ServiceDesc and json codec actually negotiate over a real (in-memory)
// gRPC transport, not just as direct Go method calls.
func TestClientServerRoundTripOverBufconn(t *testing.T) {
	f := newFacadeFixture(t)
	f.Functions().Register(facade.FunctionSpec{
		Path: "users/create", Type: facade.FunctionMutation, Visibility: facade.VisibilityPublic,
		Source: `db.insert("tab_users_1", "u2", {name: "grace"});`,
	})
	handler := NewServer(f)

	lis := bufconn.Listen(1024 * 1024)
	grpcSrv := grpc.NewServer()
	grpcSrv.RegisterService(&serviceDesc, Handler(handler))
	go func() { _ = grpcSrv.Serve(lis) }()
	t.Cleanup(grpcSrv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := &Client{conn: conn}

	resp, err := client.ForwardMutation(context.Background(), &ForwardCallRequest{Subject: "follower", Path: "users/create"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Greater(t, resp.Ts, int64(0))
}
