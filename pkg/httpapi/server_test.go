package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaydb/relay/internal/clusterrpc"
	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/exports"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/filestorage"
	"github.com/relaydb/relay/pkg/importer"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const usersTablet types.TabletID = "tab_users_1"

type serverDeps struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer *committer.Committer
	files     *filestorage.Store
	server    *Server
}

func newServerDeps(t *testing.T) serverDeps {
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

	blobs, err := filestorage.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	files := filestorage.New(blobs, reg, store.Reader(), c, config.Defaults().Transaction)

	return serverDeps{reg: reg, reader: store.Reader(), committer: c, files: files, server: NewServer(f, files, nil)}
}

func newServerFixture(t *testing.T) *Server {
	t.Helper()
	return newServerDeps(t).server
}

func TestHandleQueryRoundTrip(t *testing.T) {
	s := newServerFixture(t)
	s.facade.Functions().Register(facade.FunctionSpec{Path: "users/count", Type: facade.FunctionQuery, Visibility: facade.VisibilityPublic, Source: `1;`})

	body, _ := json.Marshal(callRequestBody{Path: "users/count"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.HandleQuery(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
}

func TestHandleQueryUnknownFunctionReturnsNotFound(t *testing.T) {
	s := newServerFixture(t)
	body, _ := json.Marshal(callRequestBody{Path: "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.HandleQuery(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMutationRoundTrip(t *testing.T) {
	s := newServerFixture(t)
	s.facade.Functions().Register(facade.FunctionSpec{
		Path: "users/create", Type: facade.FunctionMutation, Visibility: facade.VisibilityPublic,
		Source: `db.insert("tab_users_1", "u1", {name: "ada"});`,
	})

	body, _ := json.Marshal(callRequestBody{Path: "users/create", RequestID: "r1"})
	req := httptest.NewRequest(http.MethodPost, "/api/mutation", bytes.NewReader(body))
	req.Header.Set("X-Relay-Session", "s1")
	w := httptest.NewRecorder()

	s.HandleMutation(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

type fakeLeaderChecker bool

func (f fakeLeaderChecker) IsLeader() bool { return bool(f) }

type fakeForwarder struct {
	ts  int64
	err error
}

func (f *fakeForwarder) ForwardMutation(ctx context.Context, req *clusterrpc.ForwardCallRequest) (*clusterrpc.ForwardCallResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &clusterrpc.ForwardCallResponse{Ts: f.ts}, nil
}

func (f *fakeForwarder) ForwardAction(ctx context.Context, req *clusterrpc.ForwardCallRequest) (*clusterrpc.ForwardCallResponse, error) {
	return f.ForwardMutation(ctx, req)
}

func TestHandleMutationForwardsToLeaderWhenNotLeader(t *testing.T) {
	s := newServerFixture(t)
	fwd := &fakeForwarder{ts: 42}
	s.SetClusterForwarding(fakeLeaderChecker(false), fwd)

	body, _ := json.Marshal(callRequestBody{Path: "users/create", RequestID: "r1"})
	req := httptest.NewRequest(http.MethodPost, "/api/mutation", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.HandleMutation(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(42), resp["ts"])
}

func TestHandleFileUploadAndDownloadRoundTrip(t *testing.T) {
	s := newServerFixture(t)
	content := []byte("hello from an http test")

	uploadReq := httptest.NewRequest(http.MethodPost, "/api/storage", bytes.NewReader(content))
	uploadReq.Header.Set("Content-Type", "text/plain")
	uploadW := httptest.NewRecorder()
	s.HandleFileUpload(uploadW, uploadReq)
	require.Equal(t, http.StatusOK, uploadW.Code)
	require.NotEmpty(t, uploadW.Header().Get("Digest"))

	var uploadResp map[string]any
	require.NoError(t, json.Unmarshal(uploadW.Body.Bytes(), &uploadResp))
	id := uploadResp["id"].(string)

	downloadReq := httptest.NewRequest(http.MethodGet, "/api/storage/"+id, nil)
	downloadReq.SetPathValue("id", id)
	downloadW := httptest.NewRecorder()
	s.HandleFileDownload(downloadW, downloadReq)
	require.Equal(t, http.StatusOK, downloadW.Code)
	require.Equal(t, content, downloadW.Body.Bytes())
}

func TestHandleFileDownloadServesByteRange(t *testing.T) {
	s := newServerFixture(t)
	content := []byte("0123456789abcdefghij")

	uploadReq := httptest.NewRequest(http.MethodPost, "/api/storage", bytes.NewReader(content))
	uploadReq.Header.Set("Content-Type", "text/plain")
	uploadW := httptest.NewRecorder()
	s.HandleFileUpload(uploadW, uploadReq)
	require.Equal(t, http.StatusOK, uploadW.Code)

	var uploadResp map[string]any
	require.NoError(t, json.Unmarshal(uploadW.Body.Bytes(), &uploadResp))
	id := uploadResp["id"].(string)

	rangeReq := httptest.NewRequest(http.MethodGet, "/api/storage/"+id, nil)
	rangeReq.SetPathValue("id", id)
	rangeReq.Header.Set("Range", "bytes=5-9")
	rangeW := httptest.NewRecorder()
	s.HandleFileDownload(rangeW, rangeReq)

	require.Equal(t, http.StatusPartialContent, rangeW.Code)
	require.Equal(t, "bytes 5-9/20", rangeW.Header().Get("Content-Range"))
	require.Equal(t, content[5:10], rangeW.Body.Bytes())
}

func TestHandleAdminBackendStateRequiresAdminHeader(t *testing.T) {
	s := newServerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/backend_state", nil)
	w := httptest.NewRecorder()

	s.HandleAdminBackendState(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleAdminBackendStateSetAndGet(t *testing.T) {
	s := newServerFixture(t)

	setBody, _ := json.Marshal(backendStateBody{State: "paused"})
	setReq := httptest.NewRequest(http.MethodPost, "/api/admin/backend_state", bytes.NewReader(setBody))
	setReq.Header.Set("X-Relay-Admin", "1")
	setW := httptest.NewRecorder()
	s.HandleAdminBackendState(setW, setReq)
	require.Equal(t, http.StatusOK, setW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/admin/backend_state", nil)
	getReq.Header.Set("X-Relay-Admin", "1")
	getW := httptest.NewRecorder()
	s.HandleAdminBackendState(getW, getReq)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &resp))
	require.Equal(t, "paused", resp["state"])
}

func TestHandleAdminExportRequiresAdminHeaderAndGeneratesAFile(t *testing.T) {
	deps := newServerDeps(t)
	deps.server.SetExportGenerator(exports.NewGenerator(deps.reg, deps.reader, deps.committer, deps.files))

	unauthReq := httptest.NewRequest(http.MethodPost, "/api/admin/export", nil)
	unauthW := httptest.NewRecorder()
	deps.server.HandleAdminExport(unauthW, unauthReq)
	require.Equal(t, http.StatusForbidden, unauthW.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/export", nil)
	req.Header.Set("X-Relay-Admin", "1")
	w := httptest.NewRecorder()
	deps.server.HandleAdminExport(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])

	downloadReq := httptest.NewRequest(http.MethodGet, "/api/storage/"+resp["id"].(string), nil)
	downloadReq.SetPathValue("id", resp["id"].(string))
	downloadW := httptest.NewRecorder()
	deps.server.HandleFileDownload(downloadW, downloadReq)
	require.Equal(t, http.StatusOK, downloadW.Code)
	require.NotZero(t, downloadW.Body.Len())
}

func TestHandleStreamingImportRoundTrip(t *testing.T) {
	deps := newServerDeps(t)
	deps.server.SetStreamingImporter(importer.NewImporter(deps.reg, deps.reader, deps.committer, config.Defaults().Transaction))

	schemaReq := httptest.NewRequest(http.MethodGet, "/api/streaming_import/get_schema", nil)
	schemaW := httptest.NewRecorder()
	deps.server.HandleStreamingImportGetSchema(schemaW, schemaReq)
	require.Equal(t, http.StatusOK, schemaW.Code)
	require.Equal(t, "null", schemaW.Body.String())

	rowValue, err := types.EncodeInternal(types.ObjOf(
		types.Field("_fivetran_id", types.Str("a1")),
		types.Field("name", types.Str("apple")),
	))
	require.NoError(t, err)
	body, err := json.Marshal([]importer.BatchWriteRow{{Table: "items", Operation: importer.Upsert, Row: rowValue}})
	require.NoError(t, err)

	applyReq := httptest.NewRequest(http.MethodPost, "/api/streaming_import/apply_fivetran_operations", bytes.NewReader(body))
	applyW := httptest.NewRecorder()
	deps.server.HandleStreamingImportApplyOperations(applyW, applyReq)
	require.Equal(t, http.StatusOK, applyW.Code)

	tablet, _, err := deps.reg.ResolveName(schema.Namespace{}, "items")
	require.NoError(t, err)
	rec, err := deps.reader.GetDocument(context.Background(), types.DocumentID{Tablet: tablet, InternalID: "a1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)

	truncateBody, err := json.Marshal(importer.TruncateTableArgs{TableName: "items", DeleteType: importer.HardDeleteType})
	require.NoError(t, err)
	truncateReq := httptest.NewRequest(http.MethodPost, "/api/streaming_import/fivetran_truncate_table", bytes.NewReader(truncateBody))
	truncateW := httptest.NewRecorder()
	deps.server.HandleStreamingImportTruncateTable(truncateW, truncateReq)
	require.Equal(t, http.StatusOK, truncateW.Code)

	rec, err = deps.reader.GetDocument(context.Background(), types.DocumentID{Tablet: tablet, InternalID: "a1"}, nil)
	require.NoError(t, err)
	require.Nil(t, rec)
}
