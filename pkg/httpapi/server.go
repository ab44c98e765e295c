// Package httpapi implements the client-facing surface: the sync
// protocol (websocket Subscribe/Mutation/Action framing), a one-shot
// REST invocation path, file upload/download, and the admin-only
// control-plane endpoints - adapted from pkg/api's gRPC server
// (NewServer/Start/Stop lifecycle, ensureLeader-style guard) onto
// net/http + gorilla/websocket instead of gRPC, since the client
// protocol here is JSON-over-streaming-transport, not gRPC.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/relaydb/relay/internal/clusterrpc"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/filestorage"
	"github.com/relaydb/relay/pkg/log"
	"github.com/rs/zerolog"
)

// LeaderChecker reports whether this node may commit right now -
// satisfied directly by *committer.Committer.
type LeaderChecker interface {
	IsLeader() bool
}

// Forwarder is the slice of internal/clusterrpc.Client's API the HTTP
// layer needs to hand a mutation/action to the current raft leader
// when this node is a follower.
type Forwarder interface {
	ForwardMutation(ctx context.Context, req *clusterrpc.ForwardCallRequest) (*clusterrpc.ForwardCallResponse, error)
	ForwardAction(ctx context.Context, req *clusterrpc.ForwardCallRequest) (*clusterrpc.ForwardCallResponse, error)
}

// Server is the HTTP server exposing the client sync protocol, REST
// invocation endpoints, file storage, and admin control-plane routes.
type Server struct {
	facade   *facade.Facade
	files    *filestorage.Store
	sinks    LogSinkRegistry
	exports  ExportGenerator
	importer StreamingImporter
	envVars  EnvVarRegistry

	leader LeaderChecker
	fwd    Forwarder

	httpSrv *http.Server
	logger  zerolog.Logger
}

// SetExportGenerator wires the admin snapshot-export endpoint. Nil by
// default; HandleAdminExport reports apperr.System until this is called.
func (s *Server) SetExportGenerator(g ExportGenerator) {
	s.exports = g
}

// SetStreamingImporter wires the Fivetran/Airbyte streaming_import
// routes. Nil by default; those routes report apperr.System until
// this is called.
func (s *Server) SetStreamingImporter(im StreamingImporter) {
	s.importer = im
}

// SetEnvVarRegistry wires the admin environment-variable endpoints. Nil
// by default; HandleAdminEnvVars reports apperr.System until this is
// called.
func (s *Server) SetEnvVarRegistry(ev EnvVarRegistry) {
	s.envVars = ev
}

// SetClusterForwarding wires leader-forwarding: when leader.IsLeader()
// is false, a mutation or action is handed to fwd instead of executed
// locally. Both are nil by default (standalone, unreplicated mode),
// matching committer.New's nil-raft standalone mode.
func (s *Server) SetClusterForwarding(leader LeaderChecker, fwd Forwarder) {
	s.leader = leader
	s.fwd = fwd
}

// NewServer constructs a Server. sinks may be nil until pkg/logstream
// is wired in; admin log-sink endpoints report apperr.System until then.
func NewServer(f *facade.Facade, files *filestorage.Store, sinks LogSinkRegistry) *Server {
	s := &Server{
		facade: f,
		files:  files,
		sinks:  sinks,
		logger: log.WithComponent("httpapi"),
	}
	mux := http.NewServeMux()
	s.routes(mux)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sync", s.HandleSync)

	mux.HandleFunc("POST /api/query", s.HandleQuery)
	mux.HandleFunc("POST /api/mutation", s.HandleMutation)
	mux.HandleFunc("POST /api/action", s.HandleAction)

	mux.HandleFunc("POST /api/storage", s.HandleFileUpload)
	mux.HandleFunc("GET /api/storage/{id}", s.HandleFileDownload)

	mux.HandleFunc("GET /api/admin/backend_state", s.HandleAdminBackendState)
	mux.HandleFunc("POST /api/admin/backend_state", s.HandleAdminBackendState)
	mux.HandleFunc("POST /api/admin/functions", s.HandleAdminFunctionPush)
	mux.HandleFunc("GET /api/admin/log_sinks", s.HandleAdminLogSinks)
	mux.HandleFunc("POST /api/admin/log_sinks", s.HandleAdminLogSinks)
	mux.HandleFunc("POST /api/admin/export", s.HandleAdminExport)
	mux.HandleFunc("GET /api/admin/env_vars", s.HandleAdminEnvVars)
	mux.HandleFunc("POST /api/admin/env_vars", s.HandleAdminEnvVars)

	mux.HandleFunc("GET /api/streaming_import/get_schema", s.HandleStreamingImportGetSchema)
	mux.HandleFunc("POST /api/streaming_import/fivetran_truncate_table", s.HandleStreamingImportTruncateTable)
	mux.HandleFunc("POST /api/streaming_import/apply_fivetran_operations", s.HandleStreamingImportApplyOperations)
}

// Start listens on addr and serves until Stop is called or the server
// errors; mirrors pkg/api.Server.Start's listen-then-serve shape.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	if err := s.httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, mirroring pkg/api.Server.Stop.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
