package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/filestorage"
)

// LogSinkRegistry is the narrow slice of pkg/logstream's API the admin
// surface needs to list/configure sinks, kept as an interface so
// httpapi never imports logstream's concrete type.
type LogSinkRegistry interface {
	ListSinks() ([]json.RawMessage, error)
	ConfigureSink(config json.RawMessage) error
}

// requireAdmin rejects a request lacking the admin capability header -
// a stand-in for a real capability/token check, matching original_source's
// separation of "private" control-plane types from the public
// data-plane API.
func requireAdmin(r *http.Request) error {
	if r.Header.Get("X-Relay-Admin") != "1" {
		return apperr.New(apperr.Forbidden, "httpapi: admin capability required")
	}
	return nil
}

type backendStateBody struct {
	State string `json:"state"`
}

// HandleAdminBackendState gets or sets the backend's pause/disable
// state.
func (s *Server) HandleAdminBackendState(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"state": string(s.facade.State().Get())})
		return
	}

	var body backendStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body"))
		return
	}
	state := facade.BackendState(body.State)
	switch state {
	case facade.BackendActive, facade.BackendPaused, facade.BackendDisabled, facade.BackendSuspended:
		s.facade.State().Set(state)
		writeJSON(w, http.StatusOK, map[string]any{"state": string(state)})
	default:
		writeError(w, apperr.New(apperr.BadRequest, "httpapi: unknown backend state %q", body.State))
	}
}

// HandleAdminFunctionPush registers a function's deployed source,
// visibility, and type - a stand-in for a real build-pipeline's
// schema/bundle push, since bundling guest source from a developer's
// project is out of scope here; a real deployment would resolve a
// function's Source from a bundled module per component.
func (s *Server) HandleAdminFunctionPush(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	var spec facade.FunctionSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode function spec"))
		return
	}
	if spec.Path == "" {
		writeError(w, apperr.New(apperr.BadRequest, "httpapi: function spec requires a path"))
		return
	}
	s.facade.Functions().Register(spec)
	writeJSON(w, http.StatusOK, map[string]any{"registered": spec.Path})
}

// HandleAdminLogSinks lists configured log sinks, or (POST) adds one.
func (s *Server) HandleAdminLogSinks(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	if s.sinks == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: log sink registry not configured"))
		return
	}
	if r.Method == http.MethodGet {
		sinks, err := s.sinks.ListSinks()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sinks": sinks})
		return
	}

	body, err := jsonBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sinks.ConfigureSink(body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configured": true})
}

// EnvVarRegistry is the narrow slice of pkg/envvars' API the admin
// surface needs to list/set deployment variables, kept as an interface
// so httpapi never imports envvars' concrete type.
type EnvVarRegistry interface {
	SetVar(ctx context.Context, name, value string) error
	ListVars(ctx context.Context) (map[string]string, error)
}

type envVarBody struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HandleAdminEnvVars lists every configured environment variable, or
// (POST) creates/updates one. A variable read by a live query is
// invalidated through the ordinary commit/read-set path the moment this
// creates or changes it - no separate invalidation step is needed here.
func (s *Server) HandleAdminEnvVars(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	if s.envVars == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: env var registry not configured"))
		return
	}
	if r.Method == http.MethodGet {
		vars, err := s.envVars.ListVars(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vars": vars})
		return
	}

	var body envVarBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body"))
		return
	}
	if body.Name == "" {
		writeError(w, apperr.New(apperr.BadRequest, "httpapi: env var name is required"))
		return
	}
	if err := s.envVars.SetVar(r.Context(), body.Name, body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": body.Name, "set": true})
}

// ExportGenerator is the narrow slice of pkg/exports' API the admin
// surface needs to trigger a snapshot export, kept as an interface so
// httpapi never imports pkg/exports' concrete type.
type ExportGenerator interface {
	Generate(ctx context.Context) (filestorage.Metadata, error)
}

// HandleAdminExport triggers a snapshot export and responds with the
// id of the ZIP file it was stored as - fetch it through the ordinary
// /api/storage/{id} download route, same as any other uploaded file.
func (s *Server) HandleAdminExport(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	if s.exports == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: export generator not configured"))
		return
	}
	meta, err := s.exports.Generate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": string(meta.ID), "size": meta.Size})
}

func jsonBody(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body")
	}
	return raw, nil
}
