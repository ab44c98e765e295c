package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/importer"
)

// StreamingImporter is the narrow slice of pkg/importer's API the
// streaming_import routes need, kept as an interface so httpapi never
// imports pkg/importer's concrete type.
type StreamingImporter interface {
	GetSchema(ctx context.Context) (json.RawMessage, error)
	TruncateTable(ctx context.Context, args importer.TruncateTableArgs) error
	BatchWrite(ctx context.Context, rows []importer.BatchWriteRow) error
}

// HandleStreamingImportGetSchema serves GET /api/streaming_import/get_schema,
// the destination-discovery call a Fivetran/Airbyte connector makes
// before its first sync.
func (s *Server) HandleStreamingImportGetSchema(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: streaming import not configured"))
		return
	}
	raw, err := s.importer.GetSchema(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// HandleStreamingImportTruncateTable serves
// POST /api/streaming_import/fivetran_truncate_table.
func (s *Server) HandleStreamingImportTruncateTable(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: streaming import not configured"))
		return
	}
	var args importer.TruncateTableArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode truncate args"))
		return
	}
	if err := s.importer.TruncateTable(r.Context(), args); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"truncated": args.TableName})
}

// HandleStreamingImportApplyOperations serves
// POST /api/streaming_import/apply_fivetran_operations.
func (s *Server) HandleStreamingImportApplyOperations(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, apperr.New(apperr.System, "httpapi: streaming import not configured"))
		return
	}
	var rows []importer.BatchWriteRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode batch write rows"))
		return
	}
	if err := s.importer.BatchWrite(r.Context(), rows); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": len(rows)})
}
