package httpapi

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaydb/relay/internal/clusterrpc"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// callRequestBody is the JSON body of a one-shot HTTP query/mutation/
// action invocation.
type callRequestBody struct {
	Path      string          `json:"path"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id,omitempty"`
}

func (s *Server) identityFor(r *http.Request) txn.Identity {
	// A real deployment resolves this from the bearer token/session
	// cookie; external auth providers are treated as an external
	// collaborator named only by interface, so every call here runs as
	// one fixed subject.
	return txn.Identity{Subject: r.Header.Get("X-Relay-Subject")}
}

// HandleQuery serves a one-shot, non-subscribing query invocation.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var body callRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body"))
		return
	}
	args, err := decodeArgs(body.Args)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode args"))
		return
	}
	res, err := s.facade.Query(r.Context(), facade.CallRequest{Identity: s.identityFor(r), Path: body.Path, Args: args})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resultJSON(&res.Value), "token": string(res.Token.ID), "ts": int64(res.Token.Snapshot)})
}

// HandleMutation serves a one-shot mutation invocation, including the
// at-most-once fast path when request_id repeats.
func (s *Server) HandleMutation(w http.ResponseWriter, r *http.Request) {
	var body callRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body"))
		return
	}
	args, err := decodeArgs(body.Args)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode args"))
		return
	}
	sessionID := r.Header.Get("X-Relay-Session")
	identity := s.identityFor(r)

	if s.shouldForward() {
		resp, err := s.fwd.ForwardMutation(r.Context(), &clusterrpc.ForwardCallRequest{
			Subject: identity.Subject, SessionID: sessionID, RequestID: body.RequestID, Path: body.Path, Args: body.Args,
		})
		writeForwarded(w, resp, err)
		return
	}

	res, err := s.facade.Mutation(r.Context(), facade.CallRequest{
		Identity:  identity,
		SessionID: sessionID,
		RequestID: body.RequestID,
		Path:      body.Path,
		Args:      args,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resultJSON(res.Value), "ts": int64(res.Ts)})
}

// HandleAction serves an action invocation.
func (s *Server) HandleAction(w http.ResponseWriter, r *http.Request) {
	var body callRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode request body"))
		return
	}
	args, err := decodeArgs(body.Args)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, err, "httpapi: decode args"))
		return
	}
	identity := s.identityFor(r)
	sessionID := r.Header.Get("X-Relay-Session")

	if s.shouldForward() {
		resp, err := s.fwd.ForwardAction(r.Context(), &clusterrpc.ForwardCallRequest{
			Subject: identity.Subject, SessionID: sessionID, RequestID: body.RequestID, Path: body.Path, Args: body.Args,
		})
		writeForwarded(w, resp, err)
		return
	}

	res, err := s.facade.Action(r.Context(), facade.CallRequest{
		Identity:  identity,
		SessionID: sessionID,
		RequestID: body.RequestID,
		Path:      body.Path,
		Args:      args,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resultJSON(res.Value), "ts": int64(res.Ts)})
}

// shouldForward reports whether this request should be handed to the
// raft leader instead of executed locally.
func (s *Server) shouldForward() bool {
	return s.leader != nil && s.fwd != nil && !s.leader.IsLeader()
}

func writeForwarded(w http.ResponseWriter, resp *clusterrpc.ForwardCallResponse, err error) {
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BackendUnavailable, err, "httpapi: forward to leader"))
		return
	}
	if resp.Error != nil {
		writeJSON(w, httpStatus(apperr.Code(resp.Error.Code)), map[string]any{"error": resp.Error})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resp.Result, "ts": resp.Ts})
}

// HandleFileUpload stores the request body as a new file, responding
// with the assigned developer id, its SHA-256 digest (as a
// `Digest: sha-256=<base64>` response header, per RFC 3230), and size.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta, err := s.files.Put(r.Context(), r.Body, contentType)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Digest", "sha-256="+digestHeaderValue(meta.Digest))
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           string(meta.ID),
		"size":         meta.Size,
		"content_type": meta.ContentType,
	})
}

// HandleFileDownload serves a previously uploaded file, supporting
// byte-range requests and conditional requests via http.ServeContent,
// with content-type and SHA-256 digest headers.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	id := types.InternalID(r.PathValue("id"))
	rc, meta, err := s.files.Open(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Digest", "sha-256="+digestHeaderValue(meta.Digest))
	http.ServeContent(w, r, string(meta.ID), time.UnixMilli(int64(meta.CreatedAt)), rc)
}

// digestHeaderValue re-encodes a hex SHA-256 digest as base64, the form
// RFC 3230's Digest header uses.
func digestHeaderValue(hexDigest string) string {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
