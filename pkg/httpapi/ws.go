package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relaydb/relay/internal/clusterrpc"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// upgrader allows cross-origin connections, matching the pack's
// simplest websocket-server shape (CheckOrigin always true); a real
// deployment would restrict this to the configured site origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// session is one client's sync-protocol connection: a websocket plus
// one goroutine per live query pushing Transition frames whenever that
// query's subscription fires.
type session struct {
	id       string
	conn     *websocket.Conn
	facade   *facade.Facade
	leader   LeaderChecker
	fwd      Forwarder
	writeMu  sync.Mutex
	cancels  map[string]context.CancelFunc
	cancelMu sync.Mutex
}

// HandleSync upgrades r to a websocket and runs the client sync
// protocol (Subscribe/Unsubscribe/Mutation/Action) until the connection
// closes.
func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := &session{
		id:      uuid.NewString(),
		conn:    conn,
		facade:  s.facade,
		leader:  s.leader,
		fwd:     s.fwd,
		cancels: make(map[string]context.CancelFunc),
	}
	reqLog := log.WithComponent("httpapi").With().Str("session_id", sess.id).Logger()
	reqLog.Info().Msg("sync session opened")
	defer func() {
		sess.cancelAll()
		reqLog.Info().Msg("sync session closed")
	}()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		sess.handle(r.Context(), msg)
	}
}

func (s *session) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		s.subscribe(ctx, msg)
	case "unsubscribe":
		s.unsubscribe(msg.QueryID)
	case "mutation":
		s.mutation(ctx, msg)
	case "action":
		s.action(ctx, msg)
	default:
		s.send(ServerMessage{Type: "error", Error: &ErrorPayload{Code: "bad_request", Message: "unknown message type " + msg.Type}})
	}
}

// subscribe starts a goroutine that runs the query once, pushes a
// Transition, then waits on the subscription's notify channel and
// re-runs the query (registering a fresh subscription each time) for
// as long as the client stays subscribed - the read set that produced
// a stale result is no longer useful once invalidated, so there is
// nothing to "refresh", only to recompute.
func (s *session) subscribe(ctx context.Context, msg ClientMessage) {
	queryID := msg.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	if old, ok := s.cancels[queryID]; ok {
		old()
	}
	s.cancels[queryID] = cancel
	s.cancelMu.Unlock()

	args, err := decodeArgs(msg.Args)
	if err != nil {
		s.send(ServerMessage{Type: "error", QueryID: queryID, Error: &ErrorPayload{Code: "bad_request", Message: err.Error()}})
		return
	}

	go s.runSubscription(runCtx, queryID, msg.Path, args)
}

func (s *session) runSubscription(ctx context.Context, queryID, path string, args types.Value) {
	req := facade.CallRequest{
		Identity: txn.Identity{Subject: s.id},
		Path:     path,
		Args:     args,
	}
	for {
		res, err := s.facade.Query(ctx, req)
		if err != nil {
			s.send(ServerMessage{Type: "error", QueryID: queryID, Error: errorPayload(err)})
			return
		}
		raw, err := types.EncodeInternal(res.Value)
		if err != nil {
			s.send(ServerMessage{Type: "error", QueryID: queryID, Error: errorPayload(err)})
			return
		}
		s.send(ServerMessage{Type: "transition", QueryID: queryID, Token: string(res.Token.ID), Ts: int64(res.Token.Snapshot), Result: raw})

		select {
		case <-ctx.Done():
			return
		case _, ok := <-res.Notify:
			if !ok {
				return
			}
		}
	}
}

func (s *session) unsubscribe(queryID string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if cancel, ok := s.cancels[queryID]; ok {
		cancel()
		delete(s.cancels, queryID)
	}
}

func (s *session) shouldForward() bool {
	return s.leader != nil && s.fwd != nil && !s.leader.IsLeader()
}

func (s *session) mutation(ctx context.Context, msg ClientMessage) {
	if s.shouldForward() {
		resp, err := s.fwd.ForwardMutation(ctx, &clusterrpc.ForwardCallRequest{Subject: s.id, SessionID: s.id, RequestID: msg.RequestID, Path: msg.Path, Args: msg.Args})
		s.sendForwarded("mutation_response", msg.RequestID, resp, err)
		return
	}
	args, err := decodeArgs(msg.Args)
	if err != nil {
		s.send(ServerMessage{Type: "error", RequestID: msg.RequestID, Error: &ErrorPayload{Code: "bad_request", Message: err.Error()}})
		return
	}
	req := facade.CallRequest{
		Identity:  txn.Identity{Subject: s.id},
		SessionID: s.id,
		RequestID: msg.RequestID,
		Path:      msg.Path,
		Args:      args,
	}
	res, err := s.facade.Mutation(ctx, req)
	if err != nil {
		s.send(ServerMessage{Type: "mutation_response", RequestID: msg.RequestID, Error: errorPayload(err)})
		return
	}
	s.send(ServerMessage{Type: "mutation_response", RequestID: msg.RequestID, Ts: int64(res.Ts), Result: resultJSON(res.Value)})
}

func (s *session) action(ctx context.Context, msg ClientMessage) {
	if s.shouldForward() {
		resp, err := s.fwd.ForwardAction(ctx, &clusterrpc.ForwardCallRequest{Subject: s.id, SessionID: s.id, RequestID: msg.RequestID, Path: msg.Path, Args: msg.Args})
		s.sendForwarded("action_response", msg.RequestID, resp, err)
		return
	}
	args, err := decodeArgs(msg.Args)
	if err != nil {
		s.send(ServerMessage{Type: "error", RequestID: msg.RequestID, Error: &ErrorPayload{Code: "bad_request", Message: err.Error()}})
		return
	}
	req := facade.CallRequest{
		Identity:  txn.Identity{Subject: s.id},
		SessionID: s.id,
		RequestID: msg.RequestID,
		Path:      msg.Path,
		Args:      args,
	}
	res, err := s.facade.Action(ctx, req)
	if err != nil {
		s.send(ServerMessage{Type: "action_response", RequestID: msg.RequestID, Error: errorPayload(err)})
		return
	}
	s.send(ServerMessage{Type: "action_response", RequestID: msg.RequestID, Ts: int64(res.Ts), Result: resultJSON(res.Value)})
}

func (s *session) sendForwarded(msgType, requestID string, resp *clusterrpc.ForwardCallResponse, err error) {
	if err != nil {
		s.send(ServerMessage{Type: msgType, RequestID: requestID, Error: errorPayload(apperr.Wrap(apperr.BackendUnavailable, err, "httpapi: forward to leader"))})
		return
	}
	if resp.Error != nil {
		s.send(ServerMessage{Type: msgType, RequestID: requestID, Error: &ErrorPayload{Code: resp.Error.Code, Message: resp.Error.Message, Payload: resp.Error.Payload}})
		return
	}
	s.send(ServerMessage{Type: msgType, RequestID: requestID, Ts: resp.Ts, Result: resp.Result})
}

func (s *session) cancelAll() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

func (s *session) send(msg ServerMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(msg)
}

func decodeArgs(raw json.RawMessage) (types.Value, error) {
	if len(raw) == 0 {
		return types.Null(), nil
	}
	return types.DecodeInternal(raw)
}

func resultJSON(v *types.Value) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := types.EncodeInternal(*v)
	if err != nil {
		return nil
	}
	return raw
}
