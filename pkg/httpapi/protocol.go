package httpapi

import "encoding/json"

// ClientMessage is one frame sent by a client over the sync protocol's
// websocket transport: a discriminated union keyed by Type, mirroring
// original_source's convex_sdk http client message shapes (Subscribe/
// Mutation/Action) folded into one envelope rather than Rust's three
// separate request enums, since Go has no tagged-union sugar to match
// them with.
type ClientMessage struct {
	Type      string          `json:"type"` // "subscribe" | "unsubscribe" | "mutation" | "action"
	QueryID   string          `json:"query_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Path      string          `json:"path"`
	Args      json.RawMessage `json:"args"`
}

// ServerMessage is one frame pushed to a client: a query's periodic
// Transition, or a Mutation/Action's one-shot response. Value is
// encoded in the invertible internal form (types.EncodeInternal), the
// same ConvexEncodedJSON-style mode, since a live client SDK round-trips
// these values back through host bindings and needs int64/bytes
// preserved exactly; the lossy clean form is for export only.
type ServerMessage struct {
	Type      string          `json:"type"` // "transition" | "mutation_response" | "action_response" | "error"
	QueryID   string          `json:"query_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Token     string          `json:"token,omitempty"`
	Ts        int64           `json:"ts,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the JSON shape an apperr.Error renders as on the
// wire: a stable code string plus a human message, and (for
// DeveloperError only) the thrown value.
type ErrorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
