package clusterrpc

import "encoding/json"

// ForwardCallRequest is what a follower sends the leader to run a
// mutation or action on its behalf - the same inputs facade.CallRequest
// carries, flattened to wire-safe types so this package never has to
// import pkg/facade on the client side.
type ForwardCallRequest struct {
	Subject   string          `json:"subject"`
	Admin     bool            `json:"admin,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Component string          `json:"component,omitempty"`
	Path      string          `json:"path"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ForwardCallResponse carries back either the function's wire-encoded
// result and commit timestamp, or an error.
type ForwardCallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Ts     int64           `json:"ts,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload mirrors httpapi.ErrorPayload's shape; kept as its own
// type rather than imported so this internal link has no dependency on
// the client-facing HTTP package.
type ErrorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
