/*
Package facade owns request-level orchestration: it is the one stop a
client-facing call (query, mutation, action, subscription refresh)
makes before landing in the transaction engine.

Responsibilities:
  - Resolve a UDF path to its declared visibility and function type, and
    reject a visibility or type mismatch (e.g. a client calling an
    internal-only function, or invoking a mutation through the query
    endpoint).
  - Run the OCC retry loop for mutations, with an idempotent fast path:
    a mutation request carrying a (session, request) pair already seen
    returns the previously committed outcome without re-executing the
    guest code.
  - Reject every call while the backend is paused, disabled, or
    suspended, with a distinguished error rather than letting the call
    fail downstream for an unrelated reason.
  - Thread a request id (and, once tracing is wired in, a trace context)
    into every downstream log line and metric.

Facade composes pkg/committer, pkg/sandbox, pkg/cache, and
pkg/subscription; it holds no storage of its own beyond the function
table, the backend state gate, and the idempotency record.
*/
package facade
