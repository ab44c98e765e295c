/*
Package sandbox hosts guest JavaScript behind two environments: a
deterministic, single-threaded query/mutation Isolate where every
primitive is a syscall routed back to a
txn.Transaction, and a longer-lived Action environment that may perform
real I/O and bounded-concurrency sub-tasks.

Isolate wraps a goja.Runtime. Every syscall (db read/write, env read,
time, randomness) is bound as a native Go function on the runtime via
goja's reflection-based Set, so guest code sees an ordinary synchronous
API while the host gets a single choke point to enforce limits and
record the read set. Time, randomness seed, and environment snapshot
are fixed once at Begin and never re-read mid-transaction, so the same
guest invocation against the same transaction always observes the same
values - the determinism a query/mutation requires.
*/
package sandbox
