/*
Package committer owns the durable side of a transaction: resolving the
optimistic-concurrency check against the read set a pkg/txn.Transaction
built up, assigning the next commit timestamp, appending the write
through the raft-replicated FSM, patching pkg/registry's in-memory
mirror of the system tables, and handing the committed write off to a
subscription notifier. It is the single serialization point for every
write in one deployment - raft's leader election is the lease that
keeps at most one node committing at a time, the same single-writer
discipline the cluster-state FSM relies on.

A Committer also runs the background retention sweep that purges
document and index log history older than the configured window. The
sweep does not take the commit lock: it publishes its cutoff as the
retention watermark before purging, and Commit rejects any transaction
whose snapshot falls below that watermark.
*/
package committer
