/*
Package txn implements one in-flight user transaction: reads at a fixed
snapshot, staged writes, and the read-set bookkeeping the committer
needs to enforce optimistic concurrency control.

A Transaction never touches persistence directly for writes - Insert,
Replace, Patch, and Delete only stage a types.WriteSet entry and the
corresponding index key updates. The committer owns choosing a commit
timestamp and durably appending the result. Reads merge the staged
write set with a point-in-time PersistenceReader view, so a transaction
always sees its own uncommitted writes.
*/
package txn
