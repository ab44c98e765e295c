package sandbox

import (
	"context"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// Committer is the narrow slice of pkg/committer's API a sub-invocation
// needs: a fresh snapshot to begin against, and a place to commit to.
// Kept as an interface so sandbox never imports pkg/committer's
// concrete type, the same decoupling pkg/committer.Notifier uses in the
// other direction.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// RunSubInvocation runs fn inside a fresh transaction beginning at the
// committer's current snapshot and commits it, reporting an OCC
// conflict as a DeveloperError to the action rather than the
// System-classed error a top-level mutation would retry on: sub-
// mutations/queries run in fresh transactions and report OCC failures
// as developer errors to the action, since the action itself, not the
// façade's retry loop, decides whether to retry a sub-invocation.
func RunSubInvocation(ctx context.Context, c Committer, begin func(snapshot types.RepeatableTimestamp) *txn.Transaction, fn func(tx *txn.Transaction) error) (types.Timestamp, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	tx := begin(snapshot)

	if err := fn(tx); err != nil {
		tx.Cancel()
		return 0, err
	}

	ts, err := c.Commit(ctx, tx)
	if err != nil {
		if appErr, ok := err.(*apperr.Error); ok && appErr.Code == apperr.Conflict {
			return 0, apperr.New(apperr.DeveloperError, "sub-invocation conflicted with a concurrent commit").WithPayload(types.Str(appErr.Message))
		}
		return 0, err
	}
	return ts, nil
}
