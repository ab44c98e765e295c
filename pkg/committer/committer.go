package committer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// Notifier is handed every commit's durable effects so the subscription
// engine can push invalidations to affected clients. Kept as a narrow
// interface (mirroring metrics.StatsSource's decoupling) so committer
// never imports pkg/subscription directly.
type Notifier interface {
	NotifyCommit(ctx context.Context, ts types.Timestamp, entries []persistence.IndexEntry)
}

// commitRecord is one past commit's index-log effects, kept around long
// enough to validate the read set of any transaction whose snapshot
// predates it.
type commitRecord struct {
	ts      types.Timestamp
	at      time.Time
	entries []persistence.IndexEntry
}

// Committer serializes every write in the deployment: one goroutine at a
// time resolves conflicts, assigns the next timestamp, and durably
// applies the result. Raft's leader election is the cross-node lease;
// Committer.mu is the single-node serialization underneath it.
type Committer struct {
	mu    sync.Mutex
	store persistence.Persistence
	reg   *registry.Registry
	raft  *raft.Raft // nil runs standalone: no replication, this node always "leads"

	applyTimeout   time.Duration
	conflictWindow time.Duration
	notifier       Notifier
	logger         zerolog.Logger

	lastTs types.Timestamp

	recentMu sync.Mutex
	recent   []commitRecord

	watermark atomic.Uint64 // oldest timestamp retention guarantees is still readable

	stopCh chan struct{}
}

// New constructs a Committer. r may be nil for a standalone, unreplicated
// deployment (used by tests and single-node embedded mode). conflictWindow
// bounds how long a past commit's effects are kept for OCC validation -
// it must exceed the longest transaction any mutation is allowed to stay
// open for, so size it off the sandbox's mutation timeout with margin.
func New(store persistence.Persistence, reg *registry.Registry, r *raft.Raft, notifier Notifier, conflictWindow time.Duration) (*Committer, error) {
	lastTs, err := store.MaxTimestamp(context.Background())
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "committer: read initial max timestamp")
	}
	return &Committer{
		store:          store,
		reg:            reg,
		raft:           r,
		applyTimeout:   10 * time.Second,
		conflictWindow: conflictWindow,
		notifier:       notifier,
		logger:         log.WithComponent("committer"),
		lastTs:         lastTs,
		stopCh:         make(chan struct{}),
	}, nil
}

// SetNotifier swaps the commit notifier after construction, for callers
// whose notifier itself needs the Committer to build (pkg/facade
// implements Notifier but requires a Committer to construct, so
// cmd/relayd builds the Committer with no notifier, builds the Facade
// from it, then calls this once). Takes the same lock Commit holds
// while reading c.notifier.
func (c *Committer) SetNotifier(notifier Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = notifier
}

// Snapshot returns a repeatable-read timestamp a new transaction may
// pin its reads to.
func (c *Committer) Snapshot(ctx context.Context) (types.RepeatableTimestamp, error) {
	ts, err := c.store.MaxTimestamp(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.System, err, "committer: read snapshot timestamp")
	}
	return types.RepeatableTimestamp(ts), nil
}

// RetentionWatermark returns the oldest timestamp retention still
// guarantees is readable; it advances each time sweepOnce runs. A
// transaction whose snapshot falls below it may be reading history the
// next sweep is free to purge, so callers should reject it - see
// CheckSnapshot.
func (c *Committer) RetentionWatermark() types.Timestamp {
	return types.Timestamp(c.watermark.Load())
}

// CheckSnapshot rejects a transaction snapshot that has already fallen
// below the retention watermark, with the distinguished error the
// façade's retry loop must not blindly retry.
func (c *Committer) CheckSnapshot(snapshot types.RepeatableTimestamp) error {
	if types.Timestamp(snapshot) < c.RetentionWatermark() {
		return apperr.New(apperr.RetentionExpired, "transaction snapshot is older than the retention window")
	}
	return nil
}

// IsLeader reports whether this node may accept commits right now.
func (c *Committer) IsLeader() bool {
	if c.raft == nil {
		return true
	}
	return c.raft.State() == raft.Leader
}

// RaftStats implements metrics.StatsSource.
func (c *Committer) RaftStats() map[string]uint64 {
	if c.raft == nil {
		return nil
	}
	stats := map[string]uint64{
		"last_log_index": c.raft.LastIndex(),
		"applied_index":  c.raft.AppliedIndex(),
	}
	if cf := c.raft.GetConfiguration(); cf.Error() == nil {
		stats["num_peers"] = uint64(len(cf.Configuration().Servers))
	}
	return stats
}

// Tablets implements metrics.StatsSource.
func (c *Committer) Tablets() []types.TabletID { return c.reg.AllTablets() }

// DocumentCount implements metrics.StatsSource.
func (c *Committer) DocumentCount(ctx context.Context, tablet types.TabletID) (int64, error) {
	return c.store.Reader().DocumentCount(ctx, tablet)
}

// MaxTimestamp implements metrics.StatsSource.
func (c *Committer) MaxTimestamp(ctx context.Context) (types.Timestamp, error) {
	return c.store.MaxTimestamp(ctx)
}

// Commit validates tx's read set against every commit that has landed
// since its snapshot, assigns the next timestamp, durably applies the
// write, patches the registry, and notifies subscriptions - in that
// order, so a subscriber is never told about a commit the registry
// doesn't yet reflect.
func (c *Committer) Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error) {
	timer := metrics.NewTimer()

	if !c.IsLeader() {
		return 0, apperr.New(apperr.BackendUnavailable, "this node is not the raft leader")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.CheckSnapshot(tx.Snapshot()); err != nil {
		timer.ObserveDurationVec(metrics.CommitDuration, "error")
		return 0, err
	}

	if c.hasConflict(tx) {
		metrics.OCCConflictsTotal.Inc()
		timer.ObserveDurationVec(metrics.CommitDuration, "conflict")
		return 0, apperr.New(apperr.Conflict, "transaction read set conflicts with a concurrent commit")
	}

	c.lastTs++
	ts := c.lastTs

	batch := buildBatch(tx, ts)
	if err := c.apply(ctx, batch); err != nil {
		c.lastTs-- // give the timestamp back, this commit never happened
		timer.ObserveDurationVec(metrics.CommitDuration, "error")
		return 0, err
	}

	if err := c.patchRegistry(tx); err != nil {
		// The write already landed durably; the registry mirror is now
		// stale until the next restart rebuilds it from persistence. Log
		// loudly rather than returning an error the caller would retry
		// into a duplicate write.
		c.logger.Error().Err(err).Msg("registry patch failed after durable commit")
	}

	c.recordRecent(ts, batch.Indexes)

	if c.notifier != nil {
		c.notifier.NotifyCommit(ctx, ts, batch.Indexes)
	}

	timer.ObserveDurationVec(metrics.CommitDuration, "success")
	return ts, nil
}

func buildBatch(tx *txn.Transaction, ts types.Timestamp) persistence.WriteBatch {
	var batch persistence.WriteBatch
	tx.WriteSet().Range(func(id types.DocumentID, w types.DocumentWrite) bool {
		if w.New == nil {
			batch.AddDocument(types.LogRecord{ID: id, Ts: ts, Deleted: true})
		} else {
			v := w.New.Value
			batch.AddDocument(types.LogRecord{ID: id, Ts: ts, Value: &v})
		}
		return true
	})
	for _, e := range tx.IndexUpdates() {
		e.Ts = ts
		batch.AddIndex(e)
	}
	return batch
}

func (c *Committer) apply(ctx context.Context, batch persistence.WriteBatch) error {
	if c.raft == nil {
		if err := c.store.Write(ctx, batch); err != nil {
			return apperr.Wrap(apperr.System, err, "committer: write batch")
		}
		return nil
	}

	data, err := persistence.EncodeWriteBatch(batch)
	if err != nil {
		return apperr.Wrap(apperr.System, err, "committer: encode write batch")
	}
	future := c.raft.Apply(data, c.applyTimeout)
	if err := future.Error(); err != nil {
		return apperr.Wrap(apperr.BackendUnavailable, err, "committer: raft apply")
	}
	if resp := future.Response(); resp != nil {
		if ferr, ok := resp.(error); ok && ferr != nil {
			return apperr.Wrap(apperr.System, ferr, "committer: fsm write")
		}
	}
	return nil
}

// hasConflict reports whether any index key a commit since tx's snapshot
// wrote falls within an interval tx read.
func (c *Committer) hasConflict(tx *txn.Transaction) bool {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()

	snapshot := types.Timestamp(tx.Snapshot())
	rs := tx.ReadSet()
	for _, rec := range c.recent {
		if rec.ts <= snapshot {
			continue
		}
		for _, e := range rec.entries {
			if rs.Intersects(e.IndexID, types.Point(e.Key)) {
				return true
			}
		}
	}
	return false
}

func (c *Committer) recordRecent(ts types.Timestamp, entries []persistence.IndexEntry) {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()

	c.recent = append(c.recent, commitRecord{ts: ts, at: time.Now(), entries: entries})
	cutoff := time.Now().Add(-c.conflictWindow)
	i := 0
	for i < len(c.recent) && c.recent[i].at.Before(cutoff) {
		i++
	}
	c.recent = c.recent[i:]
}

// patchRegistry applies any write to one of the four system tablets to
// the in-memory registry mirror, decoding the before/after Value via
// pkg/registry's Encode/Decode pairs.
func (c *Committer) patchRegistry(tx *txn.Transaction) error {
	var firstErr error
	tx.WriteSet().Range(func(id types.DocumentID, w types.DocumentWrite) bool {
		var err error
		switch id.Tablet {
		case registry.TablesTablet:
			err = c.patchTable(w)
		case registry.IndexTablet:
			err = c.patchIndex(w)
		case registry.ComponentsTablet:
			err = c.patchComponent(w)
		case registry.SchemasTablet:
			err = c.patchSchema(w)
		default:
			return true
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func (c *Committer) patchTable(w types.DocumentWrite) error {
	before, err := decodeTableImage(w.Previous)
	if err != nil {
		return err
	}
	after, err := decodeTableImage(w.New)
	if err != nil {
		return err
	}
	return c.reg.PatchTable(before, after)
}

func decodeTableImage(doc *types.Document) (*schema.TableMetadata, error) {
	if doc == nil {
		return nil, nil
	}
	m, err := registry.DecodeTableMetadata(doc.Value)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "committer: decode _tables row")
	}
	return &m, nil
}

func (c *Committer) patchIndex(w types.DocumentWrite) error {
	before, err := decodeIndexImage(w.Previous)
	if err != nil {
		return err
	}
	after, err := decodeIndexImage(w.New)
	if err != nil {
		return err
	}
	return c.reg.PatchIndex(before, after)
}

func decodeIndexImage(doc *types.Document) (*schema.IndexMetadata, error) {
	if doc == nil {
		return nil, nil
	}
	m, err := registry.DecodeIndexMetadata(doc.Value)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "committer: decode _index row")
	}
	return &m, nil
}

func (c *Committer) patchComponent(w types.DocumentWrite) error {
	before, err := decodeComponentImage(w.Previous)
	if err != nil {
		return err
	}
	after, err := decodeComponentImage(w.New)
	if err != nil {
		return err
	}
	return c.reg.PatchComponent(before, after)
}

func decodeComponentImage(doc *types.Document) (*schema.ComponentInstance, error) {
	if doc == nil {
		return nil, nil
	}
	c, err := registry.DecodeComponentInstance(doc.Value)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "committer: decode _components row")
	}
	return &c, nil
}

func (c *Committer) patchSchema(w types.DocumentWrite) error {
	if w.New == nil {
		return nil // schema documents transition state, they are never deleted
	}
	after, err := registry.DecodeSchemaDocument(w.New.Value)
	if err != nil {
		return apperr.Wrap(apperr.System, err, "committer: decode _schemas row")
	}
	return c.reg.PatchSchema(after.Namespace, after)
}
