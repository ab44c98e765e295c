package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/relaydb/relay/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDocuments = []byte("documents")
	bucketIndexes   = []byte("indexes")
	bucketGlobals   = []byte("globals")
)

// BoltPersistence implements Persistence on a single bbolt file, the
// same bucket-per-entity, JSON-marshaled-value layout the cluster state
// store uses, generalized to three buckets whose keys are built so that
// bbolt's native cursor order is also document/index log order.
type BoltPersistence struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the persistence file under dataDir.
func Open(dataDir string) (*BoltPersistence, error) {
	dbPath := filepath.Join(dataDir, "relay.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open persistence db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDocuments, bucketIndexes, bucketGlobals} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPersistence{db: db}, nil
}

func (p *BoltPersistence) Close() error { return p.db.Close() }

func (p *BoltPersistence) Reader() PersistenceReader { return (*boltReader)(p) }

// Write appends every document and index row in batch within a single
// bbolt transaction, so a reader never observes a partial commit.
func (p *BoltPersistence) Write(ctx context.Context, batch WriteBatch) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		idxs := tx.Bucket(bucketIndexes)
		for _, d := range batch.Documents {
			key := encodeDocKey(d.ID.Tablet, d.ID.InternalID, d.Ts)
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal document log entry: %w", err)
			}
			if err := docs.Put(key, data); err != nil {
				return err
			}
		}
		for _, e := range batch.Indexes {
			if len(e.Key) > MaxIndexKeyBytes {
				return fmt.Errorf("index key for %s exceeds %d bytes", e.IndexID, MaxIndexKeyBytes)
			}
			key := encodeIndexKey(e.IndexID, e.Key, e.Ts)
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal index log entry: %w", err)
			}
			if err := idxs.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BoltPersistence) WriteGlobal(ctx context.Context, key GlobalKey, value json.RawMessage) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGlobals).Put(globalKeyBytes(key), value)
	})
}

func (p *BoltPersistence) GetGlobal(ctx context.Context, key GlobalKey) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGlobals).Get(globalKeyBytes(key))
		if v != nil {
			out = append(json.RawMessage{}, v...)
		}
		return nil
	})
	return out, err
}

func (p *BoltPersistence) MaxTimestamp(ctx context.Context) (types.Timestamp, error) {
	var max types.Timestamp
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if _, _, ts, ok := decodeDocKey(k); ok && ts > max {
				max = ts
			}
		}
		return nil
	})
	return max, err
}

// DeleteBefore removes document and index rows older than cutoff,
// keeping the newest version of each document at or before cutoff (and
// the newest row of each index key at or before cutoff), so reads at
// cutoff or later - including current reads - see the same data as
// before the purge.
func (p *BoltPersistence) DeleteBefore(ctx context.Context, cutoff types.Timestamp) (int, error) {
	removed := 0
	err := p.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		c := docs.Cursor()

		latest := map[types.DocumentID]types.Timestamp{}
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			tablet, id, ts, ok := decodeDocKey(k)
			if !ok || ts > cutoff {
				continue
			}
			dk := types.DocumentID{Tablet: tablet, InternalID: id}
			if ts > latest[dk] {
				latest[dk] = ts
			}
		}

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			tablet, id, ts, ok := decodeDocKey(k)
			dk := types.DocumentID{Tablet: tablet, InternalID: id}
			if !ok || ts >= cutoff || ts == latest[dk] {
				continue
			}
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := docs.Delete(k); err != nil {
				return err
			}
			removed++
		}

		idxs := tx.Bucket(bucketIndexes)
		ic := idxs.Cursor()
		newestPerKey := map[string]types.Timestamp{}
		for k, _ := ic.First(); k != nil; k, _ = ic.Next() {
			if ts := decodeIndexKeyTs(k); len(k) >= 8 && ts <= cutoff && ts > newestPerKey[string(k[:len(k)-8])] {
				newestPerKey[string(k[:len(k)-8])] = ts
			}
		}
		var idxDelete [][]byte
		for k, _ := ic.First(); k != nil; k, _ = ic.Next() {
			if ts := decodeIndexKeyTs(k); ts < cutoff && (len(k) < 8 || ts != newestPerKey[string(k[:len(k)-8])]) {
				idxDelete = append(idxDelete, append([]byte{}, k...))
			}
		}
		for _, k := range idxDelete {
			if err := idxs.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func decodeIndexKeyTs(key []byte) types.Timestamp {
	if len(key) < 8 {
		return 0
	}
	var ts types.Timestamp
	for _, b := range key[len(key)-8:] {
		ts = ts<<8 | types.Timestamp(b)
	}
	return ts
}

type boltReader BoltPersistence

func (r *boltReader) GetDocument(ctx context.Context, id types.DocumentID, atTs *types.Timestamp) (*types.LogRecord, error) {
	var result *types.LogRecord
	err := (*BoltPersistence)(r).db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()
		prefix := docKeyForID(id.Tablet, id.InternalID)
		var best *types.LogRecord
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec types.LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal document log entry: %w", err)
			}
			if atTs != nil && rec.Ts > *atTs {
				continue
			}
			if best == nil || rec.Ts > best.Ts {
				cp := rec
				best = &cp
			}
		}
		if best != nil && !best.Deleted {
			result = best
		}
		return nil
	})
	return result, err
}

func (r *boltReader) LoadDocuments(ctx context.Context, tablet types.TabletID, tsRange types.TimestampRange, order types.Order) ([]types.LogRecord, error) {
	var out []types.LogRecord
	err := (*BoltPersistence)(r).db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()
		prefix := docKeyPrefix(tablet)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec types.LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal document log entry: %w", err)
			}
			if !tsRange.Contains(rec.Ts) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if order == types.Descending {
			return out[i].Ts > out[j].Ts
		}
		return out[i].Ts < out[j].Ts
	})
	return out, nil
}

// IndexScan walks the index log within iv, keeping only the latest
// non-deleted version of each key at or before readTs.
func (r *boltReader) IndexScan(ctx context.Context, indexID string, iv types.Interval, readTs types.Timestamp, order types.Order, limit int) ([]IndexResult, error) {
	lower, upper, unbounded := indexScanBounds(indexID, iv)

	type latestEntry struct {
		key   []byte
		entry IndexEntry
	}
	byKey := map[string]*latestEntry{}
	var keyOrder []string

	err := (*BoltPersistence)(r).db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIndexes).Cursor()
		for k, v := c.Seek(lower); k != nil; k, v = c.Next() {
			if !unbounded && bytes.Compare(k, upper) >= 0 {
				break
			}
			var e IndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal index log entry: %w", err)
			}
			if e.Ts > readTs {
				continue
			}
			ks := string(e.Key)
			cur, seen := byKey[ks]
			if !seen {
				keyOrder = append(keyOrder, ks)
				byKey[ks] = &latestEntry{key: e.Key, entry: e}
				continue
			}
			if e.Ts > cur.entry.Ts {
				cur.entry = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keyOrder)
	if order == types.Descending {
		sort.Sort(sort.Reverse(sort.StringSlice(keyOrder)))
	}

	out := make([]IndexResult, 0, len(keyOrder))
	for _, ks := range keyOrder {
		le := byKey[ks]
		if le.entry.Deleted {
			continue
		}
		rec, err := r.GetDocument(ctx, le.entry.DocID, &readTs)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, IndexResult{Key: le.key, Record: *rec})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *boltReader) IndexGet(ctx context.Context, indexID string, key []byte, readTs types.Timestamp) (*IndexResult, error) {
	results, err := r.IndexScan(ctx, indexID, types.Point(key), readTs, types.Ascending, 1)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

func (r *boltReader) DocumentCount(ctx context.Context, tablet types.TabletID) (int64, error) {
	var count int64
	err := (*BoltPersistence)(r).db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()
		prefix := docKeyPrefix(tablet)
		deleted := map[types.InternalID]bool{}
		seen := map[types.InternalID]bool{}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			_, id, _, ok := decodeDocKey(k)
			if !ok {
				continue
			}
			var rec types.LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			seen[id] = true
			deleted[id] = rec.Deleted
		}
		for id := range seen {
			if !deleted[id] {
				count++
			}
		}
		return nil
	})
	return count, err
}
