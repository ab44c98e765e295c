package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/relaydb/relay/pkg/types"
	"github.com/hashicorp/raft"
)

// command is the single envelope every Raft log entry carries: one of
// the two mutating Persistence operations. Raft itself serializes Apply
// calls, so whichever node it elects leader is the only node allowed to
// propose a command - that election is the single-writer lease the
// committer relies on.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opWriteBatch  = "write_batch"
	opWriteGlobal = "write_global"
)

type writeGlobalCommand struct {
	Key   GlobalKey       `json:"key"`
	Value json.RawMessage `json:"value"`
}

// FSM adapts a Persistence into a raft.FSM: writes only take effect
// once a quorum of the raft peer set has durably logged them. This
// generalizes the cluster-state FSM's Command{Op,Data}-dispatch pattern
// to persistence's two mutating operations.
type FSM struct {
	mu sync.RWMutex
	p  Persistence
}

func NewFSM(p Persistence) *FSM { return &FSM{p: p} }

// EncodeWriteBatch builds the raft.Log.Data bytes for a committed
// transaction's durable effects. The leader calls this, then submits
// the result through its raft.Raft.Apply handle.
func EncodeWriteBatch(batch WriteBatch) ([]byte, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal write batch: %w", err)
	}
	return json.Marshal(command{Op: opWriteBatch, Data: data})
}

// EncodeWriteGlobal builds the raft.Log.Data bytes for a globals-bucket
// upsert (schema generation markers, retention cursors).
func EncodeWriteGlobal(key GlobalKey, value json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(writeGlobalCommand{Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("marshal write-global command: %w", err)
	}
	return json.Marshal(command{Op: opWriteGlobal, Data: data})
}

// Apply is invoked by Raft once a log entry is committed to a quorum.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal raft command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	switch cmd.Op {
	case opWriteBatch:
		var batch WriteBatch
		if err := json.Unmarshal(cmd.Data, &batch); err != nil {
			return err
		}
		return f.p.Write(ctx, batch)
	case opWriteGlobal:
		var wg writeGlobalCommand
		if err := json.Unmarshal(cmd.Data, &wg); err != nil {
			return err
		}
		return f.p.WriteGlobal(ctx, wg.Key, wg.Value)
	default:
		return fmt.Errorf("unknown persistence command %q", cmd.Op)
	}
}

// fsmSnapshot carries only the commit watermark. The bbolt file itself
// is already a durable single-file store, so a lagging peer catches up
// by copying the leader's file out of band at bootstrap rather than by
// replaying a JSON dump of the whole document log through Raft.
type fsmSnapshot struct {
	MaxTs types.Timestamp `json:"max_ts"`
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	max, err := f.p.MaxTimestamp(context.Background())
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{MaxTs: max}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode persistence snapshot: %w", err)
	}
	return nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
