// Package envvars persists deployment-configured environment variables
// as `_env_vars` system-table rows, the same shape pkg/logstream uses
// for `_log_sinks`: a narrow Committer interface, a transaction built
// fresh per call, and no in-memory mirror - pkg/sandbox reads these
// rows directly through its own transaction.
package envvars

import (
	"context"
	"fmt"

	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// Committer is the narrow slice of pkg/committer's API this package
// needs, the same decoupling shape as pkg/logstream.Committer.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// Manager creates and updates `_env_vars` rows through the ordinary
// commit/OCC path, so a variable's creation or change is visible to
// pkg/sandbox's read-set-based invalidation the instant it commits.
type Manager struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	txnLimits config.TransactionLimits
}

var envvarsIdentity = txn.Identity{Subject: "envvars"}

func NewManager(reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, txnLimits config.TransactionLimits) *Manager {
	return &Manager{reg: reg, reader: reader, committer: committer, txnLimits: txnLimits}
}

// SetVar creates or overwrites the named variable. Replace (not Patch)
// is used deliberately: a rename-by-recreate and a value update look
// identical to a reader and both must invalidate anyone who has read
// this name, which a plain document write already does through the
// by_id index.
func (m *Manager) SetVar(ctx context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("envvars: name must not be empty")
	}
	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(envvarsIdentity, snapshot, m.reg, m.reader, m.txnLimits)
	id := types.DocumentID{Tablet: registry.EnvVarsTablet, InternalID: types.InternalID(name)}

	existing, err := tx.Get(ctx, id)
	if err != nil {
		tx.Cancel()
		return err
	}
	if existing != nil {
		err = tx.Replace(ctx, id, registry.EncodeEnvVar(name, value))
	} else {
		_, err = tx.Insert(ctx, registry.EnvVarsTablet, id.InternalID, registry.EncodeEnvVar(name, value))
	}
	if err != nil {
		tx.Cancel()
		return err
	}
	_, err = m.committer.Commit(ctx, tx)
	return err
}

// DeleteVar tombstones the named variable. Anyone whose read set holds
// a point entry for this name is invalidated the same as a SetVar call.
func (m *Manager) DeleteVar(ctx context.Context, name string) error {
	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(envvarsIdentity, snapshot, m.reg, m.reader, m.txnLimits)
	id := types.DocumentID{Tablet: registry.EnvVarsTablet, InternalID: types.InternalID(name)}
	if err := tx.Delete(ctx, id); err != nil {
		tx.Cancel()
		return err
	}
	_, err = m.committer.Commit(ctx, tx)
	return err
}

// ListVars scans every `_env_vars` row at the current snapshot, for the
// admin listing endpoint.
func (m *Manager) ListVars(ctx context.Context) (map[string]string, error) {
	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	indexName := schema.IndexName{Tablet: registry.EnvVarsTablet, Descriptor: schema.ByID}.String()
	results, err := m.reader.IndexScan(ctx, indexName, types.All(), types.Timestamp(snapshot), types.Ascending, 0)
	if err != nil {
		return nil, fmt.Errorf("envvars: scan _env_vars: %w", err)
	}
	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.Record.Value == nil {
			continue
		}
		value, err := registry.DecodeEnvVar(*r.Record.Value)
		if err != nil {
			return nil, err
		}
		out[string(r.Record.ID.InternalID)] = value
	}
	return out, nil
}
