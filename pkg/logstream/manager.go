package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/health"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/rs/zerolog"
)

// Committer is the narrow slice of pkg/committer's API the log sink
// registry needs - the same decoupling shape as pkg/filestorage.Committer
// and pkg/importer.Committer.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// Manager persists `_log_sinks` rows and fans function log lines out to
// whichever of them are Active (or not yet proven Failed). It implements
// pkg/httpapi's LogSinkRegistry interface.
type Manager struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	txnLimits config.TransactionLimits
	deliverer Deliverer
	precheck  bool
	logger    zerolog.Logger

	batches chan logBatch
	stopCh  chan struct{}
}

type logBatch struct {
	Path  string
	Lines []string
}

var logstreamIdentity = txn.Identity{Subject: "logstream"}

func NewManager(reg *registry.Registry, reader persistence.PersistenceReader, committer Committer, txnLimits config.TransactionLimits, deliverer Deliverer) *Manager {
	return &Manager{
		reg:       reg,
		reader:    reader,
		committer: committer,
		txnLimits: txnLimits,
		deliverer: deliverer,
		logger:    log.WithComponent("logstream"),
		batches:   make(chan logBatch, 256),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the dispatch loop, mirroring pkg/events.Broker.Start.
func (m *Manager) Start() {
	go m.run()
}

// Stop ends the dispatch loop. Queued batches that never got dispatched
// are dropped, same as a subscriber whose buffer never drained.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Emit queues path's log lines for fan-out, not blocking the caller's
// request path: a full queue drops the batch rather than stalling the
// function call that produced it, same tradeoff as Broker.Publish's
// best-effort send.
func (m *Manager) Emit(path string, lines []string) {
	if len(lines) == 0 {
		return
	}
	select {
	case m.batches <- logBatch{Path: path, Lines: lines}:
	default:
		m.logger.Warn().Str("path", path).Msg("log sink dispatch queue full, dropping batch")
	}
}

func (m *Manager) run() {
	for {
		select {
		case b := <-m.batches:
			m.dispatch(b)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) dispatch(b logBatch) {
	ctx := context.Background()
	sinks, err := m.scanSinks(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("list sinks for dispatch")
		return
	}

	now := time.Now()
	lines := make([]LogLine, len(b.Lines))
	for i, l := range b.Lines {
		lines[i] = LogLine{Path: b.Path, Line: l, Timestamp: now}
	}

	for id, entry := range sinks {
		if entry.State == schema.LogSinkFailed || entry.State == schema.LogSinkTombstoned {
			continue
		}
		if err := m.deliverer.Deliver(ctx, json.RawMessage(entry.Config), lines); err != nil {
			m.logger.Warn().Str("sink", entry.ID).Err(err).Msg("log sink delivery failed")
			if perr := m.patchState(ctx, id, schema.LogSinkFailed, err.Error()); perr != nil {
				m.logger.Error().Err(perr).Str("sink", entry.ID).Msg("mark sink failed")
			}
			continue
		}
		if entry.State == schema.LogSinkPending {
			if perr := m.patchState(ctx, id, schema.LogSinkActive, ""); perr != nil {
				m.logger.Error().Err(perr).Str("sink", entry.ID).Msg("mark sink active")
			}
		}
	}
}

// ListSinks returns every configured sink's own config alongside its
// lifecycle state, for the admin log-sinks listing endpoint.
func (m *Manager) ListSinks() ([]json.RawMessage, error) {
	ctx := context.Background()
	sinks, err := m.scanSinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(sinks))
	for _, entry := range sinks {
		raw, err := json.Marshal(struct {
			ID     string          `json:"id"`
			State  string          `json:"state"`
			Error  string          `json:"error,omitempty"`
			Config json.RawMessage `json:"config"`
		}{
			ID:     entry.ID,
			State:  string(entry.State),
			Error:  entry.Error,
			Config: json.RawMessage(entry.Config),
		})
		if err != nil {
			return nil, fmt.Errorf("logstream: marshal sink %s: %w", entry.ID, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// SetPreflightEnabled toggles a reachability check of the sink's
// webhook URL before ConfigureSink persists it. Off by default so
// tests and sinks behind a firewall the relay node cannot itself reach
// aren't rejected at configuration time.
func (m *Manager) SetPreflightEnabled(enabled bool) {
	m.precheck = enabled
}

// ConfigureSink persists a new sink in Pending state; the dispatch loop
// flips it to Active on its first successful delivery. If preflight is
// enabled, an unreachable webhook URL fails the call before anything is
// written, rather than surfacing only as a Failed sink later.
func (m *Manager) ConfigureSink(config json.RawMessage) error {
	ctx := context.Background()

	if m.precheck {
		if url, ok := webhookURL(config); ok {
			result := health.NewHTTPChecker(url).Check(ctx)
			if !result.Healthy {
				return fmt.Errorf("logstream: sink preflight failed: %s", result.Message)
			}
		}
	}

	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(logstreamIdentity, snapshot, m.reg, m.reader, m.txnLimits)

	id := types.InternalID(uuid.NewString())
	entry := schema.LogSinkEntry{ID: string(id), Config: string(config), State: schema.LogSinkPending}
	if _, err := tx.Insert(ctx, registry.LogSinksTablet, id, registry.EncodeLogSinkEntry(entry)); err != nil {
		tx.Cancel()
		return err
	}
	_, err = m.committer.Commit(ctx, tx)
	return err
}

func (m *Manager) scanSinks(ctx context.Context) (map[types.InternalID]schema.LogSinkEntry, error) {
	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	indexName := schema.IndexName{Tablet: registry.LogSinksTablet, Descriptor: schema.ByID}.String()
	results, err := m.reader.IndexScan(ctx, indexName, types.All(), types.Timestamp(snapshot), types.Ascending, 0)
	if err != nil {
		return nil, fmt.Errorf("logstream: scan _log_sinks: %w", err)
	}
	out := make(map[types.InternalID]schema.LogSinkEntry, len(results))
	for _, r := range results {
		if r.Record.Value == nil {
			continue
		}
		entry, err := registry.DecodeLogSinkEntry(r.Record.ID.InternalID, *r.Record.Value)
		if err != nil {
			return nil, err
		}
		out[r.Record.ID.InternalID] = entry
	}
	return out, nil
}

func (m *Manager) patchState(ctx context.Context, id types.InternalID, state schema.LogSinkState, errMsg string) error {
	snapshot, err := m.committer.Snapshot(ctx)
	if err != nil {
		return err
	}
	tx := txn.Begin(logstreamIdentity, snapshot, m.reg, m.reader, m.txnLimits)
	docID := types.DocumentID{Tablet: registry.LogSinksTablet, InternalID: id}
	patch := types.ObjOf(
		types.Field("state", types.Str(string(state))),
		types.Field("error", types.Str(errMsg)),
	)
	if err := tx.Patch(ctx, docID, patch); err != nil {
		tx.Cancel()
		return err
	}
	_, err = m.committer.Commit(ctx, tx)
	return err
}

// webhookURL extracts the "url" field a sink's opaque config carries,
// the same shape HTTPDeliverer.Deliver decodes.
func webhookURL(config json.RawMessage) (string, bool) {
	var cfg struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil || cfg.URL == "" {
		return "", false
	}
	return cfg.URL, true
}
