package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
)

// namedKey scopes a table or index name lookup by namespace, mirroring
// the namespace-scoped uniqueness invariant in the data model.
type namedKey struct {
	ns   schema.Namespace
	name string
}

// Registry is the in-memory, concurrency-safe mirror of the system
// tables. Reads take the RLock; the committer is the only writer and
// always patches one row at a time after a commit lands.
type Registry struct {
	mu sync.RWMutex

	tablesByID     map[types.TabletID]schema.TableMetadata
	tablesByNumber map[types.TableNumber]schema.TableMetadata
	tablesByName   map[namedKey]schema.TableMetadata

	indexesByName   map[schema.IndexName]schema.IndexMetadata
	indexesByTablet map[types.TabletID][]schema.IndexName

	components map[string]schema.ComponentInstance // id -> instance

	schemas map[schema.Namespace][]schema.SchemaDocument // all states, most recent last
}

// New returns an empty Registry. Call Bootstrap before serving traffic.
//
// The non-mirrored system tablets (_storage, _log_sinks,
// _scheduled_jobs, _env_vars) never get a
// `_tables`/`_index` row of their own - nothing ever writes one, since
// pkg/filestorage and pkg/logstream address them by a hardcoded tablet
// constant rather than through ResolveName. Without a registered by_id
// index, computeIndexUpdates would maintain no index entries for their
// rows at all and any IndexScan-based reader (pkg/exports' scanTable)
// would see them as permanently empty, so their by_id indexes are
// wired in directly here instead of waiting on a row that will never
// arrive.
func New() *Registry {
	r := &Registry{
		tablesByID:      make(map[types.TabletID]schema.TableMetadata),
		tablesByNumber:  make(map[types.TableNumber]schema.TableMetadata),
		tablesByName:    make(map[namedKey]schema.TableMetadata),
		indexesByName:   make(map[schema.IndexName]schema.IndexMetadata),
		indexesByTablet: make(map[types.TabletID][]schema.IndexName),
		components:      make(map[string]schema.ComponentInstance),
		schemas:         make(map[schema.Namespace][]schema.SchemaDocument),
	}
	for _, tablet := range []types.TabletID{StorageTablet, LogSinksTablet, ScheduledJobsTablet, EnvVarsTablet} {
		byID := schema.NewEnabledDatabaseIndex(schema.IndexName{Tablet: tablet, Descriptor: schema.ByID}, nil)
		r.putIndexLocked(byID)
	}
	return r
}

// Bootstrap loads every system-table document up to maxTs from reader and
// builds the in-memory indexes. Must be called once before the registry
// serves any resolve/load call; the committer calls it again only after
// a snapshot-import flip of the system tables themselves.
func (r *Registry) Bootstrap(ctx context.Context, reader persistence.PersistenceReader, maxTs types.Timestamp) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tsRange := types.TimestampRange{Min: types.MinTimestamp, Max: maxTs}

	tableRows, err := reader.LoadDocuments(ctx, TablesTablet, tsRange, types.Ascending)
	if err != nil {
		return fmt.Errorf("registry: bootstrap _tables: %w", err)
	}
	for _, row := range latestPerID(tableRows) {
		if row.Deleted || row.Value == nil {
			continue
		}
		m, err := DecodeTableMetadata(*row.Value)
		if err != nil {
			return err
		}
		r.putTableLocked(m)
	}

	indexRows, err := reader.LoadDocuments(ctx, IndexTablet, tsRange, types.Ascending)
	if err != nil {
		return fmt.Errorf("registry: bootstrap _index: %w", err)
	}
	for _, row := range latestPerID(indexRows) {
		if row.Deleted || row.Value == nil {
			continue
		}
		m, err := DecodeIndexMetadata(*row.Value)
		if err != nil {
			return err
		}
		r.putIndexLocked(m)
	}

	componentRows, err := reader.LoadDocuments(ctx, ComponentsTablet, tsRange, types.Ascending)
	if err != nil {
		return fmt.Errorf("registry: bootstrap _components: %w", err)
	}
	for _, row := range latestPerID(componentRows) {
		if row.Deleted || row.Value == nil {
			continue
		}
		c, err := DecodeComponentInstance(*row.Value)
		if err != nil {
			return err
		}
		r.components[c.ID] = c
	}

	schemaRows, err := reader.LoadDocuments(ctx, SchemasTablet, tsRange, types.Ascending)
	if err != nil {
		return fmt.Errorf("registry: bootstrap _schemas: %w", err)
	}
	for _, row := range latestPerID(schemaRows) {
		if row.Deleted || row.Value == nil {
			continue
		}
		s, err := DecodeSchemaDocument(*row.Value)
		if err != nil {
			return err
		}
		r.schemas[s.Namespace] = append(r.schemas[s.Namespace], s)
	}

	return nil
}

// latestPerID collapses a LoadDocuments result (which may contain
// intermediate versions) down to the latest non-superseded row per
// document id, preserving commit order for ties.
func latestPerID(rows []types.LogRecord) []types.LogRecord {
	latest := make(map[types.InternalID]types.LogRecord, len(rows))
	order := make([]types.InternalID, 0, len(rows))
	for _, row := range rows {
		if _, ok := latest[row.ID.InternalID]; !ok {
			order = append(order, row.ID.InternalID)
		}
		latest[row.ID.InternalID] = row
	}
	out := make([]types.LogRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func (r *Registry) putTableLocked(m schema.TableMetadata) {
	r.tablesByID[m.Tablet] = m
	r.tablesByNumber[m.Number] = m
	key := namedKey{ns: m.Namespace, name: m.Name}
	if m.State == schema.TableActive {
		r.tablesByName[key] = m
	} else if existing, ok := r.tablesByName[key]; ok && existing.Tablet == m.Tablet {
		delete(r.tablesByName, key)
	}
}

func (r *Registry) putIndexLocked(m schema.IndexMetadata) {
	r.indexesByName[m.ID] = m
	tablet := m.ID.Tablet
	found := false
	for _, existing := range r.indexesByTablet[tablet] {
		if existing == m.ID {
			found = true
			break
		}
	}
	if !found {
		r.indexesByTablet[tablet] = append(r.indexesByTablet[tablet], m.ID)
	}
}

// ResolveName resolves a developer-visible table name within a namespace
// to its current physical tablet and stable table number.
func (r *Registry) ResolveName(ns schema.Namespace, tableName string) (types.TabletID, types.TableNumber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.tablesByName[namedKey{ns: ns, name: tableName}]
	if !ok {
		return "", 0, apperr.New(apperr.NotFound, "no active table named %q in namespace %q", tableName, ns.ComponentID)
	}
	return m.Tablet, m.Number, nil
}

// TableByTablet returns the current metadata for a tablet, used by the
// transaction engine to find a tablet's indexes and active schema.
func (r *Registry) TableByTablet(tablet types.TabletID) (schema.TableMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.tablesByID[tablet]
	return m, ok
}

// IndexesForTablet returns every index declared on a tablet, database and
// search/vector alike; every staged write must compute an index update
// for each of these.
func (r *Registry) IndexesForTablet(tablet types.TabletID) []schema.IndexMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.indexesByTablet[tablet]
	out := make([]schema.IndexMetadata, 0, len(names))
	for _, n := range names {
		out = append(out, r.indexesByName[n])
	}
	return out
}

// AllTablets returns every tablet currently known to the table registry,
// for the committer's metrics.StatsSource.Tablets implementation.
func (r *Registry) AllTablets() []types.TabletID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TabletID, 0, len(r.tablesByID))
	for tablet := range r.tablesByID {
		out = append(out, tablet)
	}
	return out
}

// ResolvePath resolves a dotted component path (e.g. "billing.invoices")
// to the component instance mounted there, walking the tree from the
// root by child name.
func (r *Registry) ResolvePath(path string) (schema.ComponentInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var current schema.ComponentInstance
	found := false
	for _, c := range r.components {
		if c.Parent == "" && c.Name == "" {
			current = c
			found = true
			break
		}
	}
	if !found {
		return schema.ComponentInstance{}, apperr.New(apperr.NotFound, "component tree has no root")
	}
	if path == "" {
		return current, nil
	}

	remaining := path
	for remaining != "" {
		name, rest := splitFirstSegment(remaining)
		child, ok := r.childByName(current.ID, name)
		if !ok {
			return schema.ComponentInstance{}, apperr.New(apperr.NotFound, "no component %q under %q", name, path)
		}
		current = child
		remaining = rest
	}
	return current, nil
}

func (r *Registry) childByName(parentID, name string) (schema.ComponentInstance, bool) {
	for _, c := range r.components {
		if c.Parent == parentID && c.Name == name {
			return c, true
		}
	}
	return schema.ComponentInstance{}, false
}

func splitFirstSegment(path string) (head, rest string) {
	for i, ch := range path {
		if ch == '.' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// LoadComponent returns a mounted component by id. Callers in the
// transaction layer must additionally record a read-set entry on the
// `_components` index so that a later mount/unmount invalidates any
// query that resolved through this component, per spec.
func (r *Registry) LoadComponent(id string) (schema.ComponentInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[id]
	if !ok {
		return schema.ComponentInstance{}, apperr.New(apperr.NotFound, "no component with id %q", id)
	}
	return c, nil
}

// ActiveSchema returns the active schema document for a namespace, if
// any.
func (r *Registry) ActiveSchema(ns schema.Namespace) (schema.SchemaDocument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.schemas[ns] {
		if s.State == schema.SchemaActive {
			return s, true
		}
	}
	return schema.SchemaDocument{}, false
}

// PatchTable applies a committed before/after diff to the table
// registry. before must match the current in-memory row exactly (or be
// nil for an insert); a mismatch means the registry has drifted from
// persistence and the committer must not proceed.
func (r *Registry) PatchTable(before, after *schema.TableMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before != nil {
		current, ok := r.tablesByID[before.Tablet]
		if !ok || current != *before {
			return apperr.New(apperr.System, "registry: _tables pre-image mismatch for tablet %s", before.Tablet)
		}
	}
	if after == nil {
		if before != nil {
			delete(r.tablesByID, before.Tablet)
			delete(r.tablesByNumber, before.Number)
			delete(r.tablesByName, namedKey{ns: before.Namespace, name: before.Name})
		}
		return nil
	}
	r.putTableLocked(*after)
	return nil
}

// PatchIndex applies a committed before/after diff to the index
// registry, with the same pre-image validation as PatchTable.
func (r *Registry) PatchIndex(before, after *schema.IndexMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before != nil {
		current, ok := r.indexesByName[before.ID]
		if !ok || !sameIndex(current, *before) {
			return apperr.New(apperr.System, "registry: _index pre-image mismatch for %s", before.ID)
		}
	}
	if after == nil {
		if before != nil {
			delete(r.indexesByName, before.ID)
			names := r.indexesByTablet[before.ID.Tablet]
			for i, n := range names {
				if n == before.ID {
					r.indexesByTablet[before.ID.Tablet] = append(names[:i], names[i+1:]...)
					break
				}
			}
		}
		return nil
	}
	r.putIndexLocked(*after)
	return nil
}

func sameIndex(a, b schema.IndexMetadata) bool {
	return a.ID == b.ID && a.Kind == b.Kind && a.DatabaseState == b.DatabaseState
}

// PatchComponent applies a committed before/after diff to the component
// tree.
func (r *Registry) PatchComponent(before, after *schema.ComponentInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before != nil {
		current, ok := r.components[before.ID]
		if !ok || current.State != before.State {
			return apperr.New(apperr.System, "registry: _components pre-image mismatch for %s", before.ID)
		}
	}
	if after == nil {
		if before != nil {
			delete(r.components, before.ID)
		}
		return nil
	}
	r.components[after.ID] = *after
	return nil
}

// PatchSchema applies a committed before/after diff to the schema
// registry, enforcing the at-most-one-pending/validated and
// at-most-one-active invariant per namespace.
func (r *Registry) PatchSchema(ns schema.Namespace, after schema.SchemaDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.schemas[ns]
	replaced := false
	for i, s := range docs {
		if s.ID == after.ID {
			docs[i] = after
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, after)
	}

	if after.State == schema.SchemaPending || after.State == schema.SchemaValidated {
		count := 0
		for _, s := range docs {
			if s.State == schema.SchemaPending || s.State == schema.SchemaValidated {
				count++
			}
		}
		if count > 1 {
			return apperr.New(apperr.System, "registry: namespace %q has more than one pending/validated schema", ns.ComponentID)
		}
	}
	if after.State == schema.SchemaActive {
		activeCount := 0
		for _, s := range docs {
			if s.State == schema.SchemaActive {
				activeCount++
			}
		}
		if activeCount > 1 {
			return apperr.New(apperr.System, "registry: namespace %q has more than one active schema", ns.ComponentID)
		}
	}

	r.schemas[ns] = docs
	return nil
}
