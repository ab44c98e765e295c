package registry

import (
	"fmt"

	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/types"
)

// EncodeStorageEntry renders a StorageEntry as the Value a `_storage`
// document carries.
func EncodeStorageEntry(e schema.StorageEntry) types.Value {
	return types.ObjOf(
		types.Field("digest", types.Str(e.Digest)),
		types.Field("size", types.Int(e.Size)),
		types.Field("content_type", types.Str(e.ContentType)),
		types.Field("created_at", types.Int(int64(e.CreatedAt))),
	)
}

// DecodeStorageEntry parses a `_storage` document back into a
// StorageEntry. id is threaded in separately since the document's own
// internal id, not a field inside its value, is the entry's identity.
func DecodeStorageEntry(id types.InternalID, v types.Value) (schema.StorageEntry, error) {
	if v.Kind != types.KindObject {
		return schema.StorageEntry{}, fmt.Errorf("registry: _storage row is not an object")
	}
	return schema.StorageEntry{
		ID:          id,
		Digest:      str(v, "digest"),
		Size:        intField(v, "size"),
		ContentType: str(v, "content_type"),
		CreatedAt:   types.Timestamp(intField(v, "created_at")),
	}, nil
}

// System tablet names. These four tablets always exist in the root
// namespace and are bootstrapped before any user table.
const (
	TablesTablet     types.TabletID = "_tables"
	IndexTablet      types.TabletID = "_index"
	ComponentsTablet types.TabletID = "_components"
	SchemasTablet    types.TabletID = "_schemas"
)

// StorageTablet holds file upload metadata (spec's `_storage` system
// table): one row per developer-visible file id, resolving to a
// content-addressed blob. Unlike the four tablets above, pkg/registry
// keeps no in-memory mirror of it - pkg/filestorage reads/writes its
// rows directly, the same way a user table would.
const StorageTablet types.TabletID = "_storage"

// LogSinksTablet holds configured log sink rows (spec's `_log_sinks`
// system table). Like `_storage`, pkg/registry keeps no in-memory
// mirror of it - pkg/logstream reads/writes its rows directly.
const LogSinksTablet types.TabletID = "_log_sinks"

// EncodeLogSinkEntry renders a LogSinkEntry as the Value a `_log_sinks`
// document carries.
func EncodeLogSinkEntry(e schema.LogSinkEntry) types.Value {
	return types.ObjOf(
		types.Field("config", types.Str(e.Config)),
		types.Field("state", types.Str(string(e.State))),
		types.Field("error", types.Str(e.Error)),
	)
}

// DecodeLogSinkEntry parses a `_log_sinks` document back into a
// LogSinkEntry. id is threaded in separately since the document's own
// internal id, not a field inside its value, is the entry's identity.
func DecodeLogSinkEntry(id types.InternalID, v types.Value) (schema.LogSinkEntry, error) {
	if v.Kind != types.KindObject {
		return schema.LogSinkEntry{}, fmt.Errorf("registry: _log_sinks row is not an object")
	}
	return schema.LogSinkEntry{
		ID:     string(id),
		Config: str(v, "config"),
		State:  schema.LogSinkState(str(v, "state")),
		Error:  str(v, "error"),
	}, nil
}

// ScheduledJobsTablet holds deferred function calls (spec's
// `_scheduled_jobs` system table). Like `_storage` and `_log_sinks`,
// pkg/registry keeps no in-memory mirror of it - pkg/scheduler reads
// and writes its rows directly.
const ScheduledJobsTablet types.TabletID = "_scheduled_jobs"

// EncodeScheduledJob renders a ScheduledJob as the Value a
// `_scheduled_jobs` document carries.
func EncodeScheduledJob(j schema.ScheduledJob) types.Value {
	return types.ObjOf(
		types.Field("name", types.Str(j.Name)),
		types.Field("path", types.Str(j.Path)),
		types.Field("args", j.Args),
		types.Field("identity_subject", types.Str(j.IdentitySubject)),
		types.Field("status", types.Str(string(j.Status))),
		types.Field("scheduled_at", types.Int(int64(j.ScheduledAt))),
		types.Field("execute_at", types.Int(int64(j.ExecuteAt))),
		types.Field("retry_count", types.Int(int64(j.RetryCount))),
		types.Field("max_retries", types.Int(int64(j.MaxRetries))),
		types.Field("error", types.Str(j.Error)),
	)
}

// DecodeScheduledJob parses a `_scheduled_jobs` document back into a
// ScheduledJob. id is threaded in separately since the document's own
// internal id, not a field inside its value, is the job's identity.
func DecodeScheduledJob(id types.InternalID, v types.Value) (schema.ScheduledJob, error) {
	if v.Kind != types.KindObject {
		return schema.ScheduledJob{}, fmt.Errorf("registry: _scheduled_jobs row is not an object")
	}
	args, _ := v.Get("args")
	return schema.ScheduledJob{
		ID:              string(id),
		Name:            str(v, "name"),
		Path:            str(v, "path"),
		Args:            args,
		IdentitySubject: str(v, "identity_subject"),
		Status:          schema.JobStatus(str(v, "status")),
		ScheduledAt:     types.Timestamp(intField(v, "scheduled_at")),
		ExecuteAt:       types.Timestamp(intField(v, "execute_at")),
		RetryCount:      int(intField(v, "retry_count")),
		MaxRetries:      int(intField(v, "max_retries")),
		Error:           str(v, "error"),
	}, nil
}

// EnvVarsTablet holds deployment-configured variables (spec's
// `_env_vars` system table): one row per name, keyed by the name itself
// as its internal id. Like `_storage`, `_log_sinks`, and
// `_scheduled_jobs`, pkg/registry keeps no in-memory mirror of it -
// pkg/sandbox reads a row through the transaction the same way it reads
// any user document, which is what lets a guest's process.env read
// register in the transaction's read set and invalidate a live
// subscription when the variable is later created or changed.
const EnvVarsTablet types.TabletID = "_env_vars"

// EncodeEnvVar renders a name/value pair as the Value an `_env_vars`
// document carries. The name is stored alongside the value even though
// the document id already is the name, so a full table scan (e.g. the
// admin listing endpoint) never needs a second lookup to label a row.
func EncodeEnvVar(name, value string) types.Value {
	return types.ObjOf(
		types.Field("name", types.Str(name)),
		types.Field("value", types.Str(value)),
	)
}

// DecodeEnvVar parses an `_env_vars` document back into its value.
func DecodeEnvVar(v types.Value) (string, error) {
	if v.Kind != types.KindObject {
		return "", fmt.Errorf("registry: _env_vars row is not an object")
	}
	return str(v, "value"), nil
}

func str(v types.Value, field string) string {
	f, ok := v.Get(field)
	if !ok || f.Kind != types.KindString {
		return ""
	}
	return f.Str
}

func intField(v types.Value, field string) int64 {
	f, ok := v.Get(field)
	if !ok || f.Kind != types.KindInt64 {
		return 0
	}
	return f.Int64
}

func strArray(v types.Value, field string) []string {
	f, ok := v.Get(field)
	if !ok || f.Kind != types.KindArray {
		return nil
	}
	out := make([]string, 0, len(f.Array))
	for _, e := range f.Array {
		out = append(out, e.Str)
	}
	return out
}

func arrOfStr(ss []string) types.Value {
	vs := make([]types.Value, len(ss))
	for i, s := range ss {
		vs[i] = types.Str(s)
	}
	return types.Arr(vs...)
}

// EncodeTableMetadata renders a TableMetadata row as the Value a `_tables`
// document carries.
func EncodeTableMetadata(m schema.TableMetadata) types.Value {
	return types.ObjOf(
		types.Field("tablet", types.Str(string(m.Tablet))),
		types.Field("namespace", types.Str(m.Namespace.ComponentID)),
		types.Field("name", types.Str(m.Name)),
		types.Field("number", types.Int(int64(m.Number))),
		types.Field("state", types.Str(string(m.State))),
	)
}

// DecodeTableMetadata parses a `_tables` document back into TableMetadata.
func DecodeTableMetadata(v types.Value) (schema.TableMetadata, error) {
	if v.Kind != types.KindObject {
		return schema.TableMetadata{}, fmt.Errorf("registry: _tables row is not an object")
	}
	return schema.TableMetadata{
		Tablet:    types.TabletID(str(v, "tablet")),
		Namespace: schema.Namespace{ComponentID: str(v, "namespace")},
		Name:      str(v, "name"),
		Number:    types.TableNumber(intField(v, "number")),
		State:     schema.TableState(str(v, "state")),
	}, nil
}

// EncodeIndexMetadata renders an IndexMetadata row as the Value an
// `_index` document carries.
func EncodeIndexMetadata(m schema.IndexMetadata) types.Value {
	fields := []types.ObjectField{
		types.Field("tablet", types.Str(string(m.ID.Tablet))),
		types.Field("descriptor", types.Str(string(m.ID.Descriptor))),
		types.Field("kind", types.Str(string(m.Kind))),
		types.Field("indexed_fields", arrOfStr(m.IndexedFields)),
		types.Field("database_state", types.Str(string(m.DatabaseState))),
		types.Field("search_field", types.Str(m.SearchField)),
		types.Field("filter_fields", arrOfStr(m.FilterFields)),
		types.Field("text_state", types.Str(string(m.TextState.State))),
		types.Field("vector_field", types.Str(m.VectorField)),
		types.Field("vector_dims", types.Int(int64(m.VectorDims))),
		types.Field("vector_filters", arrOfStr(m.VectorFilters)),
		types.Field("vector_state", types.Str(string(m.VectorState.State))),
	}
	if m.TextState.SnapshottedAt != nil {
		fields = append(fields, types.Field("text_snapshotted_at", types.Int(int64(*m.TextState.SnapshottedAt))))
	}
	if m.VectorState.SnapshottedAt != nil {
		fields = append(fields, types.Field("vector_snapshotted_at", types.Int(int64(*m.VectorState.SnapshottedAt))))
	}
	return types.ObjOf(fields...)
}

// DecodeIndexMetadata parses an `_index` document back into IndexMetadata.
func DecodeIndexMetadata(v types.Value) (schema.IndexMetadata, error) {
	if v.Kind != types.KindObject {
		return schema.IndexMetadata{}, fmt.Errorf("registry: _index row is not an object")
	}
	m := schema.IndexMetadata{
		ID: schema.IndexName{
			Tablet:     types.TabletID(str(v, "tablet")),
			Descriptor: schema.Descriptor(str(v, "descriptor")),
		},
		Kind:          schema.IndexKind(str(v, "kind")),
		IndexedFields: strArray(v, "indexed_fields"),
		DatabaseState: schema.DatabaseIndexState(str(v, "database_state")),
		SearchField:   str(v, "search_field"),
		FilterFields:  strArray(v, "filter_fields"),
		TextState:     schema.SearchIndexState{State: schema.DatabaseIndexState(str(v, "text_state"))},
		VectorField:   str(v, "vector_field"),
		VectorDims:    int(intField(v, "vector_dims")),
		VectorFilters: strArray(v, "vector_filters"),
		VectorState:   schema.SearchIndexState{State: schema.DatabaseIndexState(str(v, "vector_state"))},
	}
	if f, ok := v.Get("text_snapshotted_at"); ok {
		ts := types.Timestamp(f.Int64)
		m.TextState.SnapshottedAt = &ts
	}
	if f, ok := v.Get("vector_snapshotted_at"); ok {
		ts := types.Timestamp(f.Int64)
		m.VectorState.SnapshottedAt = &ts
	}
	return m, nil
}

// EncodeComponentInstance renders a ComponentInstance row as the Value a
// `_components` document carries. The static definition is folded in
// alongside the mutable instance fields, since a component document is
// the only place the tree shape is durably recorded.
func EncodeComponentInstance(c schema.ComponentInstance) types.Value {
	mounts := make([]types.Value, len(c.Definition.HTTPMount))
	for i, hm := range c.Definition.HTTPMount {
		mounts[i] = types.ObjOf(
			types.Field("path_prefix", types.Str(hm.PathPrefix)),
			types.Field("function_path", types.Str(hm.FunctionPath)),
		)
	}
	return types.ObjOf(
		types.Field("id", types.Str(c.ID)),
		types.Field("parent", types.Str(c.Parent)),
		types.Field("name", types.Str(c.Name)),
		types.Field("args", c.Args),
		types.Field("state", types.Str(string(c.State))),
		types.Field("def_path", types.Str(c.Definition.Path)),
		types.Field("def_children", arrOfStr(c.Definition.Children)),
		types.Field("def_exports", arrOfStr(c.Definition.Exports)),
		types.Field("def_http_mounts", types.Arr(mounts...)),
	)
}

// DecodeComponentInstance parses a `_components` document back into a
// ComponentInstance.
func DecodeComponentInstance(v types.Value) (schema.ComponentInstance, error) {
	if v.Kind != types.KindObject {
		return schema.ComponentInstance{}, fmt.Errorf("registry: _components row is not an object")
	}
	args, _ := v.Get("args")
	var mounts []schema.HTTPMount
	if f, ok := v.Get("def_http_mounts"); ok && f.Kind == types.KindArray {
		for _, e := range f.Array {
			mounts = append(mounts, schema.HTTPMount{
				PathPrefix:   str(e, "path_prefix"),
				FunctionPath: str(e, "function_path"),
			})
		}
	}
	return schema.ComponentInstance{
		ID:     str(v, "id"),
		Parent: str(v, "parent"),
		Name:   str(v, "name"),
		Args:   args,
		State:  schema.ComponentState(str(v, "state")),
		Definition: schema.ComponentDefinition{
			Path:      str(v, "def_path"),
			Children:  strArray(v, "def_children"),
			Exports:   strArray(v, "def_exports"),
			HTTPMount: mounts,
		},
	}, nil
}

// EncodeSchemaDocument renders a SchemaDocument row as the Value a
// `_schemas` document carries.
func EncodeSchemaDocument(s schema.SchemaDocument) types.Value {
	tables := make([]types.Value, len(s.Tables))
	for i, t := range s.Tables {
		idxs := make([]types.Value, len(t.Indexes))
		for j, idx := range t.Indexes {
			idxs[j] = types.ObjOf(
				types.Field("descriptor", types.Str(string(idx.Descriptor))),
				types.Field("fields", arrOfStr(idx.Fields)),
			)
		}
		tables[i] = types.ObjOf(
			types.Field("table_name", types.Str(t.TableName)),
			types.Field("validator_source", types.Str(t.ValidatorSource)),
			types.Field("indexes", types.Arr(idxs...)),
		)
	}
	return types.ObjOf(
		types.Field("id", types.Str(s.ID)),
		types.Field("namespace", types.Str(s.Namespace.ComponentID)),
		types.Field("tables", types.Arr(tables...)),
		types.Field("state", types.Str(string(s.State))),
		types.Field("error", types.Str(s.Error)),
	)
}

// DecodeSchemaDocument parses a `_schemas` document back into a
// SchemaDocument.
func DecodeSchemaDocument(v types.Value) (schema.SchemaDocument, error) {
	if v.Kind != types.KindObject {
		return schema.SchemaDocument{}, fmt.Errorf("registry: _schemas row is not an object")
	}
	var tables []schema.TableSchema
	if f, ok := v.Get("tables"); ok && f.Kind == types.KindArray {
		for _, e := range f.Array {
			var idxs []schema.TableSchemaIndex
			if idxField, ok := e.Get("indexes"); ok && idxField.Kind == types.KindArray {
				for _, ie := range idxField.Array {
					idxs = append(idxs, schema.TableSchemaIndex{
						Descriptor: schema.Descriptor(str(ie, "descriptor")),
						Fields:     strArray(ie, "fields"),
					})
				}
			}
			tables = append(tables, schema.TableSchema{
				TableName:       str(e, "table_name"),
				ValidatorSource: str(e, "validator_source"),
				Indexes:         idxs,
			})
		}
	}
	return schema.SchemaDocument{
		ID:        str(v, "id"),
		Namespace: schema.Namespace{ComponentID: str(v, "namespace")},
		Tables:    tables,
		State:     schema.SchemaState(str(v, "state")),
		Error:     str(v, "error"),
	}, nil
}
