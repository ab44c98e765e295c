package schema

// SchemaState is the lifecycle of a pushed schema document within a
// namespace. At most one Pending/Validated and at most one Active schema
// may exist at a time per namespace; the registry enforces this.
type SchemaState string

const (
	SchemaPending     SchemaState = "pending"
	SchemaValidated   SchemaState = "validated"
	SchemaActive      SchemaState = "active"
	SchemaFailed      SchemaState = "failed"
	SchemaOverwritten SchemaState = "overwritten"
)

// TableSchema is the developer-declared shape of one table: its
// validator expression (opaque to this package; it is stored and loaded
// with the schema, but no component evaluates it against documents) and
// the indexes it declares.
type TableSchema struct {
	TableName       string
	ValidatorSource string
	Indexes         []TableSchemaIndex
}

// TableSchemaIndex is one developer-declared index in a pushed schema.
type TableSchemaIndex struct {
	Descriptor Descriptor
	Fields     []string
}

// SchemaDocument is one row of the `_schemas` system table: a full set of
// per-table declarations for one namespace, plus its validation state.
type SchemaDocument struct {
	ID        string
	Namespace Namespace
	Tables    []TableSchema
	State     SchemaState
	Error     string // populated when State == SchemaFailed
}
