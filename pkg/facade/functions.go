package facade

import (
	"sync"

	"github.com/relaydb/relay/pkg/apperr"
)

// FunctionType is the UDF kind declared for a function path, used to
// detect a UDF-type mismatch at call time.
type FunctionType string

const (
	FunctionQuery    FunctionType = "query"
	FunctionMutation FunctionType = "mutation"
	FunctionAction   FunctionType = "action"
	FunctionHTTP     FunctionType = "http"
)

// Visibility is whether a function may be called by an ordinary client
// or only by an authenticated admin/internal caller.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

// FunctionSpec is one deployed function: its dotted path (component-
// relative, matching schema.ComponentDefinition.Exports), its declared
// type and visibility, and the guest source the sandbox isolate runs.
// A real deployment resolves Source from a bundled module per
// component; this implementation keeps it inline since bundling is a
// build-pipeline concern this implementation doesn't otherwise model.
type FunctionSpec struct {
	Path       string
	Type       FunctionType
	Visibility Visibility
	Source     string
}

// FunctionTable is the façade's in-memory map from UDF path to its
// declared metadata, populated at deploy/push time (through the
// admin-only httpapi endpoint POST /api/admin/functions; tests populate
// it directly).
type FunctionTable struct {
	mu    sync.RWMutex
	specs map[string]FunctionSpec
}

// NewFunctionTable returns an empty function table.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{specs: make(map[string]FunctionSpec)}
}

// Register adds or replaces a function's declared metadata.
func (t *FunctionTable) Register(spec FunctionSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specs[spec.Path] = spec
}

// Resolve looks up a function by path, returning apperr.NotFound if no
// function is deployed at that path.
func (t *FunctionTable) Resolve(path string) (FunctionSpec, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.specs[path]
	if !ok {
		return FunctionSpec{}, apperr.New(apperr.NotFound, "no function deployed at %q", path)
	}
	return spec, nil
}

// checkCall enforces the visibility and UDF-type match required before
// a request is allowed to reach the sandbox: a
// non-admin caller may only invoke a Public function, and the caller's
// expected wantType must match the function's declared type (a client
// calling db.insert through the query endpoint, or vice versa, is a
// BadRequest, not a silent type coercion).
func checkCall(spec FunctionSpec, wantType FunctionType, admin bool) error {
	if spec.Visibility == VisibilityInternal && !admin {
		return apperr.New(apperr.Forbidden, "function %q is internal-only", spec.Path)
	}
	if spec.Type != wantType {
		return apperr.New(apperr.BadRequest, "function %q is a %s, not a %s", spec.Path, spec.Type, wantType)
	}
	return nil
}
