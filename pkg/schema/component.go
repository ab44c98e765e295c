package schema

import "github.com/relaydb/relay/pkg/types"

// ComponentState mirrors the lifecycle of a mounted component instance.
type ComponentState string

const (
	ComponentActive    ComponentState = "active"
	ComponentUnmounted ComponentState = "unmounted"
)

// HTTPMount binds a path prefix on the deployment's HTTP-actions site to
// an exported function of this component.
type HTTPMount struct {
	PathPrefix   string
	FunctionPath string
}

// ComponentDefinition is the static tree shape parsed from a component's
// source: its path in the tree, its children, the functions/values it
// exports, and the HTTP routes it mounts.
type ComponentDefinition struct {
	Path      string
	Children  []string // child component paths
	Exports   []string // exported function/value names
	HTTPMount []HTTPMount
}

// ComponentInstance is one mounted node of the component tree: its
// parent, the name it was mounted under, the arguments it was given, and
// its current lifecycle state.
type ComponentInstance struct {
	ID        string
	Parent    string // empty for the root
	Name      string
	Args      types.Value
	State     ComponentState
	Definition ComponentDefinition
}

// Reference is a resolved name inside a component's namespace: it names
// either one of the component's own functions, a child component's
// export, or one of the component's received arguments.
type Reference struct {
	Kind ReferenceKind
	// Path is the dotted path after the component: "myFunction" for
	// Function, "child.exportedName" for ChildExport, "argName" for
	// Argument.
	Path string
}

type ReferenceKind string

const (
	ReferenceFunction    ReferenceKind = "function"
	ReferenceChildExport ReferenceKind = "child_export"
	ReferenceArgument    ReferenceKind = "argument"
)
