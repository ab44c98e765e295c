package schema

import "github.com/relaydb/relay/pkg/types"

// TableState is the lifecycle state of a table within a namespace.
type TableState string

const (
	// TableActive is the normal state: the table exists and can be read
	// from and written to by its developer-visible name.
	TableActive TableState = "active"
	// TableHidden means the table is staged by a snapshot import: new
	// documents may be written to it (insert-for-import) but it is not
	// resolvable by name until the import commits and flips it to Active.
	TableHidden TableState = "hidden"
	// TableDeleting means the table has been dropped; its tablet may
	// still hold document history until retention collects it.
	TableDeleting TableState = "deleting"
)

// Namespace scopes a table or index name: either the root application or
// a specific component instance.
type Namespace struct {
	ComponentID string // empty string means the root/global namespace
}

// TableMetadata is one row of the `_tables` system table.
type TableMetadata struct {
	Tablet    types.TabletID
	Namespace Namespace
	Name      string
	Number    types.TableNumber
	State     TableState
}

func (t TableMetadata) IsActive() bool { return t.State == TableActive }
