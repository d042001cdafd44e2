// Package catalog provides read access to the live schema catalog, plus the
// schema-management operations that own it.
//
// The catalog describes keyspaces, tables and columns. Readers never cache:
// every call observes the schema as it is at read time. A keyspace or table
// that is dropped while being read simply yields no rows.
package catalog

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/google/uuid"
)

// Common errors for schema-management operations.
var (
	ErrTableExists      = errors.New("table already exists")
	ErrTableNotFound    = errors.New("table not found")
	ErrKeyspaceNotFound = errors.New("keyspace not found")
	ErrReadOnly         = errors.New("catalog is read-only")
)

// ColumnKind classifies a column's role in its table's primary key.
type ColumnKind string

const (
	KindPartitionKey ColumnKind = "partition_key"
	KindClustering   ColumnKind = "clustering"
	KindRegular      ColumnKind = "regular"
	KindStatic       ColumnKind = "static"
)

// IsKey reports whether the kind marks a primary-key column.
func (k ColumnKind) IsKey() bool {
	return k == KindPartitionKey || k == KindClustering
}

// Clustering orders of a column.
const (
	OrderNone = "none"
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Keyspace is a namespace of tables.
type Keyspace struct {
	Name          string
	DurableWrites bool
	Replication   map[string]string
}

// Table identifies one table definition.
type Table struct {
	Keyspace string
	Name     string
	ID       uuid.UUID
	Comment  string
}

// Key returns the table's catalog key.
func (t Table) Key() TableKey {
	return TableKey{Keyspace: t.Keyspace, Table: t.Name}
}

// TableKey is the composite (keyspace_name, table_name) key.
type TableKey struct {
	Keyspace string
	Table    string
}

// Column describes one column of a table.
type Column struct {
	Keyspace string
	Table    string
	Name     string
	Kind     ColumnKind

	// Position is the index within the partition or clustering key, or -1
	// for regular and static columns.
	Position int

	Type            string
	ClusteringOrder string
}

// TableDefinition is the input to CreateTable.
type TableDefinition struct {
	Keyspace string
	Name     string
	Comment  string
	Columns  []Column
}

// SnapshotReader is the read-only interface used by the virtual table projector.
// Both SQLiteCatalog and CQLCatalog implement this interface.
type SnapshotReader interface {
	// Keyspaces returns every keyspace ordered by partition token.
	Keyspaces(ctx context.Context) ([]Keyspace, error)

	// Tables returns every table of every keyspace, ordered by
	// (token(keyspace), keyspace, table). When after is non-nil the sequence
	// starts strictly after that key. The sequence is lazy and may be
	// abandoned at any point.
	Tables(ctx context.Context, after *TableKey) iter.Seq2[Table, error]

	// KeyspaceTables returns the tables of one keyspace ordered by name.
	// A missing keyspace yields an empty slice.
	KeyspaceTables(ctx context.Context, keyspace string) ([]Table, error)

	// Columns returns the columns of one table ordered by column name.
	// A missing table yields an empty slice.
	Columns(ctx context.Context, keyspace, table string) ([]Column, error)
}

// SchemaManager mutates the catalog. It is the collaborator that owns the
// lifecycle of every catalog entity.
type SchemaManager interface {
	CreateKeyspace(ctx context.Context, ks Keyspace) error
	DropKeyspace(ctx context.Context, name string) error
	CreateTable(ctx context.Context, def TableDefinition) (*Table, error)
	DropTable(ctx context.Context, keyspace, table string) error
}

// RowReader reads the rows of one table. Catalogs backed by a live cluster
// implement it; a catalog that holds schema only does not.
type RowReader interface {
	// Rows returns every row of the table as column name to value. Null
	// columns are omitted.
	Rows(ctx context.Context, keyspace, table string) ([]map[string]interface{}, error)
}

// UserKeyspacePrefix prefixes every keyspace that holds a user table.
const UserKeyspacePrefix = "alternator_"

// IsSystemKeyspace reports whether a keyspace is internal to the database.
// Keyspaces of user tables never are, whatever the table is called.
func IsSystemKeyspace(name string) bool {
	return strings.Contains(name, "system") && !strings.HasPrefix(name, UserKeyspacePrefix)
}
