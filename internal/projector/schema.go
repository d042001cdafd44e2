package projector

import (
	"fmt"
	"sort"
	"strings"

	serrors "github.com/sysview/sysview/internal/errors"
)

// Registered virtual table names, without the reserved prefix.
const (
	KeyspacesTable = "system_schema.keyspaces"
	TablesTable    = "system_schema.tables"
	ColumnsTable   = "system_schema.columns"
)

// Schema is the declared key schema of a virtual table.
type Schema struct {
	Name     string
	HashKey  string
	RangeKey string

	// Attributes lists every attribute an item of the table carries.
	Attributes []string
}

var schemas = map[string]Schema{
	KeyspacesTable: {
		Name:       KeyspacesTable,
		HashKey:    "keyspace_name",
		Attributes: []string{"keyspace_name", "durable_writes", "replication"},
	},
	TablesTable: {
		Name:       TablesTable,
		HashKey:    "keyspace_name",
		RangeKey:   "table_name",
		Attributes: []string{"keyspace_name", "table_name", "id", "comment"},
	},
	ColumnsTable: {
		Name:     ColumnsTable,
		HashKey:  "keyspace_name",
		RangeKey: "table_name",
		Attributes: []string{
			"keyspace_name", "table_name", "column_name",
			"kind", "position", "type", "clustering_order",
		},
	},
}

// Lookup returns the schema of a registered virtual table.
func Lookup(name string) (Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}

// Names returns the schema meta-table names in sorted order. KnownTables
// adds the data tables of system keyspaces.
func Names() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKeyKind reports whether a column item's kind attribute marks it as part
// of its table's primary key. Schema introspection tools rely on this.
func IsKeyKind(kind string) bool {
	return kind == "partition_key" || kind == "clustering"
}

// ParseProjection resolves a ProjectionExpression into top-level attribute
// names. Nested document paths are not supported since no virtual table
// item carries nested attributes that can be addressed individually.
func ParseProjection(expr string, names map[string]string) ([]string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	var attrs []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(expr, ",") {
		path := strings.TrimSpace(part)
		if path == "" {
			return nil, invalidProjection("Invalid ProjectionExpression: empty attribute path")
		}
		if strings.ContainsAny(path, ".[] ") {
			return nil, invalidProjection("Invalid ProjectionExpression: nested attribute path %q is not supported", path)
		}
		if strings.HasPrefix(path, "#") {
			resolved, ok := names[path]
			if !ok {
				return nil, invalidProjection("An expression attribute name used in the document path is not defined; attribute name: %s", path)
			}
			path = resolved
		}
		if _, dup := seen[path]; dup {
			return nil, invalidProjection("Invalid ProjectionExpression: two document paths overlap with each other: %s", path)
		}
		seen[path] = struct{}{}
		attrs = append(attrs, path)
	}
	return attrs, nil
}

func invalidProjection(format string, args ...interface{}) error {
	return serrors.NewValidationError(serrors.CodeInvalidProjection, fmt.Sprintf(format, args...))
}
