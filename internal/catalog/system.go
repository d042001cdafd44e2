package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Built-in keyspaces always present in the catalog.
const (
	SystemKeyspace            = "system"
	SystemSchemaKeyspace      = "system_schema"
	SystemAuthKeyspace        = "system_auth"
	SystemDistributedKeyspace = "system_distributed"
)

type columnSpec struct {
	name string
	typ  string
}

type tableSpec struct {
	keyspace   string
	name       string
	comment    string
	partition  []columnSpec
	clustering []columnSpec
	static     []columnSpec
	regular    []columnSpec
}

// definition expands a compact spec into catalog columns.
func (s tableSpec) definition() TableDefinition {
	def := TableDefinition{Keyspace: s.keyspace, Name: s.name, Comment: s.comment}
	add := func(cols []columnSpec, kind ColumnKind, positional bool, order string) {
		for i, c := range cols {
			pos := -1
			if positional {
				pos = i
			}
			def.Columns = append(def.Columns, Column{
				Keyspace:        s.keyspace,
				Table:           s.name,
				Name:            c.name,
				Kind:            kind,
				Position:        pos,
				Type:            c.typ,
				ClusteringOrder: order,
			})
		}
	}
	add(s.partition, KindPartitionKey, true, OrderNone)
	add(s.clustering, KindClustering, true, OrderAsc)
	add(s.static, KindStatic, false, OrderNone)
	add(s.regular, KindRegular, false, OrderNone)
	return def
}

var systemTables = []tableSpec{
	{
		keyspace:  SystemSchemaKeyspace,
		name:      "keyspaces",
		comment:   "keyspace definitions",
		partition: []columnSpec{{"keyspace_name", "text"}},
		regular: []columnSpec{
			{"durable_writes", "boolean"},
			{"replication", "frozen<map<text, text>>"},
		},
	},
	{
		keyspace:   SystemSchemaKeyspace,
		name:       "tables",
		comment:    "table definitions",
		partition:  []columnSpec{{"keyspace_name", "text"}},
		clustering: []columnSpec{{"table_name", "text"}},
		regular: []columnSpec{
			{"comment", "text"},
			{"default_time_to_live", "int"},
			{"id", "uuid"},
		},
	},
	{
		keyspace:   SystemSchemaKeyspace,
		name:       "columns",
		comment:    "column definitions",
		partition:  []columnSpec{{"keyspace_name", "text"}},
		clustering: []columnSpec{{"table_name", "text"}, {"column_name", "text"}},
		regular: []columnSpec{
			{"clustering_order", "text"},
			{"kind", "text"},
			{"position", "int"},
			{"type", "text"},
		},
	},
	{
		keyspace:  SystemKeyspace,
		name:      "local",
		comment:   "information about the local node",
		partition: []columnSpec{{"key", "text"}},
		regular: []columnSpec{
			{"bootstrapped", "text"},
			{"cluster_name", "text"},
			{"data_center", "text"},
			{"host_id", "uuid"},
			{"rack", "text"},
			{"release_version", "text"},
		},
	},
	{
		keyspace:  SystemKeyspace,
		name:      "peers",
		comment:   "information about peer nodes",
		partition: []columnSpec{{"peer", "inet"}},
		regular: []columnSpec{
			{"data_center", "text"},
			{"host_id", "uuid"},
			{"rack", "text"},
			{"rpc_address", "inet"},
		},
	},
	{
		keyspace:   SystemKeyspace,
		name:       "size_estimates",
		comment:    "per-range partition size estimates",
		partition:  []columnSpec{{"keyspace_name", "text"}},
		clustering: []columnSpec{{"table_name", "text"}, {"range_start", "text"}, {"range_end", "text"}},
		regular: []columnSpec{
			{"mean_partition_size", "bigint"},
			{"partitions_count", "bigint"},
		},
	},
	{
		keyspace:  SystemAuthKeyspace,
		name:      "roles",
		comment:   "role definitions",
		partition: []columnSpec{{"role", "text"}},
		regular: []columnSpec{
			{"can_login", "boolean"},
			{"is_superuser", "boolean"},
			{"member_of", "set<text>"},
			{"salted_hash", "text"},
		},
	},
	{
		keyspace:  SystemDistributedKeyspace,
		name:      "service_levels",
		comment:   "service level definitions",
		partition: []columnSpec{{"service_level", "text"}},
		regular: []columnSpec{
			{"timeout", "duration"},
			{"workload_type", "text"},
		},
	},
}

var systemKeyspaces = []Keyspace{
	{Name: SystemKeyspace, DurableWrites: true, Replication: map[string]string{"class": "LocalStrategy"}},
	{Name: SystemSchemaKeyspace, DurableWrites: true, Replication: map[string]string{"class": "LocalStrategy"}},
	{Name: SystemAuthKeyspace, DurableWrites: true, Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"}},
	{Name: SystemDistributedKeyspace, DurableWrites: true, Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "3"}},
}

// Bootstrap creates the built-in system keyspaces and tables. It is
// idempotent and safe to call on every start.
func Bootstrap(ctx context.Context, m SchemaManager) error {
	for _, ks := range systemKeyspaces {
		if err := m.CreateKeyspace(ctx, ks); err != nil {
			return fmt.Errorf("catalog: bootstrap keyspace %s: %w", ks.Name, err)
		}
	}
	for _, spec := range systemTables {
		if _, err := m.CreateTable(ctx, spec.definition()); err != nil && !errors.Is(err, ErrTableExists) {
			return fmt.Errorf("catalog: bootstrap table %s.%s: %w", spec.keyspace, spec.name, err)
		}
	}
	return nil
}
