package projector

import (
	"context"
	"iter"
	"sort"

	"github.com/google/uuid"
	"github.com/sysview/sysview/internal/catalog"
	"github.com/sysview/sysview/internal/token"
)

// memCatalog is an in-memory SnapshotReader for tests.
type memCatalog struct {
	keyspaces []catalog.Keyspace
	tables    []catalog.Table
	columns   map[catalog.TableKey][]catalog.Column
	err       error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{columns: make(map[catalog.TableKey][]catalog.Column)}
}

func (m *memCatalog) addKeyspace(name string) {
	for _, ks := range m.keyspaces {
		if ks.Name == name {
			return
		}
	}
	m.keyspaces = append(m.keyspaces, catalog.Keyspace{
		Name:          name,
		DurableWrites: true,
		Replication:   map[string]string{"class": "SimpleStrategy", "replication_factor": "1"},
	})
	sort.Slice(m.keyspaces, func(i, j int) bool {
		return token.PositionOf(m.keyspaces[i].Name, "").Less(token.PositionOf(m.keyspaces[j].Name, ""))
	})
}

// addTable adds a table with a partition key "p", a clustering key "c" and
// the given regular columns.
func (m *memCatalog) addTable(ks, name string, regular ...string) {
	m.addKeyspace(ks)
	m.tables = append(m.tables, catalog.Table{Keyspace: ks, Name: name, ID: uuid.New(), Comment: "test " + name})
	sort.Slice(m.tables, func(i, j int) bool {
		return token.PositionOf(m.tables[i].Keyspace, m.tables[i].Name).
			Less(token.PositionOf(m.tables[j].Keyspace, m.tables[j].Name))
	})

	cols := []catalog.Column{
		{Keyspace: ks, Table: name, Name: "p", Kind: catalog.KindPartitionKey, Position: 0, Type: "text", ClusteringOrder: catalog.OrderNone},
		{Keyspace: ks, Table: name, Name: "c", Kind: catalog.KindClustering, Position: 0, Type: "text", ClusteringOrder: catalog.OrderAsc},
	}
	for _, r := range regular {
		cols = append(cols, catalog.Column{Keyspace: ks, Table: name, Name: r, Kind: catalog.KindRegular, Position: -1, Type: "text", ClusteringOrder: catalog.OrderNone})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	m.columns[catalog.TableKey{Keyspace: ks, Table: name}] = cols
}

func (m *memCatalog) dropTable(ks, name string) {
	for i, t := range m.tables {
		if t.Keyspace == ks && t.Name == name {
			m.tables = append(m.tables[:i], m.tables[i+1:]...)
			break
		}
	}
	delete(m.columns, catalog.TableKey{Keyspace: ks, Table: name})
}

func (m *memCatalog) Keyspaces(context.Context) ([]catalog.Keyspace, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]catalog.Keyspace(nil), m.keyspaces...), nil
}

func (m *memCatalog) Tables(_ context.Context, after *catalog.TableKey) iter.Seq2[catalog.Table, error] {
	return func(yield func(catalog.Table, error) bool) {
		if m.err != nil {
			yield(catalog.Table{}, m.err)
			return
		}
		for _, t := range m.tables {
			if after != nil && !token.PositionOf(after.Keyspace, after.Table).Less(token.PositionOf(t.Keyspace, t.Name)) {
				continue
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

func (m *memCatalog) KeyspaceTables(_ context.Context, ks string) ([]catalog.Table, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Table
	for _, t := range m.tables {
		if t.Keyspace == ks {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memCatalog) Columns(_ context.Context, ks, table string) ([]catalog.Column, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]catalog.Column(nil), m.columns[catalog.TableKey{Keyspace: ks, Table: table}]...), nil
}

// sampleCatalog holds a few system tables and two user keyspaces.
func sampleCatalog() *memCatalog {
	m := newMemCatalog()
	m.addTable("system_schema", "tables", "comment", "id")
	m.addTable("system_schema", "columns", "kind", "position", "type")
	m.addTable("system", "local", "cluster_name")
	m.addTable("alternator_orders", "orders", ":attrs")
	m.addTable("alternator_users", "users", ":attrs")
	m.addTable("shop", "carts", "owner", "total")
	m.addTable("shop", "catalog", "price")
	m.addTable("shop", "items")
	return m
}

func tableKey(ks, table string) catalog.TableKey {
	return catalog.TableKey{Keyspace: ks, Table: table}
}
