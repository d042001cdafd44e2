package projector

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sysview/sysview/internal/catalog"
)

// dataTable is a table of a system keyspace other than the schema
// meta-tables. Its key schema comes from its catalog columns.
type dataTable struct {
	schema   Schema
	keyspace string
	table    string

	// keys lists the primary key columns: partition key columns by
	// position, then clustering columns by position.
	keys []string
}

// dataRow is one rendered row with its sort key and key attribute values.
type dataRow struct {
	item Item
	key  []string
	hash string
	rng  string
}

// KnownTables returns the name of every virtual table: the schema
// meta-tables plus each table of a system keyspace in the catalog.
func KnownTables(ctx context.Context, reader catalog.SnapshotReader) ([]string, error) {
	names := Names()
	for t, err := range reader.Tables(ctx, nil) {
		if err != nil {
			return nil, readFailed(err)
		}
		name := t.Keyspace + "." + t.Name
		if _, meta := schemas[name]; meta || !catalog.IsSystemKeyspace(t.Keyspace) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Describe returns the key schema of a virtual table. Data table schemas
// are derived from the catalog at call time.
func (p *Projector) Describe(ctx context.Context, name string) (Schema, error) {
	if s, ok := Lookup(name); ok {
		return s, nil
	}
	t, err := p.resolve(ctx, name)
	if err != nil {
		return Schema{}, err
	}
	return t.schema, nil
}

func (p *Projector) resolve(ctx context.Context, name string) (*dataTable, error) {
	ks, table, ok := strings.Cut(name, ".")
	if !ok || table == "" || !catalog.IsSystemKeyspace(ks) {
		return nil, notRegistered(name)
	}
	cols, err := p.reader.Columns(ctx, ks, table)
	if err != nil {
		return nil, readFailed(err)
	}
	return deriveTable(name, ks, table, cols)
}

// deriveTable builds the key schema of a data table. The first partition
// key column is the hash key and the first clustering column, if any, is
// the range key.
func deriveTable(name, keyspace, table string, cols []catalog.Column) (*dataTable, error) {
	var partition, clustering []catalog.Column
	attrs := make([]string, 0, len(cols))
	for _, col := range cols {
		attrs = append(attrs, col.Name)
		switch {
		case !IsKeyKind(string(col.Kind)):
		case col.Kind == catalog.KindPartitionKey:
			partition = append(partition, col)
		default:
			clustering = append(clustering, col)
		}
	}
	if len(partition) == 0 {
		// Dropped, or never existed.
		return nil, notRegistered(name)
	}
	byPosition(partition)
	byPosition(clustering)

	t := &dataTable{
		schema:   Schema{Name: name, HashKey: partition[0].Name, Attributes: attrs},
		keyspace: keyspace,
		table:    table,
	}
	if len(clustering) > 0 {
		t.schema.RangeKey = clustering[0].Name
	}
	for _, col := range partition {
		t.keys = append(t.keys, col.Name)
	}
	for _, col := range clustering {
		t.keys = append(t.keys, col.Name)
	}
	return t, nil
}

func byPosition(cols []catalog.Column) {
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
}

func (p *Projector) scanDataTable(ctx context.Context, name string, req ScanRequest) (*Page, error) {
	t, err := p.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	c, err := decodeCursor(req.Cursor, name, opScan)
	if err != nil {
		return nil, err
	}
	rows, err := p.rows(ctx, t)
	if err != nil {
		return nil, err
	}

	pg := p.newPager(name, opScan, req)
	for i, row := range rows {
		if c != nil && i <= c.Row {
			continue
		}
		if !pg.add(row.item, cursor{Keyspace: t.keyspace, Row: i}) {
			break
		}
	}
	return pg.finish(), nil
}

func (p *Projector) queryDataTable(ctx context.Context, name string, req QueryRequest) (*Page, error) {
	t, err := p.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	kc, err := Bind(req.Conditions, t.schema)
	if err != nil {
		return nil, err
	}
	c, err := decodeCursor(req.Cursor, name, opQuery)
	if err != nil {
		return nil, err
	}
	if c != nil && c.Table != kc.HashValue() {
		return nil, invalidCursor()
	}
	rows, err := p.rows(ctx, t)
	if err != nil {
		return nil, err
	}

	pg := p.newPager(name, opQuery, req.ScanRequest)
	for i, row := range rows {
		if c != nil && i <= c.Row {
			continue
		}
		if row.hash != kc.HashValue() || !kc.MatchesRange(row.rng) {
			continue
		}
		if !pg.add(row.item, cursor{Keyspace: t.keyspace, Table: kc.HashValue(), Row: i}) {
			break
		}
	}
	return pg.finish(), nil
}

// rows reads the rows of a data table in primary key order. A catalog with
// no row source holds no rows.
func (p *Projector) rows(ctx context.Context, t *dataTable) ([]dataRow, error) {
	src, ok := p.reader.(catalog.RowReader)
	if !ok {
		return nil, nil
	}
	raw, err := src.Rows(ctx, t.keyspace, t.table)
	if err != nil {
		return nil, readFailed(err)
	}

	rows := make([]dataRow, 0, len(raw))
	for _, r := range raw {
		values := plainValues(r)
		item, err := render(values)
		if err != nil {
			return nil, err
		}
		row := dataRow{item: item, key: make([]string, len(t.keys))}
		for i, k := range t.keys {
			row.key[i] = keyString(values[k])
		}
		row.hash = keyString(values[t.schema.HashKey])
		if t.schema.RangeKey != "" {
			row.rng = keyString(values[t.schema.RangeKey])
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return slices.Compare(rows[i].key, rows[j].key) < 0 })
	return rows, nil
}

// plainValues converts driver values into types the attribute marshaler
// renders as scalars. Null columns are dropped.
func plainValues(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for name, v := range row {
		switch v := v.(type) {
		case nil:
		case time.Time:
			out[name] = v.UTC().Format(time.RFC3339Nano)
		case fmt.Stringer:
			out[name] = v.String()
		default:
			out[name] = v
		}
	}
	return out
}

func keyString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
