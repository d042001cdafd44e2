// Package projector renders live catalog state as DynamoDB items.
//
// The projector holds no state across calls. Every page is computed from the
// catalog at read time, and pagination positions travel to the caller in an
// opaque cursor. Items carry catalog entity fields verbatim.
//
// Column items expose a kind attribute; IsKeyKind identifies the kinds that
// make up a table's primary key. Tables of system keyspaces other than the
// schema meta-tables are served with a key schema derived that way.
package projector

import (
	"context"

	"github.com/sysview/sysview/internal/catalog"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/token"
)

// DefaultMaxPageSize bounds a page when the caller sets no smaller limit.
const DefaultMaxPageSize = 1000

// ScanRequest describes one page of a virtual table read.
type ScanRequest struct {
	// Attributes to return. Empty means every attribute.
	Attributes []string

	// Limit bounds the number of items in the page. Zero means the
	// projector's maximum page size.
	Limit int

	// Cursor resumes a previous read. Empty starts from the beginning.
	Cursor string

	// CountOnly returns only counts, with no items.
	CountOnly bool
}

// QueryRequest is a ScanRequest restricted by key conditions.
type QueryRequest struct {
	ScanRequest
	Conditions []Condition
}

// Page is the result of one read.
type Page struct {
	Items        []Item
	Count        int
	ScannedCount int

	// Cursor is set when more items may follow.
	Cursor string
}

// Option configures a Projector.
type Option func(*Projector)

// WithMaxPageSize sets the largest page returned by a single read.
func WithMaxPageSize(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.maxPage = n
		}
	}
}

// Projector reads a catalog snapshot and renders virtual table pages.
type Projector struct {
	reader  catalog.SnapshotReader
	maxPage int
}

// New creates a Projector over the given catalog reader.
func New(reader catalog.SnapshotReader, opts ...Option) *Projector {
	p := &Projector{reader: reader, maxPage: DefaultMaxPageSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scan reads one page of a virtual table: a schema meta-table or any other
// table of a system keyspace.
func (p *Projector) Scan(ctx context.Context, name string, req ScanRequest) (*Page, error) {
	switch name {
	case KeyspacesTable:
		return p.ProjectKeyspaces(ctx, req)
	case TablesTable:
		return p.ProjectTables(ctx, req)
	case ColumnsTable:
		return p.ProjectColumns(ctx, req)
	default:
		return p.scanDataTable(ctx, name, req)
	}
}

// Query reads one page of a virtual table restricted to a single hash key.
func (p *Projector) Query(ctx context.Context, name string, req QueryRequest) (*Page, error) {
	schema, ok := Lookup(name)
	if !ok {
		return p.queryDataTable(ctx, name, req)
	}
	kc, err := Bind(req.Conditions, schema)
	if err != nil {
		return nil, err
	}

	switch name {
	case KeyspacesTable:
		return p.queryKeyspaces(ctx, kc, req.ScanRequest)
	case TablesTable:
		return p.queryTables(ctx, kc, req.ScanRequest)
	default:
		return p.queryColumns(ctx, kc, req.ScanRequest)
	}
}

// ProjectKeyspaces scans system_schema.keyspaces.
func (p *Projector) ProjectKeyspaces(ctx context.Context, req ScanRequest) (*Page, error) {
	c, err := decodeCursor(req.Cursor, KeyspacesTable, opScan)
	if err != nil {
		return nil, err
	}
	keyspaces, err := p.reader.Keyspaces(ctx)
	if err != nil {
		return nil, readFailed(err)
	}

	pg := p.newPager(KeyspacesTable, opScan, req)
	for _, ks := range keyspaces {
		if c != nil && !token.PositionOf(c.Keyspace, "").Less(token.PositionOf(ks.Name, "")) {
			continue
		}
		item, err := renderKeyspace(ks)
		if err != nil {
			return nil, err
		}
		if !pg.add(item, cursor{Keyspace: ks.Name}) {
			break
		}
	}
	return pg.finish(), nil
}

// ProjectTables scans system_schema.tables in catalog order.
func (p *Projector) ProjectTables(ctx context.Context, req ScanRequest) (*Page, error) {
	c, err := decodeCursor(req.Cursor, TablesTable, opScan)
	if err != nil {
		return nil, err
	}
	var after *catalog.TableKey
	if c != nil {
		after = &catalog.TableKey{Keyspace: c.Keyspace, Table: c.Table}
	}

	pg := p.newPager(TablesTable, opScan, req)
	for t, err := range p.reader.Tables(ctx, after) {
		if err != nil {
			return nil, readFailed(err)
		}
		item, err := renderTable(t)
		if err != nil {
			return nil, err
		}
		if !pg.add(item, cursor{Keyspace: t.Keyspace, Table: t.Name}) {
			break
		}
	}
	return pg.finish(), nil
}

// ProjectColumns scans system_schema.columns: every column of every table,
// tables in catalog order and columns by name.
func (p *Projector) ProjectColumns(ctx context.Context, req ScanRequest) (*Page, error) {
	c, err := decodeCursor(req.Cursor, ColumnsTable, opScan)
	if err != nil {
		return nil, err
	}

	pg := p.newPager(ColumnsTable, opScan, req)
	var after *catalog.TableKey
	if c != nil {
		// Finish the table the previous page stopped in.
		more, err := p.addColumns(ctx, pg, c.Keyspace, c.Table, c.Column)
		if err != nil {
			return nil, err
		}
		if !more {
			return pg.finish(), nil
		}
		after = &catalog.TableKey{Keyspace: c.Keyspace, Table: c.Table}
	}

	for t, err := range p.reader.Tables(ctx, after) {
		if err != nil {
			return nil, readFailed(err)
		}
		more, err := p.addColumns(ctx, pg, t.Keyspace, t.Name, "")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return pg.finish(), nil
}

// ProjectColumnsForKey returns every column of one table. It is the
// equality query on the (keyspace_name, table_name) key, unpaginated. A
// missing table yields no items.
func (p *Projector) ProjectColumnsForKey(ctx context.Context, keyspace, table string, attrs []string) ([]Item, error) {
	cols, err := p.reader.Columns(ctx, keyspace, table)
	if err != nil {
		return nil, readFailed(err)
	}
	items := make([]Item, 0, len(cols))
	for _, col := range cols {
		item, err := renderColumn(col)
		if err != nil {
			return nil, err
		}
		items = append(items, project(item, attrs))
	}
	return items, nil
}

func (p *Projector) queryKeyspaces(ctx context.Context, kc KeyCondition, req ScanRequest) (*Page, error) {
	c, err := decodeCursor(req.Cursor, KeyspacesTable, opQuery)
	if err != nil {
		return nil, err
	}
	pg := p.newPager(KeyspacesTable, opQuery, req)
	if c != nil {
		// A single-item partition has nothing after its only item.
		return pg.finish(), nil
	}

	keyspaces, err := p.reader.Keyspaces(ctx)
	if err != nil {
		return nil, readFailed(err)
	}
	for _, ks := range keyspaces {
		if ks.Name != kc.HashValue() {
			continue
		}
		item, err := renderKeyspace(ks)
		if err != nil {
			return nil, err
		}
		pg.add(item, cursor{Keyspace: ks.Name})
	}
	return pg.finish(), nil
}

func (p *Projector) queryTables(ctx context.Context, kc KeyCondition, req ScanRequest) (*Page, error) {
	c, err := decodeQueryCursor(req.Cursor, TablesTable, kc)
	if err != nil {
		return nil, err
	}
	tables, err := p.reader.KeyspaceTables(ctx, kc.HashValue())
	if err != nil {
		return nil, readFailed(err)
	}

	pg := p.newPager(TablesTable, opQuery, req)
	for _, t := range tables {
		if c != nil && t.Name <= c.Table {
			continue
		}
		if !kc.MatchesRange(t.Name) {
			continue
		}
		item, err := renderTable(t)
		if err != nil {
			return nil, err
		}
		if !pg.add(item, cursor{Keyspace: t.Keyspace, Table: t.Name}) {
			break
		}
	}
	return pg.finish(), nil
}

func (p *Projector) queryColumns(ctx context.Context, kc KeyCondition, req ScanRequest) (*Page, error) {
	c, err := decodeQueryCursor(req.Cursor, ColumnsTable, kc)
	if err != nil {
		return nil, err
	}
	if kc.Range != nil && kc.Range.Op == OpEQ {
		return p.queryTableColumns(ctx, kc.HashValue(), kc.Range.Values[0], c, req)
	}
	tables, err := p.reader.KeyspaceTables(ctx, kc.HashValue())
	if err != nil {
		return nil, readFailed(err)
	}

	pg := p.newPager(ColumnsTable, opQuery, req)
	for _, t := range tables {
		if !kc.MatchesRange(t.Name) {
			continue
		}
		after := ""
		if c != nil {
			if t.Name < c.Table {
				continue
			}
			if t.Name == c.Table {
				after = c.Column
			}
		}
		more, err := p.addColumns(ctx, pg, t.Keyspace, t.Name, after)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return pg.finish(), nil
}

// queryTableColumns pages the columns of exactly one table, as selected by
// an equality on both key attributes.
func (p *Projector) queryTableColumns(ctx context.Context, keyspace, table string, c *cursor, req ScanRequest) (*Page, error) {
	items, err := p.ProjectColumnsForKey(ctx, keyspace, table, nil)
	if err != nil {
		return nil, err
	}

	pg := p.newPager(ColumnsTable, opQuery, req)
	for _, item := range items {
		column := stringAttr(item, "column_name")
		if c != nil && (c.Table > table || (c.Table == table && column <= c.Column)) {
			continue
		}
		if !pg.add(item, cursor{Keyspace: keyspace, Table: table, Column: column}) {
			break
		}
	}
	return pg.finish(), nil
}

// addColumns adds the columns of one table named after afterColumn. It
// reports false once the page is full.
func (p *Projector) addColumns(ctx context.Context, pg *pager, keyspace, table, afterColumn string) (bool, error) {
	cols, err := p.reader.Columns(ctx, keyspace, table)
	if err != nil {
		return false, readFailed(err)
	}
	for _, col := range cols {
		if afterColumn != "" && col.Name <= afterColumn {
			continue
		}
		item, err := renderColumn(col)
		if err != nil {
			return false, err
		}
		if !pg.add(item, cursor{Keyspace: keyspace, Table: table, Column: col.Name}) {
			return false, nil
		}
	}
	return true, nil
}

func decodeQueryCursor(tok, source string, kc KeyCondition) (*cursor, error) {
	c, err := decodeCursor(tok, source, opQuery)
	if err != nil {
		return nil, err
	}
	if c != nil && c.Keyspace != kc.HashValue() {
		return nil, invalidCursor()
	}
	return c, nil
}

func notRegistered(name string) error {
	return serrors.NewNotFoundError("Requested resource not found: virtual table " + name + " is not registered")
}

func readFailed(err error) error {
	return serrors.NewCatalogError(serrors.CodeCatalogReadFailed, "failed to read schema catalog", err)
}

// pager accumulates one page. When the page is full and another row is
// offered, it records a cursor at the last accepted row.
type pager struct {
	source string
	op     string
	attrs  []string
	count  bool
	limit  int
	page   Page
	last   cursor
}

func (p *Projector) newPager(source, op string, req ScanRequest) *pager {
	limit := p.maxPage
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	return &pager{
		source: source,
		op:     op,
		attrs:  req.Attributes,
		count:  req.CountOnly,
		limit:  limit,
	}
}

// add offers one row. It returns false when the row did not fit.
func (g *pager) add(item Item, pos cursor) bool {
	if g.page.Count == g.limit {
		last := g.last
		last.Source, last.Op = g.source, g.op
		g.page.Cursor = encodeCursor(last)
		return false
	}
	if !g.count {
		g.page.Items = append(g.page.Items, project(item, g.attrs))
	}
	g.page.Count++
	g.page.ScannedCount++
	g.last = pos
	return true
}

func (g *pager) finish() *Page {
	if g.page.Items == nil && !g.count {
		g.page.Items = []Item{}
	}
	return &g.page
}
