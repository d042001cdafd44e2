package catalog

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/sysview/sysview/internal/token"
)

// CQLConfig configures a CQLCatalog.
type CQLConfig struct {
	Hosts       []string
	Timeout     time.Duration
	Consistency string
	Username    string
	Password    string
}

// CQLCatalog implements SnapshotReader by reading the system_schema keyspace
// of a live Scylla or Cassandra cluster, and RowReader by reading the tables
// themselves. It is read-only.
type CQLCatalog struct {
	sess *gocql.Session
}

// NewCQLCatalog connects to the cluster.
func NewCQLCatalog(cfg CQLConfig) (*CQLCatalog, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("catalog: at least one CQL host is required")
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("catalog: invalid consistency %q: %w", cfg.Consistency, err)
		}
		cluster.Consistency = consistency
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to connect to %v: %w", cfg.Hosts, err)
	}
	return &CQLCatalog{sess: sess}, nil
}

// Keyspaces returns every keyspace ordered by partition token.
func (c *CQLCatalog) Keyspaces(ctx context.Context) ([]Keyspace, error) {
	const q = `select keyspace_name, durable_writes, replication from system_schema.keyspaces`
	it := c.sess.Query(q).WithContext(ctx).Iter()

	var keyspaces []Keyspace
	var ks Keyspace
	for it.Scan(&ks.Name, &ks.DurableWrites, &ks.Replication) {
		keyspaces = append(keyspaces, ks)
		ks = Keyspace{}
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("catalog: failed to read keyspaces: %w", err)
	}

	sort.Slice(keyspaces, func(i, j int) bool {
		return token.PositionOf(keyspaces[i].Name, "").Less(token.PositionOf(keyspaces[j].Name, ""))
	})
	return keyspaces, nil
}

// Tables returns every table ordered by (token, keyspace, table). The whole
// system_schema.tables partition set is small, so it is read in one pass and
// ordered locally.
func (c *CQLCatalog) Tables(ctx context.Context, after *TableKey) iter.Seq2[Table, error] {
	return func(yield func(Table, error) bool) {
		const q = `select keyspace_name, table_name, id, comment from system_schema.tables`
		tables, err := c.readTables(ctx, q)
		if err != nil {
			yield(Table{}, err)
			return
		}
		sortTables(tables)

		var start *token.Position
		if after != nil {
			p := token.PositionOf(after.Keyspace, after.Table)
			start = &p
		}
		for _, t := range tables {
			if start != nil && !start.Less(token.PositionOf(t.Keyspace, t.Name)) {
				continue
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// KeyspaceTables returns the tables of one keyspace ordered by name.
func (c *CQLCatalog) KeyspaceTables(ctx context.Context, keyspace string) ([]Table, error) {
	const q = `select keyspace_name, table_name, id, comment from system_schema.tables where keyspace_name = ?`
	tables, err := c.readTables(ctx, q, keyspace)
	if err != nil {
		return nil, err
	}
	sortTables(tables)
	return tables, nil
}

func (c *CQLCatalog) readTables(ctx context.Context, q string, args ...interface{}) ([]Table, error) {
	it := c.sess.Query(q, args...).WithContext(ctx).Iter()

	var tables []Table
	var t Table
	var id gocql.UUID
	for it.Scan(&t.Keyspace, &t.Name, &id, &t.Comment) {
		t.ID = uuid.UUID(id)
		tables = append(tables, t)
		t = Table{}
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("catalog: failed to read tables: %w", err)
	}
	return tables, nil
}

// Columns returns the columns of one table ordered by column name.
func (c *CQLCatalog) Columns(ctx context.Context, keyspace, table string) ([]Column, error) {
	const q = `select
			column_name,
			kind,
			position,
			type,
			clustering_order
		from system_schema.columns
		where keyspace_name = ? and table_name = ?`
	it := c.sess.Query(q, keyspace, table).WithContext(ctx).Iter()

	var columns []Column
	col := Column{Keyspace: keyspace, Table: table}
	var kind string
	for it.Scan(&col.Name, &kind, &col.Position, &col.Type, &col.ClusteringOrder) {
		col.Kind = ColumnKind(kind)
		columns = append(columns, col)
		col = Column{Keyspace: keyspace, Table: table}
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("catalog: failed to read columns of %s.%s: %w", keyspace, table, err)
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
	return columns, nil
}

// Rows reads every row of a table. Null columns are omitted.
func (c *CQLCatalog) Rows(ctx context.Context, keyspace, table string) ([]map[string]interface{}, error) {
	q := fmt.Sprintf("select * from %s.%s", quoteIdent(keyspace), quoteIdent(table))
	it := c.sess.Query(q).WithContext(ctx).Iter()

	var rows []map[string]interface{}
	for {
		row := make(map[string]interface{})
		if !it.MapScan(row) {
			break
		}
		rows = append(rows, row)
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("catalog: failed to read rows of %s.%s: %w", keyspace, table, err)
	}
	return rows, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Close closes the CQL session.
func (c *CQLCatalog) Close() error {
	c.sess.Close()
	return nil
}

func sortTables(tables []Table) {
	sort.Slice(tables, func(i, j int) bool {
		return token.PositionOf(tables[i].Keyspace, tables[i].Name).
			Less(token.PositionOf(tables[j].Keyspace, tables[j].Name))
	})
}

// CreateKeyspace is not supported on a live cluster catalog.
func (c *CQLCatalog) CreateKeyspace(context.Context, Keyspace) error { return ErrReadOnly }

// DropKeyspace is not supported on a live cluster catalog.
func (c *CQLCatalog) DropKeyspace(context.Context, string) error { return ErrReadOnly }

// CreateTable is not supported on a live cluster catalog.
func (c *CQLCatalog) CreateTable(context.Context, TableDefinition) (*Table, error) {
	return nil, ErrReadOnly
}

// DropTable is not supported on a live cluster catalog.
func (c *CQLCatalog) DropTable(context.Context, string, string) error { return ErrReadOnly }
