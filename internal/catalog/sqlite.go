package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/sysview/sysview/internal/token"
)

// SQLiteCatalog implements SnapshotReader and SchemaManager using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

const selectTablesSQL = `SELECT keyspace_name, table_name, id, comment FROM tables`

const selectColumnsSQL = `
	SELECT keyspace_name, table_name, column_name, kind, position, type, clustering_order
	FROM columns
	WHERE keyspace_name = ? AND table_name = ?
	ORDER BY column_name`

// NewCatalog opens (creating if needed) a SQLite-based catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema before any reader opens the file
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	c.readDB = readDB

	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Keyspaces returns every keyspace ordered by partition token.
func (c *SQLiteCatalog) Keyspaces(ctx context.Context) ([]Keyspace, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT keyspace_name, durable_writes, replication
		FROM keyspaces
		ORDER BY token, keyspace_name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query keyspaces: %w", err)
	}
	defer rows.Close()

	var keyspaces []Keyspace
	for rows.Next() {
		var ks Keyspace
		var replication string
		if err := rows.Scan(&ks.Name, &ks.DurableWrites, &replication); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan keyspace: %w", err)
		}
		if err := json.Unmarshal([]byte(replication), &ks.Replication); err != nil {
			return nil, fmt.Errorf("catalog: corrupt replication of keyspace %s: %w", ks.Name, err)
		}
		keyspaces = append(keyspaces, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating keyspaces: %w", err)
	}
	return keyspaces, nil
}

// Tables returns every table ordered by (token, keyspace, table).
func (c *SQLiteCatalog) Tables(ctx context.Context, after *TableKey) iter.Seq2[Table, error] {
	return func(yield func(Table, error) bool) {
		query := selectTablesSQL + ` ORDER BY token, keyspace_name, table_name`
		var args []interface{}
		if after != nil {
			pos := token.PositionOf(after.Keyspace, after.Table)
			query = selectTablesSQL + `
				WHERE (token, keyspace_name, table_name) > (?, ?, ?)
				ORDER BY token, keyspace_name, table_name`
			args = []interface{}{int64(pos.Token), pos.Keyspace, pos.Table}
		}

		rows, err := c.readDB.QueryContext(ctx, query, args...)
		if err != nil {
			yield(Table{}, fmt.Errorf("catalog: failed to query tables: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTable(rows)
			if err != nil {
				yield(Table{}, err)
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Table{}, fmt.Errorf("catalog: error iterating tables: %w", err))
		}
	}
}

// KeyspaceTables returns the tables of one keyspace ordered by name.
func (c *SQLiteCatalog) KeyspaceTables(ctx context.Context, keyspace string) ([]Table, error) {
	rows, err := c.readDB.QueryContext(ctx,
		selectTablesSQL+` WHERE keyspace_name = ? ORDER BY table_name`, keyspace)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query tables of %s: %w", keyspace, err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating tables: %w", err)
	}
	return tables, nil
}

// Columns returns the columns of one table ordered by column name.
func (c *SQLiteCatalog) Columns(ctx context.Context, keyspace, table string) ([]Column, error) {
	rows, err := c.readDB.QueryContext(ctx, selectColumnsSQL, keyspace, table)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query columns of %s.%s: %w", keyspace, table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var kind string
		if err := rows.Scan(&col.Keyspace, &col.Table, &col.Name, &kind,
			&col.Position, &col.Type, &col.ClusteringOrder); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan column: %w", err)
		}
		col.Kind = ColumnKind(kind)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating columns: %w", err)
	}
	return columns, nil
}

func scanTable(rows *sql.Rows) (Table, error) {
	var t Table
	var id string
	if err := rows.Scan(&t.Keyspace, &t.Name, &id, &t.Comment); err != nil {
		return Table{}, fmt.Errorf("catalog: failed to scan table: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Table{}, fmt.Errorf("catalog: corrupt id of table %s.%s: %w", t.Keyspace, t.Name, err)
	}
	t.ID = parsed
	return t, nil
}

// CreateKeyspace adds a keyspace. Creating an existing keyspace is a no-op.
func (c *SQLiteCatalog) CreateKeyspace(ctx context.Context, ks Keyspace) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	replication := ks.Replication
	if replication == nil {
		replication = map[string]string{}
	}
	data, err := json.Marshal(replication)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode replication: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO keyspaces (keyspace_name, token, durable_writes, replication)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(keyspace_name) DO NOTHING`,
		ks.Name, int64(token.Of(ks.Name)), ks.DurableWrites, string(data))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert keyspace %s: %w", ks.Name, err)
	}
	return nil
}

// DropKeyspace removes a keyspace with all of its tables and columns.
func (c *SQLiteCatalog) DropKeyspace(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM columns WHERE keyspace_name = ?`, name); err != nil {
		return fmt.Errorf("catalog: failed to delete columns of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE keyspace_name = ?`, name); err != nil {
		return fmt.Errorf("catalog: failed to delete tables of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM keyspaces WHERE keyspace_name = ?`, name)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete keyspace %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyspaceNotFound
	}
	return tx.Commit()
}

// CreateTable adds a table and its columns to an existing keyspace.
func (c *SQLiteCatalog) CreateTable(ctx context.Context, def TableDefinition) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keyspaces WHERE keyspace_name = ?`, def.Keyspace,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("catalog: failed to look up keyspace %s: %w", def.Keyspace, err)
	}
	if exists == 0 {
		return nil, ErrKeyspaceNotFound
	}

	t := &Table{
		Keyspace: def.Keyspace,
		Name:     def.Name,
		ID:       uuid.New(),
		Comment:  def.Comment,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tables (keyspace_name, table_name, token, id, comment)
		VALUES (?, ?, ?, ?, ?)`,
		t.Keyspace, t.Name, int64(token.Of(t.Keyspace)), t.ID.String(), t.Comment)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrTableExists
		}
		return nil, fmt.Errorf("catalog: failed to insert table %s.%s: %w", t.Keyspace, t.Name, err)
	}

	for _, col := range def.Columns {
		order := col.ClusteringOrder
		if order == "" {
			order = OrderNone
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO columns (keyspace_name, table_name, column_name, kind, position, type, clustering_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Keyspace, t.Name, col.Name, string(col.Kind), col.Position, col.Type, order)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to insert column %s of %s.%s: %w", col.Name, t.Keyspace, t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: failed to commit table %s.%s: %w", t.Keyspace, t.Name, err)
	}
	return t, nil
}

// DropTable removes a table and its columns.
func (c *SQLiteCatalog) DropTable(ctx context.Context, keyspace, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM columns WHERE keyspace_name = ? AND table_name = ?`, keyspace, table); err != nil {
		return fmt.Errorf("catalog: failed to delete columns of %s.%s: %w", keyspace, table, err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM tables WHERE keyspace_name = ? AND table_name = ?`, keyspace, table)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete table %s.%s: %w", keyspace, table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTableNotFound
	}
	return tx.Commit()
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
