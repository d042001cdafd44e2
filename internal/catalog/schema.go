package catalog

// SQL schema of the catalog database (catalog.db). The database is the
// source of truth for every keyspace, table and column definition.

// CreateKeyspacesTableSQL creates the keyspaces table.
// Keyspace rows carry their partition token so that scans can be ordered
// and resumed the same way as on a partitioned store.
const CreateKeyspacesTableSQL = `
CREATE TABLE IF NOT EXISTS keyspaces (
    keyspace_name TEXT PRIMARY KEY,
    token INTEGER NOT NULL,
    durable_writes INTEGER NOT NULL DEFAULT 1,
    replication TEXT NOT NULL DEFAULT '{}'
)`

// CreateTablesTableSQL creates the tables table.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    keyspace_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    token INTEGER NOT NULL,
    id TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (keyspace_name, table_name),
    FOREIGN KEY (keyspace_name) REFERENCES keyspaces(keyspace_name)
)`

// CreateColumnsTableSQL creates the columns table.
// The primary key makes a (keyspace_name, table_name) lookup a range read.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS columns (
    keyspace_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    column_name TEXT NOT NULL,
    kind TEXT NOT NULL,
    position INTEGER NOT NULL,
    type TEXT NOT NULL,
    clustering_order TEXT NOT NULL DEFAULT 'none',
    PRIMARY KEY (keyspace_name, table_name, column_name),
    FOREIGN KEY (keyspace_name, table_name) REFERENCES tables(keyspace_name, table_name)
)`

// CreateCatalogIndexesSQL creates indexes for ordered scans.
var CreateCatalogIndexesSQL = []string{
	// Scan order of the tables meta-table
	`CREATE INDEX IF NOT EXISTS idx_tables_scan ON tables(token, keyspace_name, table_name)`,

	// Scan order of the keyspaces meta-table
	`CREATE INDEX IF NOT EXISTS idx_keyspaces_scan ON keyspaces(token, keyspace_name)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateKeyspacesTableSQL,
		CreateTablesTableSQL,
		CreateColumnsTableSQL,
	}
	statements = append(statements, CreateCatalogIndexesSQL...)
	return statements
}
