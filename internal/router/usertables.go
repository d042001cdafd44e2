package router

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sysview/sysview/internal/catalog"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/projector"
)

// UserKeyspacePrefix prefixes the keyspace that holds a user table.
const UserKeyspacePrefix = catalog.UserKeyspacePrefix

// attrsColumn holds every non-key attribute of a user table item.
const attrsColumn = ":attrs"

// CatalogTables keeps user table schemas in the catalog. Table T lives in
// keyspace alternator_T as table T, with the hash key as partition key, the
// range key as clustering key and one map column for other attributes.
//
// Item storage is not implemented: every user table reads as empty.
type CatalogTables struct {
	reader  catalog.SnapshotReader
	manager catalog.SchemaManager
}

// NewCatalogTables creates a user-table delegate over a catalog.
func NewCatalogTables(reader catalog.SnapshotReader, manager catalog.SchemaManager) *CatalogTables {
	return &CatalogTables{reader: reader, manager: manager}
}

// UserKeyspace returns the keyspace that holds user table name.
func UserKeyspace(name string) string {
	return UserKeyspacePrefix + name
}

// CreateTable creates the keyspace and table of a user table. The input must
// already be validated.
func (c *CatalogTables) CreateTable(ctx context.Context, in CreateTableInput) (*types.TableDescription, error) {
	ks := UserKeyspace(in.TableName)
	if _, ok, err := c.lookup(ctx, in.TableName); err != nil {
		return nil, err
	} else if ok {
		return nil, tableExists(in.TableName)
	}

	attrTypes := make(map[string]types.ScalarAttributeType, len(in.AttributeDefinitions))
	for _, def := range in.AttributeDefinitions {
		attrTypes[aws.ToString(def.AttributeName)] = def.AttributeType
	}

	def := catalog.TableDefinition{Keyspace: ks, Name: in.TableName}
	for _, el := range in.KeySchema {
		name := aws.ToString(el.AttributeName)
		col := catalog.Column{
			Name:            name,
			Type:            cqlType(attrTypes[name]),
			ClusteringOrder: catalog.OrderNone,
		}
		if el.KeyType == types.KeyTypeHash {
			col.Kind = catalog.KindPartitionKey
		} else {
			col.Kind = catalog.KindClustering
			col.ClusteringOrder = catalog.OrderAsc
		}
		def.Columns = append(def.Columns, col)
	}
	def.Columns = append(def.Columns, catalog.Column{
		Name:            attrsColumn,
		Kind:            catalog.KindRegular,
		Position:        -1,
		Type:            "map<text, blob>",
		ClusteringOrder: catalog.OrderNone,
	})

	if err := c.manager.CreateKeyspace(ctx, catalog.Keyspace{
		Name:          ks,
		DurableWrites: true,
		Replication:   map[string]string{"class": "SimpleStrategy", "replication_factor": "1"},
	}); err != nil {
		return nil, writeFailed(err)
	}
	if _, err := c.manager.CreateTable(ctx, def); err != nil {
		if errors.Is(err, catalog.ErrTableExists) {
			return nil, tableExists(in.TableName)
		}
		return nil, writeFailed(err)
	}

	desc, err := c.DescribeTable(ctx, in.TableName)
	if err != nil {
		return nil, err
	}
	if in.BillingMode != "" {
		desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: in.BillingMode}
	}
	return desc, nil
}

// DeleteTable drops a user table together with its keyspace.
func (c *CatalogTables) DeleteTable(ctx context.Context, name string) (*types.TableDescription, error) {
	desc, err := c.DescribeTable(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.manager.DropKeyspace(ctx, UserKeyspace(name)); err != nil {
		if errors.Is(err, catalog.ErrKeyspaceNotFound) {
			return nil, tableNotFound(name)
		}
		return nil, writeFailed(err)
	}
	desc.TableStatus = types.TableStatusDeleting
	return desc, nil
}

// DescribeTable describes a user table from its catalog columns.
func (c *CatalogTables) DescribeTable(ctx context.Context, name string) (*types.TableDescription, error) {
	table, ok, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tableNotFound(name)
	}
	cols, err := c.reader.Columns(ctx, table.Keyspace, table.Name)
	if err != nil {
		return nil, readFailed(err)
	}
	if len(cols) == 0 {
		// Dropped between the two reads.
		return nil, tableNotFound(name)
	}

	desc := &types.TableDescription{
		TableName:          aws.String(name),
		TableId:            aws.String(table.ID.String()),
		TableStatus:        types.TableStatusActive,
		ItemCount:          aws.Int64(0),
		TableSizeBytes:     aws.Int64(0),
		BillingModeSummary: &types.BillingModeSummary{BillingMode: types.BillingModePayPerRequest},
	}
	var hash, rng *catalog.Column
	for i := range cols {
		switch cols[i].Kind {
		case catalog.KindPartitionKey:
			hash = &cols[i]
		case catalog.KindClustering:
			rng = &cols[i]
		}
	}
	for _, col := range []*catalog.Column{hash, rng} {
		if col == nil {
			continue
		}
		keyType := types.KeyTypeHash
		if col == rng {
			keyType = types.KeyTypeRange
		}
		desc.KeySchema = append(desc.KeySchema,
			types.KeySchemaElement{AttributeName: aws.String(col.Name), KeyType: keyType})
		desc.AttributeDefinitions = append(desc.AttributeDefinitions,
			types.AttributeDefinition{AttributeName: aws.String(col.Name), AttributeType: scalarType(col.Type)})
	}
	return desc, nil
}

// ListTables returns the names of all user tables.
func (c *CatalogTables) ListTables(ctx context.Context) ([]string, error) {
	keyspaces, err := c.reader.Keyspaces(ctx)
	if err != nil {
		return nil, readFailed(err)
	}

	var names []string
	for _, ks := range keyspaces {
		name, ok := strings.CutPrefix(ks.Name, UserKeyspacePrefix)
		if !ok || name == "" {
			continue
		}
		tables, err := c.reader.KeyspaceTables(ctx, ks.Name)
		if err != nil {
			return nil, readFailed(err)
		}
		for _, t := range tables {
			if t.Name == name {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Scan checks that the table exists and returns an empty page.
func (c *CatalogTables) Scan(ctx context.Context, name string, req projector.ScanRequest) (*projector.Page, error) {
	if _, err := c.DescribeTable(ctx, name); err != nil {
		return nil, err
	}
	return emptyPage(req), nil
}

// Query checks that the table exists and that the key conditions fit its
// key schema, and returns an empty page.
func (c *CatalogTables) Query(ctx context.Context, name string, req projector.QueryRequest) (*projector.Page, error) {
	desc, err := c.DescribeTable(ctx, name)
	if err != nil {
		return nil, err
	}
	schema := projector.Schema{Name: name}
	for _, el := range desc.KeySchema {
		if el.KeyType == types.KeyTypeHash {
			schema.HashKey = aws.ToString(el.AttributeName)
		} else {
			schema.RangeKey = aws.ToString(el.AttributeName)
		}
	}
	if _, err := projector.Bind(req.Conditions, schema); err != nil {
		return nil, err
	}
	return emptyPage(req.ScanRequest), nil
}

// lookup finds the catalog table of a user table.
func (c *CatalogTables) lookup(ctx context.Context, name string) (catalog.Table, bool, error) {
	tables, err := c.reader.KeyspaceTables(ctx, UserKeyspace(name))
	if err != nil {
		return catalog.Table{}, false, readFailed(err)
	}
	for _, t := range tables {
		if t.Name == name {
			return t, true, nil
		}
	}
	return catalog.Table{}, false, nil
}

func emptyPage(req projector.ScanRequest) *projector.Page {
	if req.CountOnly {
		return &projector.Page{}
	}
	return &projector.Page{Items: []projector.Item{}}
}

func cqlType(t types.ScalarAttributeType) string {
	switch t {
	case types.ScalarAttributeTypeS:
		return "text"
	case types.ScalarAttributeTypeN:
		return "decimal"
	default:
		return "blob"
	}
}

func scalarType(cql string) types.ScalarAttributeType {
	switch cql {
	case "text":
		return types.ScalarAttributeTypeS
	case "decimal":
		return types.ScalarAttributeTypeN
	default:
		return types.ScalarAttributeTypeB
	}
}

func tableExists(name string) error {
	return serrors.NewConflictError(serrors.CodeTableExists, "Table already exists: "+name)
}

func readFailed(err error) error {
	return serrors.NewCatalogError(serrors.CodeCatalogReadFailed, "failed to read schema catalog", err)
}

func writeFailed(err error) error {
	if errors.Is(err, catalog.ErrReadOnly) {
		return serrors.NewValidationError(serrors.CodeUnsupportedOperation,
			"Schema changes are not supported by this node's catalog")
	}
	return serrors.NewCatalogError(serrors.CodeCatalogWriteFailed, "failed to update schema catalog", err)
}
