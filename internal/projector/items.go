package projector

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sysview/sysview/internal/catalog"
	serrors "github.com/sysview/sysview/internal/errors"
)

// Item is one rendered row of a virtual table.
type Item = map[string]types.AttributeValue

// Rows mirror catalog entities field for field. Values are copied as they
// are, with no derived attributes.

type keyspaceRow struct {
	KeyspaceName  string            `dynamodbav:"keyspace_name"`
	DurableWrites bool              `dynamodbav:"durable_writes"`
	Replication   map[string]string `dynamodbav:"replication"`
}

type tableRow struct {
	KeyspaceName string `dynamodbav:"keyspace_name"`
	TableName    string `dynamodbav:"table_name"`
	ID           string `dynamodbav:"id"`
	Comment      string `dynamodbav:"comment"`
}

type columnRow struct {
	KeyspaceName    string `dynamodbav:"keyspace_name"`
	TableName       string `dynamodbav:"table_name"`
	ColumnName      string `dynamodbav:"column_name"`
	Kind            string `dynamodbav:"kind"`
	Position        int    `dynamodbav:"position"`
	Type            string `dynamodbav:"type"`
	ClusteringOrder string `dynamodbav:"clustering_order"`
}

func renderKeyspace(ks catalog.Keyspace) (Item, error) {
	replication := ks.Replication
	if replication == nil {
		replication = map[string]string{}
	}
	return render(keyspaceRow{
		KeyspaceName:  ks.Name,
		DurableWrites: ks.DurableWrites,
		Replication:   replication,
	})
}

func renderTable(t catalog.Table) (Item, error) {
	return render(tableRow{
		KeyspaceName: t.Keyspace,
		TableName:    t.Name,
		ID:           t.ID.String(),
		Comment:      t.Comment,
	})
}

func renderColumn(c catalog.Column) (Item, error) {
	return render(columnRow{
		KeyspaceName:    c.Keyspace,
		TableName:       c.Table,
		ColumnName:      c.Name,
		Kind:            string(c.Kind),
		Position:        c.Position,
		Type:            c.Type,
		ClusteringOrder: c.ClusteringOrder,
	})
}

func render(row interface{}) (Item, error) {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return nil, serrors.NewInternalError("failed to render virtual table item", err)
	}
	return item, nil
}

// project keeps only the requested attributes. An empty list keeps all.
func project(item Item, attrs []string) Item {
	if len(attrs) == 0 {
		return item
	}
	out := make(Item, len(attrs))
	for _, name := range attrs {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

// stringAttr returns the value of a string attribute, or "" when the item
// has no such string attribute.
func stringAttr(item Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
