// Package wire implements the JSON protocol of the DynamoDB API: request and
// response shapes, the attribute value codec and the dispatch of decoded
// requests to the router. The HTTP and gRPC front ends share it.
package wire

import (
	"encoding/json"
)

// KeySchemaElement is one element of a key schema.
type KeySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"` // "HASH" or "RANGE"
}

// AttributeDefinition declares the type of a key attribute.
type AttributeDefinition struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"` // "S", "N" or "B"
}

// ProvisionedThroughput is accepted for compatibility and ignored.
type ProvisionedThroughput struct {
	ReadCapacityUnits  int64 `json:"ReadCapacityUnits"`
	WriteCapacityUnits int64 `json:"WriteCapacityUnits"`
}

// BillingModeSummary reports the billing mode of a table.
type BillingModeSummary struct {
	BillingMode string `json:"BillingMode"`
}

// TableDescription describes a table.
type TableDescription struct {
	TableName            string                `json:"TableName"`
	TableId              string                `json:"TableId,omitempty"`
	TableArn             string                `json:"TableArn,omitempty"`
	TableStatus          string                `json:"TableStatus"`
	KeySchema            []KeySchemaElement    `json:"KeySchema"`
	AttributeDefinitions []AttributeDefinition `json:"AttributeDefinitions"`
	CreationDateTime     float64               `json:"CreationDateTime,omitempty"` // Unix epoch seconds
	ItemCount            int64                 `json:"ItemCount"`
	TableSizeBytes       int64                 `json:"TableSizeBytes"`
	BillingModeSummary   *BillingModeSummary   `json:"BillingModeSummary,omitempty"`
}

// CreateTableRequest is the body of CreateTable.
type CreateTableRequest struct {
	TableName             string                 `json:"TableName"`
	KeySchema             []KeySchemaElement     `json:"KeySchema"`
	AttributeDefinitions  []AttributeDefinition  `json:"AttributeDefinitions"`
	BillingMode           string                 `json:"BillingMode,omitempty"`
	ProvisionedThroughput *ProvisionedThroughput `json:"ProvisionedThroughput,omitempty"`
}

// TableRequest is the body of DescribeTable and DeleteTable.
type TableRequest struct {
	TableName string `json:"TableName"`
}

// TableDescriptionResponse is the result of CreateTable and DeleteTable.
type TableDescriptionResponse struct {
	TableDescription *TableDescription `json:"TableDescription"`
}

// DescribeTableResponse is the result of DescribeTable.
type DescribeTableResponse struct {
	Table *TableDescription `json:"Table"`
}

// ListTablesRequest is the body of ListTables.
type ListTablesRequest struct {
	ExclusiveStartTableName string `json:"ExclusiveStartTableName,omitempty"`
	Limit                   int    `json:"Limit,omitempty"`
}

// ListTablesResponse is the result of ListTables.
type ListTablesResponse struct {
	TableNames             []string `json:"TableNames"`
	LastEvaluatedTableName string   `json:"LastEvaluatedTableName,omitempty"`
}

// ScanRequest is the body of Scan.
type ScanRequest struct {
	TableName                string            `json:"TableName"`
	AttributesToGet          []string          `json:"AttributesToGet,omitempty"`
	ProjectionExpression     string            `json:"ProjectionExpression,omitempty"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames,omitempty"`
	Limit                    *int              `json:"Limit,omitempty"`
	ExclusiveStartKey        Item              `json:"ExclusiveStartKey,omitempty"`
	Select                   string            `json:"Select,omitempty"`
	ConsistentRead           bool              `json:"ConsistentRead,omitempty"`

	// Not supported; present only so that requests using them are rejected.
	IndexName        string                     `json:"IndexName,omitempty"`
	FilterExpression string                     `json:"FilterExpression,omitempty"`
	ScanFilter       map[string]json.RawMessage `json:"ScanFilter,omitempty"`
	Segment          *int                       `json:"Segment,omitempty"`
	TotalSegments    *int                       `json:"TotalSegments,omitempty"`
}

// Condition is a legacy key condition.
type Condition struct {
	AttributeValueList []AttributeValue `json:"AttributeValueList"`
	ComparisonOperator string           `json:"ComparisonOperator"`
}

// QueryRequest is the body of Query.
type QueryRequest struct {
	ScanRequest
	KeyConditionExpression    string                     `json:"KeyConditionExpression,omitempty"`
	ExpressionAttributeValues Item                       `json:"ExpressionAttributeValues,omitempty"`
	KeyConditions             map[string]Condition       `json:"KeyConditions,omitempty"`
	ScanIndexForward          *bool                      `json:"ScanIndexForward,omitempty"`
	QueryFilter               map[string]json.RawMessage `json:"QueryFilter,omitempty"`
}

// PageResponse is the result of Scan and Query. Items is nil for
// Select=COUNT.
type PageResponse struct {
	Items            *[]Item `json:"Items,omitempty"`
	Count            int     `json:"Count"`
	ScannedCount     int     `json:"ScannedCount"`
	LastEvaluatedKey Item    `json:"LastEvaluatedKey,omitempty"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}
