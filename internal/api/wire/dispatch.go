package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/projector"
	"github.com/sysview/sysview/internal/router"
)

// TargetPrefix prefixes the X-Amz-Target header of every DynamoDB request.
const TargetPrefix = "DynamoDB_20120810."

// ErrorTypePrefix prefixes the __type of every error body.
const ErrorTypePrefix = "com.amazonaws.dynamodb.v20120810#"

// CursorAttribute is the single attribute of LastEvaluatedKey and
// ExclusiveStartKey.
const CursorAttribute = "cursor"

// Select values.
const (
	selectAllAttributes      = "ALL_ATTRIBUTES"
	selectAllProjected       = "ALL_PROJECTED_ATTRIBUTES"
	selectSpecificAttributes = "SPECIFIC_ATTRIBUTES"
	selectCount              = "COUNT"
)

const (
	arnRegion  = "local"
	arnAccount = "000000000000"
)

// Dispatcher decodes DynamoDB JSON requests, runs them through the router
// and builds the response bodies.
type Dispatcher struct {
	router *router.Router
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(r *router.Router) *Dispatcher {
	return &Dispatcher{router: r}
}

// Handle runs operation op with the given JSON body. The returned value is
// ready for json.Marshal.
func (d *Dispatcher) Handle(ctx context.Context, caller router.Caller, op string, body []byte) (interface{}, error) {
	switch op {
	case router.OpCreateTable:
		var req CreateTableRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		desc, err := d.router.CreateTable(ctx, caller, createInput(req))
		if err != nil {
			return nil, err
		}
		return &TableDescriptionResponse{TableDescription: fromDescription(desc)}, nil

	case router.OpDeleteTable:
		var req TableRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		desc, err := d.router.DeleteTable(ctx, caller, req.TableName)
		if err != nil {
			return nil, err
		}
		return &TableDescriptionResponse{TableDescription: fromDescription(desc)}, nil

	case router.OpDescribeTable:
		var req TableRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		desc, err := d.router.DescribeTable(ctx, caller, req.TableName)
		if err != nil {
			return nil, err
		}
		return &DescribeTableResponse{Table: fromDescription(desc)}, nil

	case router.OpListTables:
		var req ListTablesRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		out, err := d.router.ListTables(ctx, caller, router.ListTablesInput{
			ExclusiveStartTableName: req.ExclusiveStartTableName,
			Limit:                   req.Limit,
		})
		if err != nil {
			return nil, err
		}
		return &ListTablesResponse{TableNames: out.TableNames, LastEvaluatedTableName: out.LastEvaluatedTableName}, nil

	case router.OpScan:
		var req ScanRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		sr, err := scanRequest(req)
		if err != nil {
			return nil, err
		}
		page, err := d.router.Scan(ctx, caller, req.TableName, sr)
		if err != nil {
			return nil, err
		}
		return pageResponse(page), nil

	case router.OpQuery:
		var req QueryRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		qr, err := queryRequest(req)
		if err != nil {
			return nil, err
		}
		page, err := d.router.Query(ctx, caller, req.TableName, qr)
		if err != nil {
			return nil, err
		}
		return pageResponse(page), nil

	default:
		return nil, serrors.NewValidationError(serrors.CodeUnknownOperation,
			"Unknown operation: "+op)
	}
}

// ErrorBody builds the error body and HTTP status of err.
func ErrorBody(err error) (int, ErrorResponse) {
	typ := serrors.AWSType(err)
	status := 400
	if typ == serrors.AWSInternalError {
		status = 500
	}
	return status, ErrorResponse{Type: ErrorTypePrefix + typ, Message: serrors.ClientMessage(err)}
}

// TableArn returns the ARN reported for a table.
func TableArn(name string) string {
	return "arn:aws:dynamodb:" + arnRegion + ":" + arnAccount + ":table/" + name
}

func decode(body []byte, v interface{}) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return serrors.NewValidationError(serrors.CodeSerialization,
			fmt.Sprintf("Unable to decode request body: %v", err))
	}
	return nil
}

func createInput(req CreateTableRequest) router.CreateTableInput {
	in := router.CreateTableInput{
		TableName:   req.TableName,
		BillingMode: types.BillingMode(req.BillingMode),
	}
	if in.BillingMode == "" && req.ProvisionedThroughput != nil {
		in.BillingMode = types.BillingModeProvisioned
	}
	for _, el := range req.KeySchema {
		in.KeySchema = append(in.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(el.AttributeName),
			KeyType:       types.KeyType(el.KeyType),
		})
	}
	for _, def := range req.AttributeDefinitions {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(def.AttributeName),
			AttributeType: types.ScalarAttributeType(def.AttributeType),
		})
	}
	return in
}

func fromDescription(desc *types.TableDescription) *TableDescription {
	name := aws.ToString(desc.TableName)
	out := &TableDescription{
		TableName:            name,
		TableId:              aws.ToString(desc.TableId),
		TableArn:             TableArn(name),
		TableStatus:          string(desc.TableStatus),
		KeySchema:            []KeySchemaElement{},
		AttributeDefinitions: []AttributeDefinition{},
		ItemCount:            aws.ToInt64(desc.ItemCount),
		TableSizeBytes:       aws.ToInt64(desc.TableSizeBytes),
	}
	for _, el := range desc.KeySchema {
		out.KeySchema = append(out.KeySchema, KeySchemaElement{
			AttributeName: aws.ToString(el.AttributeName),
			KeyType:       string(el.KeyType),
		})
	}
	for _, def := range desc.AttributeDefinitions {
		out.AttributeDefinitions = append(out.AttributeDefinitions, AttributeDefinition{
			AttributeName: aws.ToString(def.AttributeName),
			AttributeType: string(def.AttributeType),
		})
	}
	if desc.CreationDateTime != nil {
		out.CreationDateTime = float64(desc.CreationDateTime.UnixMilli()) / 1000
	}
	if desc.BillingModeSummary != nil {
		out.BillingModeSummary = &BillingModeSummary{BillingMode: string(desc.BillingModeSummary.BillingMode)}
	}
	return out
}

func scanRequest(req ScanRequest) (projector.ScanRequest, error) {
	var out projector.ScanRequest

	switch {
	case req.IndexName != "":
		return out, serrors.NewValidationError(serrors.CodeInvalidParameter,
			"The table does not have the specified index: "+req.IndexName)
	case req.FilterExpression != "" || len(req.ScanFilter) > 0:
		return out, unsupported("Filters are not supported")
	case req.Segment != nil || req.TotalSegments != nil:
		return out, unsupported("Parallel scans are not supported")
	}

	if req.ProjectionExpression != "" && len(req.AttributesToGet) > 0 {
		return out, invalidParameter("Can not use both expression and non-expression parameters in the same request: " +
			"Non-expression parameters: {AttributesToGet} Expression parameters: {ProjectionExpression}")
	}
	if req.ProjectionExpression != "" {
		attrs, err := projector.ParseProjection(req.ProjectionExpression, req.ExpressionAttributeNames)
		if err != nil {
			return out, err
		}
		out.Attributes = attrs
	} else if len(req.AttributesToGet) > 0 {
		seen := make(map[string]bool, len(req.AttributesToGet))
		for _, a := range req.AttributesToGet {
			if seen[a] {
				return out, invalidParameter("One or more parameter values were invalid: Duplicate value in attribute name: " + a)
			}
			seen[a] = true
		}
		out.Attributes = req.AttributesToGet
	}

	switch req.Select {
	case "", selectAllAttributes, selectSpecificAttributes:
		if req.Select == selectAllAttributes && out.Attributes != nil {
			return out, invalidParameter("Cannot specify projected attributes when Select is ALL_ATTRIBUTES")
		}
		if req.Select == selectSpecificAttributes && out.Attributes == nil {
			return out, invalidParameter("Select SPECIFIC_ATTRIBUTES requires a projection")
		}
	case selectCount:
		if out.Attributes != nil {
			return out, invalidParameter("Cannot specify projected attributes when choosing to get only the Count")
		}
		out.CountOnly = true
	case selectAllProjected:
		return out, invalidParameter("ALL_PROJECTED_ATTRIBUTES can be used only when querying an index")
	default:
		return out, invalidParameter("Unknown Select value: " + req.Select)
	}

	if req.Limit != nil {
		if *req.Limit < 1 {
			return out, invalidParameter("Limit must be greater than or equal to 1")
		}
		out.Limit = *req.Limit
	}

	if req.ExclusiveStartKey != nil {
		cur, ok := req.ExclusiveStartKey[CursorAttribute].Value.(*types.AttributeValueMemberS)
		if len(req.ExclusiveStartKey) != 1 || !ok || cur.Value == "" {
			return out, serrors.NewValidationError(serrors.CodeInvalidCursor, "The provided starting key is invalid")
		}
		out.Cursor = cur.Value
	}
	return out, nil
}

func queryRequest(req QueryRequest) (projector.QueryRequest, error) {
	var out projector.QueryRequest

	sr, err := scanRequest(req.ScanRequest)
	if err != nil {
		return out, err
	}
	out.ScanRequest = sr

	switch {
	case len(req.QueryFilter) > 0:
		return out, unsupported("Filters are not supported")
	case req.ScanIndexForward != nil && !*req.ScanIndexForward:
		return out, unsupported("Reverse queries are not supported")
	}

	hasExpr := req.KeyConditionExpression != ""
	hasLegacy := len(req.KeyConditions) > 0
	switch {
	case hasExpr && hasLegacy:
		return out, invalidParameter("Can not use both expression and non-expression parameters in the same request: " +
			"Non-expression parameters: {KeyConditions} Expression parameters: {KeyConditionExpression}")
	case hasExpr:
		conds, err := projector.ParseKeyConditionExpression(req.KeyConditionExpression,
			req.ExpressionAttributeNames, req.ExpressionAttributeValues.SDK())
		if err != nil {
			return out, err
		}
		out.Conditions = conds
	case hasLegacy:
		attrs := make([]string, 0, len(req.KeyConditions))
		for attr := range req.KeyConditions {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		for _, attr := range attrs {
			kc := req.KeyConditions[attr]
			values := make([]types.AttributeValue, len(kc.AttributeValueList))
			for i, v := range kc.AttributeValueList {
				values[i] = v.Value
			}
			cond, err := projector.LegacyCondition(attr, kc.ComparisonOperator, values)
			if err != nil {
				return out, err
			}
			out.Conditions = append(out.Conditions, cond)
		}
	default:
		return out, invalidParameter("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}
	return out, nil
}

func pageResponse(page *projector.Page) *PageResponse {
	out := &PageResponse{Count: page.Count, ScannedCount: page.ScannedCount}
	if page.Items != nil {
		items := make([]Item, len(page.Items))
		for i, it := range page.Items {
			items[i] = FromItem(it)
		}
		out.Items = &items
	}
	if page.Cursor != "" {
		out.LastEvaluatedKey = Item{CursorAttribute: {Value: &types.AttributeValueMemberS{Value: page.Cursor}}}
	}
	return out
}

// OperationFromTarget extracts the operation name from an X-Amz-Target
// header value.
func OperationFromTarget(target string) (string, error) {
	op, ok := strings.CutPrefix(target, TargetPrefix)
	if !ok || op == "" {
		if target == "" {
			return "", serrors.NewValidationError(serrors.CodeUnknownOperation, "Missing X-Amz-Target header")
		}
		return "", serrors.NewValidationError(serrors.CodeUnknownOperation, "Unknown operation: "+target)
	}
	return op, nil
}

func invalidParameter(msg string) error {
	return serrors.NewValidationError(serrors.CodeInvalidParameter, msg)
}

func unsupported(msg string) error {
	return serrors.NewValidationError(serrors.CodeUnsupportedOperation, msg)
}
