// Package router is the front door for table operations. It classifies the
// requested table name, rejects what the namespace policy forbids, and
// dispatches to the virtual table projector for internal tables or to the
// user-table delegate for everything else.
//
// Requests for internal tables that a caller may not see fail exactly like
// requests for tables that do not exist.
package router

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/namespace"
	"github.com/sysview/sysview/internal/observability"
	"github.com/sysview/sysview/internal/projector"
)

// Operation names, as used on the DynamoDB wire.
const (
	OpCreateTable   = "CreateTable"
	OpDeleteTable   = "DeleteTable"
	OpDescribeTable = "DescribeTable"
	OpListTables    = "ListTables"
	OpScan          = "Scan"
	OpQuery         = "Query"
)

// Table name limits. The upper bound leaves room for the keyspace prefix
// of a user table.
const (
	minTableNameLength = 3
	maxTableNameLength = 222
)

var validTableName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Caller identifies who is making a request.
type Caller struct {
	AccessKeyID string
	Privileged  bool
}

// CreateTableInput is the request of CreateTable.
type CreateTableInput struct {
	TableName            string
	KeySchema            []types.KeySchemaElement
	AttributeDefinitions []types.AttributeDefinition
	BillingMode          types.BillingMode
}

// ListTablesInput is the request of ListTables.
type ListTablesInput struct {
	ExclusiveStartTableName string
	Limit                   int
}

// ListTablesOutput is the result of ListTables.
type ListTablesOutput struct {
	TableNames             []string
	LastEvaluatedTableName string
}

// UserTables is the collaborator that owns user tables: their schema and
// their items.
type UserTables interface {
	CreateTable(ctx context.Context, in CreateTableInput) (*types.TableDescription, error)
	DeleteTable(ctx context.Context, name string) (*types.TableDescription, error)
	DescribeTable(ctx context.Context, name string) (*types.TableDescription, error)
	ListTables(ctx context.Context) ([]string, error)
	Scan(ctx context.Context, name string, req projector.ScanRequest) (*projector.Page, error)
	Query(ctx context.Context, name string, req projector.QueryRequest) (*projector.Page, error)
}

// Router dispatches table operations.
type Router struct {
	guard     *namespace.Guard
	projector *projector.Projector
	users     UserTables
	stats     *observability.AccessStats
	notifier  *Notifier
	logger    *zap.Logger
}

// notifierBuffer is the channel capacity of each schema change subscriber.
const notifierBuffer = 64

// New creates a Router. stats and logger may be nil.
func New(guard *namespace.Guard, proj *projector.Projector, users UserTables, stats *observability.AccessStats, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		guard:     guard,
		projector: proj,
		users:     users,
		stats:     stats,
		notifier:  NewNotifier(notifierBuffer),
		logger:    logger.Named("router"),
	}
}

// Guard returns the namespace guard in use.
func (r *Router) Guard() *namespace.Guard {
	return r.guard
}

// Notifier returns the bus on which successful CreateTable and DeleteTable
// calls are published.
func (r *Router) Notifier() *Notifier {
	return r.notifier
}

// CreateTable creates a user table. Any name under the reserved prefix is
// rejected before the name is otherwise validated.
func (r *Router) CreateTable(ctx context.Context, caller Caller, in CreateTableInput) (*types.TableDescription, error) {
	if r.guard.AuthorizeCreate(in.TableName) == namespace.Deny {
		return nil, r.finish(in.TableName, OpCreateTable, caller, reservedNamespace(r.guard.Prefix()))
	}
	if err := validateTableName(in.TableName); err != nil {
		return nil, r.finish(in.TableName, OpCreateTable, caller, err)
	}
	if err := validateKeySchema(in); err != nil {
		return nil, r.finish(in.TableName, OpCreateTable, caller, err)
	}

	desc, err := r.users.CreateTable(ctx, in)
	if err == nil {
		r.notifier.Publish(newChange(TableCreated, in.TableName))
	}
	return desc, r.finish(in.TableName, OpCreateTable, caller, err)
}

// DeleteTable deletes a user table. Internal tables are never deletable and
// are reported as not found.
func (r *Router) DeleteTable(ctx context.Context, caller Caller, name string) (*types.TableDescription, error) {
	if r.guard.IsInternal(name) {
		return nil, r.finish(name, OpDeleteTable, caller, tableNotFound(name))
	}
	desc, err := r.users.DeleteTable(ctx, name)
	if err == nil {
		r.notifier.Publish(newChange(TableDeleted, name))
	}
	return desc, r.finish(name, OpDeleteTable, caller, err)
}

// DescribeTable describes a table. Internal tables are described only to
// privileged callers.
func (r *Router) DescribeTable(ctx context.Context, caller Caller, name string) (*types.TableDescription, error) {
	virtual, err := r.authorize(name, caller)
	if err != nil {
		return nil, r.finish(name, OpDescribeTable, caller, err)
	}
	if virtual != "" {
		schema, err := r.projector.Describe(ctx, virtual)
		if err != nil {
			return nil, r.finish(name, OpDescribeTable, caller, virtualFailed(name, err))
		}
		return describeVirtual(name, schema), r.finish(name, OpDescribeTable, caller, nil)
	}
	desc, err := r.users.DescribeTable(ctx, name)
	return desc, r.finish(name, OpDescribeTable, caller, err)
}

// ListTables lists user tables in name order. Internal tables are never
// listed, whatever the caller's privilege.
func (r *Router) ListTables(ctx context.Context, caller Caller, in ListTablesInput) (*ListTablesOutput, error) {
	if in.Limit < 0 || in.Limit > 100 {
		err := serrors.NewValidationError(serrors.CodeInvalidParameter, "Limit must be between 1 and 100")
		return nil, r.finish("", OpListTables, caller, err)
	}
	names, err := r.users.ListTables(ctx)
	if err != nil {
		return nil, r.finish("", OpListTables, caller, err)
	}

	visible := make([]string, 0, len(names))
	for _, name := range names {
		if !r.guard.IsInternal(name) && name > in.ExclusiveStartTableName {
			visible = append(visible, name)
		}
	}
	sort.Strings(visible)

	out := &ListTablesOutput{TableNames: visible}
	limit := in.Limit
	if limit == 0 {
		limit = 100
	}
	if len(visible) > limit {
		out.TableNames = visible[:limit]
		out.LastEvaluatedTableName = visible[limit-1]
	}
	return out, r.finish("", OpListTables, caller, nil)
}

// Scan reads one page of a table.
func (r *Router) Scan(ctx context.Context, caller Caller, name string, req projector.ScanRequest) (*projector.Page, error) {
	virtual, err := r.authorize(name, caller)
	if err != nil {
		return nil, r.finish(name, OpScan, caller, err)
	}

	var page *projector.Page
	if virtual != "" {
		page, err = r.projector.Scan(ctx, virtual, req)
		err = virtualFailed(name, err)
	} else {
		page, err = r.users.Scan(ctx, name, req)
	}
	return page, r.finish(name, OpScan, caller, err)
}

// Query reads one page of a table restricted by key conditions.
func (r *Router) Query(ctx context.Context, caller Caller, name string, req projector.QueryRequest) (*projector.Page, error) {
	virtual, err := r.authorize(name, caller)
	if err != nil {
		return nil, r.finish(name, OpQuery, caller, err)
	}

	var page *projector.Page
	if virtual != "" {
		page, err = r.projector.Query(ctx, virtual, req)
		err = virtualFailed(name, err)
	} else {
		page, err = r.users.Query(ctx, name, req)
	}
	return page, r.finish(name, OpQuery, caller, err)
}

// authorize applies the access policy to a read. It returns the registered
// virtual table name for internal tables, or "" for user tables.
func (r *Router) authorize(name string, caller Caller) (string, error) {
	switch r.guard.AuthorizeAccess(name, caller.Privileged) {
	case namespace.NotFound:
		return "", tableNotFound(name)
	case namespace.Deny:
		return "", serrors.NewAccessDeniedError("Access to internal tables is disabled on this node")
	}
	_, virtual := r.guard.Classify(name)
	return virtual, nil
}

// finish records the outcome of an operation and passes err through.
func (r *Router) finish(name, op string, caller Caller, err error) error {
	outcome := outcomeOf(err)
	key := r.statsKey(name)
	if r.stats != nil {
		r.stats.Record(key, op, outcome)
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("table", key),
		zap.String("outcome", outcome),
		zap.Bool("privileged", caller.Privileged),
	}
	switch outcome {
	case observability.OutcomeOK:
		r.logger.Debug("table operation", fields...)
	case observability.OutcomeError:
		r.logger.Error("table operation failed", append(fields, zap.Error(err))...)
	default:
		r.logger.Info("table operation rejected", append(fields, zap.String("reason", serrors.GetCode(err)))...)
	}
	return err
}

// statsKey folds every unregistered internal name into one key so that
// guessing names under the reserved prefix cannot grow the statistics
// without bound.
func (r *Router) statsKey(name string) string {
	if c, _ := r.guard.Classify(name); c == namespace.InternalUnknown {
		return r.guard.Prefix() + "*"
	}
	return name
}

func outcomeOf(err error) string {
	if err == nil {
		return observability.OutcomeOK
	}
	switch serrors.GetCategory(err) {
	case serrors.ErrCategoryNotFound:
		return observability.OutcomeNotFound
	case serrors.ErrCategoryConflict:
		return observability.OutcomeConflict
	case serrors.ErrCategoryAccess:
		return observability.OutcomeDenied
	case serrors.ErrCategoryValidation:
		if serrors.GetCode(err) == serrors.CodeReservedNamespace {
			return observability.OutcomeReserved
		}
		return observability.OutcomeInvalid
	default:
		return observability.OutcomeError
	}
}

// describeVirtual builds the description of a registered virtual table.
func describeVirtual(fullName string, schema projector.Schema) *types.TableDescription {
	desc := &types.TableDescription{
		TableName:   aws.String(fullName),
		TableId:     aws.String(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fullName)).String()),
		TableStatus: types.TableStatusActive,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(schema.HashKey), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(schema.HashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingModeSummary: &types.BillingModeSummary{BillingMode: types.BillingModePayPerRequest},
	}
	if schema.RangeKey != "" {
		desc.KeySchema = append(desc.KeySchema,
			types.KeySchemaElement{AttributeName: aws.String(schema.RangeKey), KeyType: types.KeyTypeRange})
		desc.AttributeDefinitions = append(desc.AttributeDefinitions,
			types.AttributeDefinition{AttributeName: aws.String(schema.RangeKey), AttributeType: types.ScalarAttributeTypeS})
	}
	return desc
}

func validateTableName(name string) error {
	if len(name) < minTableNameLength || len(name) > maxTableNameLength {
		return serrors.NewValidationError(serrors.CodeInvalidTableName, fmt.Sprintf(
			"TableName must be at least %d characters long and at most %d characters long",
			minTableNameLength, maxTableNameLength))
	}
	if !validTableName.MatchString(name) {
		return serrors.NewValidationError(serrors.CodeInvalidTableName,
			"TableName must satisfy regular expression pattern: [a-zA-Z0-9_.-]+")
	}
	return nil
}

func validateKeySchema(in CreateTableInput) error {
	ks := in.KeySchema
	if len(ks) == 0 || len(ks) > 2 {
		return invalidKeySchema("KeySchema must have one or two elements")
	}
	if ks[0].KeyType != types.KeyTypeHash {
		return invalidKeySchema("First element of KeySchema must be a HASH key")
	}
	if len(ks) == 2 && ks[1].KeyType != types.KeyTypeRange {
		return invalidKeySchema("Second element of KeySchema must be a RANGE key")
	}

	defined := make(map[string]types.ScalarAttributeType, len(in.AttributeDefinitions))
	for _, def := range in.AttributeDefinitions {
		name := aws.ToString(def.AttributeName)
		if name == "" {
			return invalidKeySchema("AttributeDefinitions contains an attribute without a name")
		}
		if _, dup := defined[name]; dup {
			return invalidKeySchema("Duplicate attribute in AttributeDefinitions: " + name)
		}
		switch def.AttributeType {
		case types.ScalarAttributeTypeS, types.ScalarAttributeTypeN, types.ScalarAttributeTypeB:
		default:
			return invalidKeySchema(fmt.Sprintf("Invalid AttributeType %q for attribute %s", def.AttributeType, name))
		}
		defined[name] = def.AttributeType
	}

	seen := make(map[string]bool, len(ks))
	for _, el := range ks {
		name := aws.ToString(el.AttributeName)
		if name == "" {
			return invalidKeySchema("KeySchema contains an element without an AttributeName")
		}
		if seen[name] {
			return invalidKeySchema("KeySchema uses attribute " + name + " twice")
		}
		seen[name] = true
		if _, ok := defined[name]; !ok {
			return invalidKeySchema("KeySchema key attribute " + name + " is not defined in AttributeDefinitions")
		}
	}

	switch in.BillingMode {
	case "", types.BillingModePayPerRequest, types.BillingModeProvisioned:
	default:
		return invalidKeySchema(fmt.Sprintf("Unknown BillingMode %q", in.BillingMode))
	}
	return nil
}

func reservedNamespace(prefix string) error {
	return serrors.NewValidationError(serrors.CodeReservedNamespace,
		fmt.Sprintf("Prefix %s is reserved for accessing internal tables", prefix))
}

// virtualFailed reports a virtual table that vanished from the catalog
// after startup with the same error as any other missing table.
func virtualFailed(name string, err error) error {
	if serrors.GetCategory(err) == serrors.ErrCategoryNotFound {
		return tableNotFound(name)
	}
	return err
}

// tableNotFound is the single not-found error of every table operation, so
// that missing and forbidden tables cannot be told apart.
func tableNotFound(name string) error {
	return serrors.NewNotFoundError(fmt.Sprintf("Requested resource not found: Table: %s not found", name))
}

func invalidKeySchema(msg string) error {
	return serrors.NewValidationError(serrors.CodeInvalidKeySchema, msg)
}
