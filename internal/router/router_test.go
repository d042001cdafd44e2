package router

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sysview/sysview/internal/catalog"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/namespace"
	"github.com/sysview/sysview/internal/observability"
	"github.com/sysview/sysview/internal/projector"
)

const prefix = namespace.DefaultPrefix

var (
	anonymous  = Caller{AccessKeyID: "alice"}
	privileged = Caller{AccessKeyID: "admin", Privileged: true}
)

type testEnv struct {
	router  *Router
	catalog *catalog.SQLiteCatalog
	stats   *observability.AccessStats
}

func newTestEnv(t *testing.T, opts ...namespace.Option) *testEnv {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "router_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpFile.Name())
		os.Remove(tmpFile.Name() + "-wal")
		os.Remove(tmpFile.Name() + "-shm")
	})

	cat, err := catalog.NewCatalog(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	if err := catalog.Bootstrap(context.Background(), cat); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	known, err := projector.KnownTables(context.Background(), cat)
	if err != nil {
		t.Fatalf("KnownTables failed: %v", err)
	}
	stats := observability.NewAccessStats(0)
	r := New(
		namespace.NewGuard(known, opts...),
		projector.New(cat),
		NewCatalogTables(cat, cat),
		stats,
		nil,
	)
	return &testEnv{router: r, catalog: cat, stats: stats}
}

func createInput(name string, withRange bool) CreateTableInput {
	in := CreateTableInput{
		TableName: name,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("p"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("p"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
	if withRange {
		in.KeySchema = append(in.KeySchema, types.KeySchemaElement{AttributeName: aws.String("c"), KeyType: types.KeyTypeRange})
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{AttributeName: aws.String("c"), AttributeType: types.ScalarAttributeTypeN})
	}
	return in
}

func str(item projector.Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func eq(attr, v string) projector.Condition {
	return projector.Condition{Attribute: attr, Op: projector.OpEQ, Values: []string{v}}
}

func TestCreateTable_ReservedPrefix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{
		prefix,
		prefix + "x",
		prefix + "!!garbage!!",
		prefix + "alternator_mytable.mytable",
		prefix + "system_schema.tables",
	} {
		for _, caller := range []Caller{anonymous, privileged} {
			_, err := env.router.CreateTable(ctx, caller, createInput(name, false))
			if serrors.GetCode(err) != serrors.CodeReservedNamespace {
				t.Errorf("CreateTable(%q) = %v, want reserved namespace violation", name, err)
				continue
			}
			if serrors.AWSType(err) != serrors.AWSValidation {
				t.Errorf("CreateTable(%q) surfaced as %s", name, serrors.AWSType(err))
			}
			if !strings.Contains(serrors.ClientMessage(err), prefix) {
				t.Errorf("message %q does not mention the prefix", serrors.ClientMessage(err))
			}
		}
	}
}

func TestCreateTable_ValidatesNameAndKeySchema(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := []struct {
		name   string
		mutate func(*CreateTableInput)
		code   string
	}{
		{"short name", func(in *CreateTableInput) { in.TableName = "ab" }, serrors.CodeInvalidTableName},
		{"long name", func(in *CreateTableInput) { in.TableName = strings.Repeat("a", 223) }, serrors.CodeInvalidTableName},
		{"bad chars", func(in *CreateTableInput) { in.TableName = "my table" }, serrors.CodeInvalidTableName},
		{"no key", func(in *CreateTableInput) { in.KeySchema = nil }, serrors.CodeInvalidKeySchema},
		{"range first", func(in *CreateTableInput) { in.KeySchema[0].KeyType = types.KeyTypeRange }, serrors.CodeInvalidKeySchema},
		{"undefined attribute", func(in *CreateTableInput) { in.AttributeDefinitions = nil }, serrors.CodeInvalidKeySchema},
		{"bad type", func(in *CreateTableInput) { in.AttributeDefinitions[0].AttributeType = "X" }, serrors.CodeInvalidKeySchema},
		{"bad billing", func(in *CreateTableInput) { in.BillingMode = "FREE" }, serrors.CodeInvalidKeySchema},
		{"duplicate key", func(in *CreateTableInput) {
			in.KeySchema = append(in.KeySchema, types.KeySchemaElement{AttributeName: aws.String("p"), KeyType: types.KeyTypeRange})
		}, serrors.CodeInvalidKeySchema},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput("valid_name", false)
			tt.mutate(&in)
			_, err := env.router.CreateTable(ctx, anonymous, in)
			if serrors.GetCode(err) != tt.code {
				t.Errorf("got %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestCreateTable_UserTableVisibleInSystemTables(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	desc, err := env.router.CreateTable(ctx, anonymous, createInput("mytable", true))
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if aws.ToString(desc.TableName) != "mytable" || desc.TableStatus != types.TableStatusActive {
		t.Errorf("unexpected description %+v", desc)
	}
	if len(desc.KeySchema) != 2 || desc.AttributeDefinitions[1].AttributeType != types.ScalarAttributeTypeN {
		t.Errorf("unexpected key schema %+v / %+v", desc.KeySchema, desc.AttributeDefinitions)
	}

	_, err = env.router.CreateTable(ctx, anonymous, createInput("mytable", true))
	if serrors.AWSType(err) != serrors.AWSResourceInUse {
		t.Errorf("duplicate create = %v, want ResourceInUse", err)
	}

	page, err := env.router.Query(ctx, privileged, prefix+"system_schema.columns", projector.QueryRequest{
		Conditions: []projector.Condition{eq("keyspace_name", "alternator_mytable"), eq("table_name", "mytable")},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	kinds := map[string]string{}
	for _, item := range page.Items {
		kinds[str(item, "column_name")] = str(item, "kind")
	}
	if kinds["p"] != "partition_key" || kinds["c"] != "clustering" || kinds[":attrs"] != "regular" {
		t.Errorf("unexpected columns %v", kinds)
	}
}

func TestScan_UnprivilegedInternalIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{
		prefix + "alternator_mytable.mytable",
		prefix + "system_schema.tables",
		prefix + "system_schema.columns",
		prefix,
	} {
		_, err := env.router.Scan(ctx, anonymous, name, projector.ScanRequest{})
		if serrors.AWSType(err) != serrors.AWSNotFound {
			t.Errorf("Scan(%q) = %v, want ResourceNotFound", name, err)
			continue
		}
		if !strings.Contains(serrors.ClientMessage(err), prefix) {
			t.Errorf("message %q does not contain the prefix", serrors.ClientMessage(err))
		}

		_, err = env.router.Query(ctx, anonymous, name, projector.QueryRequest{
			Conditions: []projector.Condition{eq("keyspace_name", "system")},
		})
		if serrors.AWSType(err) != serrors.AWSNotFound {
			t.Errorf("Query(%q) = %v, want ResourceNotFound", name, err)
		}
	}
}

func TestNotFound_IndistinguishableFromMissingTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, missing := env.router.Scan(ctx, anonymous, "no_such_table", projector.ScanRequest{})
	_, forbidden := env.router.Scan(ctx, anonymous, prefix+"system_schema.tables", projector.ScanRequest{})
	_, unknown := env.router.Scan(ctx, privileged, prefix+"system_schema.nope", projector.ScanRequest{})

	for _, err := range []error{missing, forbidden, unknown} {
		if serrors.AWSType(err) != serrors.AWSNotFound || serrors.GetCode(err) != serrors.CodeResourceNotFound {
			t.Errorf("expected identical not-found kind, got %v", err)
		}
	}
	strip := func(err error, name string) string {
		return strings.Replace(serrors.ClientMessage(err), name, "NAME", 1)
	}
	if strip(missing, "no_such_table") != strip(forbidden, prefix+"system_schema.tables") {
		t.Errorf("messages differ in shape: %q vs %q", serrors.ClientMessage(missing), serrors.ClientMessage(forbidden))
	}
}

func TestScan_PrivilegedTablesMatchCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.router.CreateTable(ctx, anonymous, createInput("mytable", false)); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	page, err := env.router.Scan(ctx, privileged, prefix+"system_schema.tables", projector.ScanRequest{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := map[string]bool{}
	for tbl, err := range env.catalog.Tables(ctx, nil) {
		if err != nil {
			t.Fatalf("Tables failed: %v", err)
		}
		want[tbl.Keyspace+"."+tbl.Name] = true
	}
	if len(page.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(page.Items))
	}
	for _, item := range page.Items {
		key := str(item, "keyspace_name") + "." + str(item, "table_name")
		if !want[key] {
			t.Errorf("unexpected table %s", key)
		}
	}
	if !want["alternator_mytable.mytable"] {
		t.Error("user table missing from catalog")
	}
}

func TestScan_DisabledVirtualTablesDenied(t *testing.T) {
	env := newTestEnv(t, namespace.WithVirtualTablesDisabled())
	ctx := context.Background()

	_, err := env.router.Scan(ctx, privileged, prefix+"system_schema.tables", projector.ScanRequest{})
	if serrors.AWSType(err) != serrors.AWSAccessDenied {
		t.Errorf("privileged scan with virtual tables disabled = %v, want AccessDenied", err)
	}
	_, err = env.router.Scan(ctx, anonymous, prefix+"system_schema.tables", projector.ScanRequest{})
	if serrors.AWSType(err) != serrors.AWSNotFound {
		t.Errorf("unprivileged scan = %v, want ResourceNotFound", err)
	}
}

func TestUserTables_ScanAndQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.router.CreateTable(ctx, anonymous, createInput("orders", true)); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	page, err := env.router.Scan(ctx, anonymous, "orders", projector.ScanRequest{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(page.Items) != 0 || page.Cursor != "" {
		t.Errorf("expected an empty page, got %+v", page)
	}

	_, err = env.router.Query(ctx, anonymous, "orders", projector.QueryRequest{
		Conditions: []projector.Condition{eq("p", "x"), eq("c", "1")},
	})
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	_, err = env.router.Query(ctx, anonymous, "orders", projector.QueryRequest{
		Conditions: []projector.Condition{eq("c", "1")},
	})
	if serrors.GetCode(err) != serrors.CodeInvalidKeyCondition {
		t.Errorf("query without hash key = %v, want invalid key condition", err)
	}
}

func TestDeleteTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.router.CreateTable(ctx, anonymous, createInput("orders", false)); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	desc, err := env.router.DeleteTable(ctx, anonymous, "orders")
	if err != nil {
		t.Fatalf("DeleteTable failed: %v", err)
	}
	if desc.TableStatus != types.TableStatusDeleting {
		t.Errorf("status = %s, want DELETING", desc.TableStatus)
	}
	if _, err := env.router.DescribeTable(ctx, anonymous, "orders"); serrors.AWSType(err) != serrors.AWSNotFound {
		t.Errorf("describe after delete = %v", err)
	}

	tables, _ := env.catalog.KeyspaceTables(ctx, "alternator_orders")
	if len(tables) != 0 {
		t.Errorf("catalog still holds %d tables", len(tables))
	}

	for _, caller := range []Caller{anonymous, privileged} {
		_, err := env.router.DeleteTable(ctx, caller, prefix+"system_schema.tables")
		if serrors.AWSType(err) != serrors.AWSNotFound {
			t.Errorf("deleting an internal table = %v, want ResourceNotFound", err)
		}
	}
}

func TestDescribeTable_Internal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	name := prefix + "system_schema.columns"

	if _, err := env.router.DescribeTable(ctx, anonymous, name); serrors.AWSType(err) != serrors.AWSNotFound {
		t.Errorf("unprivileged describe = %v, want ResourceNotFound", err)
	}

	desc, err := env.router.DescribeTable(ctx, privileged, name)
	if err != nil {
		t.Fatalf("DescribeTable failed: %v", err)
	}
	if aws.ToString(desc.TableName) != name {
		t.Errorf("TableName = %s", aws.ToString(desc.TableName))
	}
	if len(desc.KeySchema) != 2 ||
		aws.ToString(desc.KeySchema[0].AttributeName) != "keyspace_name" ||
		aws.ToString(desc.KeySchema[1].AttributeName) != "table_name" {
		t.Errorf("unexpected key schema %+v", desc.KeySchema)
	}

	again, _ := env.router.DescribeTable(ctx, privileged, name)
	if aws.ToString(again.TableId) != aws.ToString(desc.TableId) {
		t.Error("virtual table id should be stable")
	}
}

func TestListTables_NeverListsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"bravo", "alpha", "charlie"} {
		if _, err := env.router.CreateTable(ctx, anonymous, createInput(name, false)); err != nil {
			t.Fatalf("CreateTable(%s) failed: %v", name, err)
		}
	}

	out, err := env.router.ListTables(ctx, privileged, ListTablesInput{})
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if strings.Join(out.TableNames, ",") != "alpha,bravo,charlie" {
		t.Errorf("got %v", out.TableNames)
	}

	page, err := env.router.ListTables(ctx, anonymous, ListTablesInput{Limit: 2})
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(page.TableNames) != 2 || page.LastEvaluatedTableName != "bravo" {
		t.Errorf("unexpected first page %+v", page)
	}
	rest, err := env.router.ListTables(ctx, anonymous, ListTablesInput{ExclusiveStartTableName: page.LastEvaluatedTableName})
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if strings.Join(rest.TableNames, ",") != "charlie" || rest.LastEvaluatedTableName != "" {
		t.Errorf("unexpected second page %+v", rest)
	}

	if _, err := env.router.ListTables(ctx, anonymous, ListTablesInput{Limit: 101}); serrors.AWSType(err) != serrors.AWSValidation {
		t.Errorf("limit 101 = %v", err)
	}
}

func TestStatsRecordOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.Scan(ctx, anonymous, prefix+"system_schema.tables", projector.ScanRequest{})
	env.router.Scan(ctx, privileged, prefix+"system_schema.tables", projector.ScanRequest{})
	env.router.CreateTable(ctx, anonymous, createInput(prefix+"evil", false))
	env.router.Scan(ctx, anonymous, prefix+"guess1", projector.ScanRequest{})
	env.router.Scan(ctx, anonymous, prefix+"guess2", projector.ScanRequest{})

	tables, ok := env.stats.Get(prefix + "system_schema.tables")
	if !ok {
		t.Fatal("no stats for system_schema.tables")
	}
	if tables.Outcomes[observability.OutcomeOK] != 1 || tables.Outcomes[observability.OutcomeNotFound] != 1 {
		t.Errorf("unexpected outcomes %v", tables.Outcomes)
	}

	folded, ok := env.stats.Get(prefix + "*")
	if !ok {
		t.Fatal("unregistered internal names should be folded into one key")
	}
	if folded.Operations != 3 || folded.Outcomes[observability.OutcomeReserved] != 1 {
		t.Errorf("unexpected folded stats %+v", folded)
	}
	if _, ok := env.stats.Get(prefix + "guess1"); ok {
		t.Error("unregistered names must not be tracked individually")
	}
}

func TestSystemDataTables_Privileged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		table    string
		hashKey  string
		rangeKey string
	}{
		{"system.local", "key", ""},
		{"system.peers", "peer", ""},
		{"system.size_estimates", "keyspace_name", "table_name"},
		{"system_auth.roles", "role", ""},
		{"system_distributed.service_levels", "service_level", ""},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			name := prefix + tt.table

			page, err := env.router.Scan(ctx, privileged, name, projector.ScanRequest{
				Attributes: []string{tt.hashKey},
				Limit:      50,
			})
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if page.Items == nil || len(page.Items) != 0 || page.Cursor != "" {
				t.Errorf("expected an empty page, got %+v", page)
			}

			if _, err := env.router.Query(ctx, privileged, name, projector.QueryRequest{
				Conditions: []projector.Condition{eq(tt.hashKey, "x")},
			}); err != nil {
				t.Errorf("Query failed: %v", err)
			}

			desc, err := env.router.DescribeTable(ctx, privileged, name)
			if err != nil {
				t.Fatalf("DescribeTable failed: %v", err)
			}
			if aws.ToString(desc.KeySchema[0].AttributeName) != tt.hashKey {
				t.Errorf("hash key = %s, want %s", aws.ToString(desc.KeySchema[0].AttributeName), tt.hashKey)
			}
			if tt.rangeKey == "" && len(desc.KeySchema) != 1 {
				t.Errorf("unexpected range key %+v", desc.KeySchema)
			}
			if tt.rangeKey != "" && (len(desc.KeySchema) != 2 || aws.ToString(desc.KeySchema[1].AttributeName) != tt.rangeKey) {
				t.Errorf("range key = %+v, want %s", desc.KeySchema, tt.rangeKey)
			}

			if _, err := env.router.Scan(ctx, anonymous, name, projector.ScanRequest{}); serrors.AWSType(err) != serrors.AWSNotFound {
				t.Errorf("unprivileged scan = %v, want ResourceNotFound", err)
			}
		})
	}
}

func TestSystemDataTables_DroppedAfterStartup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	name := prefix + "system.peers"

	if err := env.catalog.DropTable(ctx, "system", "peers"); err != nil {
		t.Fatalf("DropTable failed: %v", err)
	}
	_, err := env.router.Scan(ctx, privileged, name, projector.ScanRequest{})
	_, missing := env.router.Scan(ctx, privileged, "no_such_table", projector.ScanRequest{})
	if serrors.AWSType(err) != serrors.AWSNotFound {
		t.Fatalf("scan of dropped table = %v, want ResourceNotFound", err)
	}
	if strings.Replace(serrors.ClientMessage(err), name, "NAME", 1) !=
		strings.Replace(serrors.ClientMessage(missing), "no_such_table", "NAME", 1) {
		t.Errorf("messages differ: %q vs %q", serrors.ClientMessage(err), serrors.ClientMessage(missing))
	}
	if _, err := env.router.DescribeTable(ctx, privileged, name); serrors.AWSType(err) != serrors.AWSNotFound {
		t.Errorf("describe of dropped table = %v, want ResourceNotFound", err)
	}
}

func TestUserKeyspaceNamedLikeSystemStaysUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.router.CreateTable(ctx, anonymous, createInput("system", false)); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	name := prefix + "alternator_system.system"
	if c, _ := env.router.Guard().Classify(name); c != namespace.InternalUnknown {
		t.Errorf("Classify(%q) = %s, want internal_unknown", name, c)
	}
	if _, err := env.router.Scan(ctx, privileged, name, projector.ScanRequest{}); serrors.AWSType(err) != serrors.AWSNotFound {
		t.Errorf("privileged scan of a user keyspace = %v, want ResourceNotFound", err)
	}
	if _, ok := env.stats.Get(name); ok {
		t.Error("unregistered name tracked individually")
	}
}

func TestCreateTable_DuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.router.CreateTable(ctx, anonymous, createInput("orders", false)); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	_, err := env.router.CreateTable(ctx, anonymous, createInput("orders", false))
	if serrors.AWSType(err) != serrors.AWSResourceInUse {
		t.Fatalf("duplicate CreateTable = %v, want ResourceInUse", err)
	}
	if serrors.GetCategory(err) == serrors.ErrCategoryNotFound {
		t.Error("duplicate table reported as missing")
	}

	stats, ok := env.stats.Get("orders")
	if !ok {
		t.Fatal("no stats for orders")
	}
	if stats.Outcomes[observability.OutcomeConflict] != 1 || stats.Outcomes[observability.OutcomeNotFound] != 0 {
		t.Errorf("unexpected outcomes %v", stats.Outcomes)
	}
}
