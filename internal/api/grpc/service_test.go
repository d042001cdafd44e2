package grpc

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sysview/sysview/internal/api/wire"
	"github.com/sysview/sysview/internal/catalog"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/namespace"
	"github.com/sysview/sysview/internal/projector"
	"github.com/sysview/sysview/internal/router"
)

const prefix = namespace.DefaultPrefix

func newConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	f, err := os.CreateTemp("", "grpc_test_*.db")
	require.NoError(t, err)
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	cat, err := catalog.NewCatalog(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	require.NoError(t, catalog.Bootstrap(context.Background(), cat))

	known, err := projector.KnownTables(context.Background(), cat)
	require.NoError(t, err)
	r := router.New(namespace.NewGuard(known), projector.New(cat),
		router.NewCatalogTables(cat, cat), nil, nil)
	privileged := func(akid string) bool { return akid == "admin" }

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewServer(wire.NewDispatcher(r), privileged, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
	return out, err
}

func asAdmin(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, AccessKeyMetadata, "admin")
}

func TestScan_Privileged(t *testing.T) {
	conn := newConn(t)
	ctx := asAdmin(context.Background())

	var header metadata.MD
	out, err := invoke(ctx, conn, "Scan", map[string]interface{}{
		"TableName": prefix + "system_schema.keyspaces",
	}, grpc.Header(&header))
	require.NoError(t, err)

	items := out.Fields["Items"].GetListValue().GetValues()
	assert.Len(t, items, 4)
	assert.EqualValues(t, 4, out.Fields["Count"].GetNumberValue())
	assert.NotEmpty(t, header.Get(RequestIDMetadata))

	first := items[0].GetStructValue().Fields["keyspace_name"].GetStructValue()
	assert.NotEmpty(t, first.Fields["S"].GetStringValue())
}

func TestScan_PaginatesWithCursor(t *testing.T) {
	conn := newConn(t)
	ctx := asAdmin(context.Background())
	table := prefix + "system_schema.tables"

	req := map[string]interface{}{"TableName": table, "Limit": 3}
	seen := 0
	for pages := 0; ; pages++ {
		require.Less(t, pages, 100)
		out, err := invoke(ctx, conn, "Scan", req)
		require.NoError(t, err)
		seen += len(out.Fields["Items"].GetListValue().GetValues())

		lek, ok := out.Fields["LastEvaluatedKey"]
		if !ok {
			break
		}
		req = map[string]interface{}{"TableName": table, "Limit": 3, "ExclusiveStartKey": lek.AsInterface()}
	}
	assert.Equal(t, 8, seen)
}

func TestQuery(t *testing.T) {
	conn := newConn(t)
	out, err := invoke(asAdmin(context.Background()), conn, "Query", map[string]interface{}{
		"TableName":              prefix + "system_schema.tables",
		"KeyConditionExpression": "keyspace_name = :ks",
		"ExpressionAttributeValues": map[string]interface{}{
			":ks": map[string]interface{}{"S": "system_schema"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, out.Fields["Items"].GetListValue().GetValues(), 3)
}

func TestCreateAndDescribe(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()

	out, err := invoke(ctx, conn, "CreateTable", map[string]interface{}{
		"TableName": "orders",
		"KeySchema": []interface{}{
			map[string]interface{}{"AttributeName": "id", "KeyType": "HASH"},
		},
		"AttributeDefinitions": []interface{}{
			map[string]interface{}{"AttributeName": "id", "AttributeType": "S"},
		},
		"BillingMode": "PAY_PER_REQUEST",
	})
	require.NoError(t, err)
	desc := out.Fields["TableDescription"].GetStructValue()
	assert.Equal(t, "orders", desc.Fields["TableName"].GetStringValue())

	out, err = invoke(ctx, conn, "DescribeTable", map[string]interface{}{"TableName": "orders"})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", out.Fields["Table"].GetStructValue().Fields["TableStatus"].GetStringValue())
}

func TestErrorCodes(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ctx    context.Context
		method string
		req    map[string]interface{}
		code   codes.Code
	}{
		{
			name:   "internal table hidden from unprivileged caller",
			ctx:    ctx,
			method: "Scan",
			req:    map[string]interface{}{"TableName": prefix + "system_schema.keyspaces"},
			code:   codes.NotFound,
		},
		{
			name:   "missing table",
			ctx:    ctx,
			method: "DescribeTable",
			req:    map[string]interface{}{"TableName": "nope"},
			code:   codes.NotFound,
		},
		{
			name:   "reserved prefix",
			ctx:    asAdmin(ctx),
			method: "CreateTable",
			req: map[string]interface{}{
				"TableName":            prefix + "mine",
				"KeySchema":            []interface{}{},
				"AttributeDefinitions": []interface{}{},
			},
			code: codes.InvalidArgument,
		},
		{
			name:   "bad limit",
			ctx:    asAdmin(ctx),
			method: "Scan",
			req:    map[string]interface{}{"TableName": prefix + "system_schema.keyspaces", "Limit": 0},
			code:   codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(tt.ctx, conn, tt.method, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{serrors.NewValidationError(serrors.CodeInvalidParameter, "bad"), codes.InvalidArgument},
		{serrors.NewValidationError(serrors.CodeUnknownOperation, "bad"), codes.Unimplemented},
		{serrors.NewNotFoundError("missing"), codes.NotFound},
		{serrors.NewAccessDeniedError("no"), codes.PermissionDenied},
		{serrors.NewInternalError("boom", os.ErrClosed), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}
