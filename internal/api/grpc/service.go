// Package grpc serves the virtual table operations over gRPC. Requests and
// responses are google.protobuf.Struct messages carrying the DynamoDB JSON
// shapes, so the service needs no generated code of its own.
package grpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sysview/sysview/internal/api/wire"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/router"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sysview.v1.VirtualTables"

// Metadata keys.
const (
	AccessKeyMetadata = "x-access-key-id"
	RequestIDMetadata = "x-request-id"
)

// VirtualTablesServer is the server API of the VirtualTables service.
type VirtualTablesServer interface {
	Scan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeTable(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the VirtualTables service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VirtualTablesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: router.OpScan, Handler: unaryHandler(router.OpScan, VirtualTablesServer.Scan)},
		{MethodName: router.OpQuery, Handler: unaryHandler(router.OpQuery, VirtualTablesServer.Query)},
		{MethodName: router.OpCreateTable, Handler: unaryHandler(router.OpCreateTable, VirtualTablesServer.CreateTable)},
		{MethodName: router.OpDescribeTable, Handler: unaryHandler(router.OpDescribeTable, VirtualTablesServer.DescribeTable)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sysview/v1/virtual_tables.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv VirtualTablesServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(VirtualTablesServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VirtualTablesServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(VirtualTablesServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements VirtualTablesServer on top of the wire dispatcher.
type Server struct {
	dispatcher *wire.Dispatcher
	privileged func(accessKeyID string) bool
	logger     *zap.Logger
}

// NewServer creates a gRPC server implementation. privileged may be nil, in
// which case no caller is privileged.
func NewServer(dispatcher *wire.Dispatcher, privileged func(string) bool, logger *zap.Logger) *Server {
	if privileged == nil {
		privileged = func(string) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dispatcher: dispatcher, privileged: privileged, logger: logger.Named("grpc")}
}

// Scan reads one page of a table.
func (s *Server) Scan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, router.OpScan, req)
}

// Query reads one page of a table restricted by key conditions.
func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, router.OpQuery, req)
}

// CreateTable creates a user table.
func (s *Server) CreateTable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, router.OpCreateTable, req)
}

// DescribeTable describes a table.
func (s *Server) DescribeTable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, router.OpDescribeTable, req)
}

func (s *Server) call(ctx context.Context, op string, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadata, requestID))

	body, err := protojson.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	akid := accessKeyID(ctx)
	caller := router.Caller{AccessKeyID: akid, Privileged: s.privileged(akid)}

	resp, err := s.dispatcher.Handle(ctx, caller, op, body)
	if err != nil {
		if serrors.AWSType(err) == serrors.AWSInternalError {
			s.logger.Error("request failed",
				zap.String("op", op),
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		return nil, toStatus(err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps an error onto a gRPC status. Not-found and forbidden
// internal tables share codes.NotFound.
func toStatus(err error) error {
	msg := serrors.ClientMessage(err)
	switch serrors.AWSType(err) {
	case serrors.AWSValidation, serrors.AWSSerialization:
		return status.Error(codes.InvalidArgument, msg)
	case serrors.AWSUnknownOperation:
		return status.Error(codes.Unimplemented, msg)
	case serrors.AWSNotFound:
		return status.Error(codes.NotFound, msg)
	case serrors.AWSResourceInUse:
		return status.Error(codes.AlreadyExists, msg)
	case serrors.AWSAccessDenied:
		return status.Error(codes.PermissionDenied, msg)
	}
	if serrors.IsRetryable(err) {
		return status.Error(codes.Unavailable, msg)
	}
	return status.Error(codes.Internal, msg)
}

func accessKeyID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(AccessKeyMetadata); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDMetadata); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
