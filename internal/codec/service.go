package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region methods
const serviceName = "companion.v1.Collaborator"

const (
	MethodChat     = "Chat"
	MethodEmbed    = "Embed"
	MethodRetrieve = "Retrieve"
	MethodAdd      = "Add"
	MethodExecute  = "Execute"
)

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// #endregion methods

// #region server
// CollaboratorServer is the server side of the collaborator service.
type CollaboratorServer interface {
	Chat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Embed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retrieve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedCollaboratorServer answers Unimplemented for every method.
type UnimplementedCollaboratorServer struct{}

func (UnimplementedCollaboratorServer) Chat(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "Chat not implemented")
}

func (UnimplementedCollaboratorServer) Embed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "Embed not implemented")
}

func (UnimplementedCollaboratorServer) Retrieve(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "Retrieve not implemented")
}

func (UnimplementedCollaboratorServer) Add(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "Add not implemented")
}

func (UnimplementedCollaboratorServer) Execute(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "Execute not implemented")
}

// RegisterCollaboratorServer attaches srv to a gRPC server.
func RegisterCollaboratorServer(s grpc.ServiceRegistrar, srv CollaboratorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// #endregion server

// #region descriptor
type unaryCall func(CollaboratorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CollaboratorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		next := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CollaboratorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, next)
	}
}

// ServiceDesc describes the collaborator service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CollaboratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodChat, Handler: handler(MethodChat, CollaboratorServer.Chat)},
		{MethodName: MethodEmbed, Handler: handler(MethodEmbed, CollaboratorServer.Embed)},
		{MethodName: MethodRetrieve, Handler: handler(MethodRetrieve, CollaboratorServer.Retrieve)},
		{MethodName: MethodAdd, Handler: handler(MethodAdd, CollaboratorServer.Add)},
		{MethodName: MethodExecute, Handler: handler(MethodExecute, CollaboratorServer.Execute)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "companion/v1/collaborator.proto",
}

// #endregion descriptor
