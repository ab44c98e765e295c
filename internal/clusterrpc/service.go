package clusterrpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path this package registers under -
// written by hand in the shape protoc-gen-go-grpc would otherwise
// generate from a .proto file, since ClusterRPC's wire messages are
// plain JSON-coded structs rather than protobuf messages.
const serviceName = "relay.clusterrpc.ClusterRPC"

// Handler is what a node's gRPC server dispatches ForwardMutation/
// ForwardAction calls to - implemented by Server, which runs them
// against its local facade.Facade.
type Handler interface {
	ForwardMutation(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error)
	ForwardAction(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error)
}

func forwardMutationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ForwardCallRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).ForwardMutation(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ForwardMutation"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).ForwardMutation(ctx, req.(*ForwardCallRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func forwardActionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ForwardCallRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).ForwardAction(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ForwardAction"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).ForwardAction(ctx, req.(*ForwardCallRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is registered with a *grpc.Server by NewServer.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ForwardMutation", Handler: forwardMutationHandler},
		{MethodName: "ForwardAction", Handler: forwardActionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clusterrpc",
}
