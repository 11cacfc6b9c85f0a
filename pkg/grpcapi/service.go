// Package grpcapi implements the gRPC control service for nicqosd.
//
// The service is described by a hand-maintained grpc.ServiceDesc. Requests
// and replies are google.protobuf.Struct values carrying the same JSON
// objects as the HTTP API, so both surfaces share one set of wire types.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nicqos.v1.Control"

// ControlServer is the server API for the Control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatistics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetProfile(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ApplyProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFeature(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Restart(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Rollback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// unary builds the method descriptor for one RPC.
func unary[Req any](method string, newReq func() Req, call func(ControlServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			})
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for the Control service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, ControlServer.GetStatus),
		unary("GetStatistics", newEmpty, ControlServer.GetStatistics),
		unary("GetProfile", newEmpty, ControlServer.GetProfile),
		unary("ApplyProfile", newStruct, ControlServer.ApplyProfile),
		unary("SetFeature", newStruct, ControlServer.SetFeature),
		unary("Restart", newEmpty, ControlServer.Restart),
		unary("Rollback", newStruct, ControlServer.Rollback),
		unary("Classify", newStruct, ControlServer.Classify),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nicqos/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// toStruct encodes v as a Struct through its JSON form. Numbers become
// doubles, so counters above 2^53 lose precision.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return s, nil
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
