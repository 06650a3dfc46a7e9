package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/fedsync/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientRequestIDInterceptor propagates request id from context into outgoing metadata.
//
// Priority:
// 1) httpx.RequestIDFromContext (status API request -> gRPC probe)
// 2) grpcx.RequestIDFromContext (explicitly tagged context)
// 3) a fresh id, so backend logs can still be correlated with client logs
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		id := httpx.RequestIDFromContext(ctx)
		if id == "" {
			id = RequestIDFromContext(ctx)
		}
		if id == "" {
			id = httpx.NewRequestID()
		}
		ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
