package grpcx

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestUnaryClientRequestIDInterceptor(t *testing.T) {
	icpt := UnaryClientRequestIDInterceptor()

	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(RequestIDMetadataKey)
		return nil
	}

	ctx := WithRequestID(context.Background(), "req-1")
	if err := icpt(ctx, "/grpc.health.v1.Health/Check", nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor failed: %v", err)
	}
	if len(got) != 1 || got[0] != "req-1" {
		t.Fatalf("expected req-1, got %v", got)
	}

	if err := icpt(context.Background(), "/grpc.health.v1.Health/Check", nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor failed: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 36 {
		t.Fatalf("expected a generated id, got %v", got)
	}
}
