package telemetry

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tjper/multirunner/internal/telemetry/jsoncodec"
)

func TestServerValidatesOptions(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Fatal("expected an error for an empty addr")
	}
}

func TestServerStatsRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected listen error: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	srv, err := NewServer(Options{Addr: addr})
	if err != nil {
		t.Fatalf("unexpected NewServer error: %v", err)
	}
	srv.SetSupervisorAccessors(
		func() int { return 4 },
		func() int64 { return 42 },
	)
	if err := srv.Serve(); err != nil {
		t.Fatalf("unexpected Serve error: %v", err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		ctx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsoncodec.Codec{})),
	)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	var resp StatsResponse
	if err := conn.Invoke(ctx, "/"+serviceName+"/Stats", &StatsRequest{}, &resp); err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}
	if resp.Workers != 4 {
		t.Fatalf("got workers %d, want 4", resp.Workers)
	}
	if resp.ItemsProcessed != 42 {
		t.Fatalf("got items processed %d, want 42", resp.ItemsProcessed)
	}
}
