package telemetry

import (
	"context"

	"google.golang.org/grpc"
)

// StatsRequest is the (empty) request message for the Stats RPC.
type StatsRequest struct{}

// StatsResponse is the pool snapshot returned by the Stats RPC: worker
// count, items processed so far, and the pool's average CPU fraction/RSS
// bytes as observed by the stats collector.
type StatsResponse struct {
	Workers        int     `json:"workers"`
	ItemsProcessed int64   `json:"items_processed"`
	CPUFraction    float64 `json:"cpu_fraction"`
	RSSBytes       float64 `json:"rss_bytes"`
}

// serviceName is the fully qualified gRPC service name multirunner's
// telemetry client and server agree on.
const serviceName = "multirunner.telemetry.Telemetry"

// serviceDesc is multirunner's hand-written analogue of a protoc-generated
// _grpc.pb.go's ServiceDesc: one unary method, Stats, dispatched straight
// to (*Server).handleStats via the JSON codec registered in jsoncodec.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*telemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stats",
			Handler:    statsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/telemetry/service.go",
}

// telemetryServer is the interface grpc.ServiceDesc dispatches onto; it
// exists purely so HandlerType documents the expected receiver shape.
type telemetryServer interface {
	handleStats(context.Context, *StatsRequest) (*StatsResponse, error)
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(telemetryServer).handleStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/Stats",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(telemetryServer).handleStats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}
