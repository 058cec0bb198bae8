// Package telemetry is the optional gRPC side channel giving external
// observers a network-reachable view of a run's pool: worker count, items
// processed, and average CPU/RSS. spec.md §1 describes resource telemetry
// only as "an observer interface"; this package gives it the concrete,
// optional shape described in SPEC_FULL.md. It registers a JSON
// encoding.Codec (internal/telemetry/jsoncodec) in place of protoc-
// generated protobuf messages, since this repository's build never runs
// protoc.
package telemetry

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/tjper/multirunner/internal/encrypt"
	"github.com/tjper/multirunner/internal/runner/stats"
	"github.com/tjper/multirunner/internal/telemetry/jsoncodec"
	"github.com/tjper/multirunner/internal/validator"
)

// Options configures a Server.
type Options struct {
	// Addr is the network address to listen on, e.g. ":9443".
	Addr string
	// CertFile, KeyFile, CACert, when any is non-empty, enable mTLS via
	// internal/encrypt.NewServermTLSConfig, and NewServer fails unless all
	// three name usable files. When all are empty the server serves in the
	// clear -- acceptable only because telemetry carries no job
	// input/output, merely aggregate counters.
	CertFile string
	KeyFile  string
	CACert   string
}

func (o Options) validate() error {
	v := validator.New()
	v.Assert(o.Addr != "", "telemetry addr must not be empty")
	return v.Err()
}

// Server wraps a *grpc.Server exposing the Stats RPC over a Collector
// supplied after construction (the supervisor's collector does not exist
// until runner.New has been called).
type Server struct {
	addr       string
	grpcServer *grpc.Server
	listener   net.Listener

	collector      *stats.Collector
	workerCount    func() int
	itemsProcessed func() int64
}

// NewServer builds a Server listening on opts.Addr, optionally with mTLS.
// It does not start serving; call Serve.
func NewServer(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	serverOpts := []grpc.ServerOption{grpc.ForceServerCodec(jsoncodec.Codec{})}

	if opts.CertFile != "" || opts.KeyFile != "" || opts.CACert != "" {
		tlsConfig, err := encrypt.NewServermTLSConfig(opts.CertFile, opts.KeyFile, opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("telemetry TLS config: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	srv := &Server{addr: opts.Addr, grpcServer: grpcServer}
	grpcServer.RegisterService(&serviceDesc, srv)

	return srv, nil
}

// SetCollector wires the live stats.Collector the Stats RPC reports CPU/RSS
// averages from (pool accessors are wired by SetSupervisorAccessors).
// Called once, before Serve, by the CLI after the Supervisor has been
// constructed.
func (s *Server) SetCollector(c *stats.Collector) { s.collector = c }

// SetSupervisorAccessors wires the live worker-count/items-processed
// readers the Stats RPC reports. Optional: if unset, those fields report
// zero.
func (s *Server) SetSupervisorAccessors(workerCount func() int, itemsProcessed func() int64) {
	s.workerCount = workerCount
	s.itemsProcessed = itemsProcessed
}

// Serve starts listening and accepting RPCs on its own goroutine. Call
// Stop to shut down.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = lis

	go func() {
		_ = s.grpcServer.Serve(lis)
	}()
	return nil
}

// Stop gracefully stops the server, closing its listener.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) handleStats(_ context.Context, _ *StatsRequest) (*StatsResponse, error) {
	resp := &StatsResponse{}

	if s.workerCount != nil {
		resp.Workers = s.workerCount()
	}
	if s.itemsProcessed != nil {
		resp.ItemsProcessed = s.itemsProcessed()
	}
	if s.collector != nil {
		avg := s.collector.Aggregate()
		resp.CPUFraction = avg.CPUFraction
		resp.RSSBytes = avg.RSSBytes
	}

	return resp, nil
}
