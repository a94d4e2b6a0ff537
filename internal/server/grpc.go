package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer hosts the standard gRPC health service plus reflection, so
// orchestrators probe the process and grpcurl/grpcui can inspect it. The
// query and admin surface is served over HTTP/JSON (see HTTPServer).
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	grpcAddr     string
	log          zerolog.Logger
}

func NewGRPCServer(grpcAddr string, log zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		log:          log.With().Str("component", "grpc_server").Logger(),
	}
}

// SetServing flips the gRPC health status once recovery completes.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// Start runs the gRPC server until ctx is cancelled (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
