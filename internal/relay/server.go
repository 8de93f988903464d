package relay

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC listener of the relay.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	hub        *Hub
	logger     *zap.Logger
}

// NewServer binds a TCP listener on addr and registers hub.
func NewServer(addr string, hub *Hub, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	RegisterRelayServer(srv, hub)
	return &Server{
		grpcServer: srv,
		listener:   listener,
		hub:        hub,
		logger:     logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("relay starting", zap.String("addr", s.listener.Addr().String()))
	return s.grpcServer.Serve(s.listener)
}

// Stop ends every stream and shuts the server down.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("relay stopping")
	s.hub.Close()
	s.grpcServer.GracefulStop()
}
