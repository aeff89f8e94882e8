// Package admin exposes the daemon's serving state over gRPC on a Unix socket.
package admin

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/pigeon/internal/bus"
	"github.com/matheus3301/pigeon/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the chat server.
const ServiceName = "pigeon.Chat"

// Server is the admin gRPC server. Its health status follows the daemon
// state machine: SERVING only while the daemon is Serving.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewServer binds the admin socket at socketPath, replacing a stale one.
func NewServer(socketPath string, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		cancel:     cancel,
	}

	// Subscribe before reading the current state so no change is missed.
	ch, unsub := b.Subscribe("daemon.", 16)
	s.apply(machine.Current())
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.Change); ok {
					s.apply(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("admin server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop reports NOT_SERVING to watchers, shuts down and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("admin server stopping")
	s.cancel()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

func (s *Server) apply(state status.State) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if state == status.Serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.logger.Debug("health updated", zap.String("state", string(state)), zap.String("health", st.String()))
}
