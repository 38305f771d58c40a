package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the collected metrics over HTTP on /metrics.
type Server struct {
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener
}

// StartServer begins listening on the given address and serving metrics.
func StartServer(address string, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{
		logger:   logger,
		server:   &http.Server{Handler: mux},
		listener: listener,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.Stringer("address", listener.Addr()))
	return s, nil
}

// Address the server is listening on.
func (s *Server) Address() net.Addr {
	return s.listener.Addr()
}

// Close shuts the server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
