package server

import (
	"context"
	"net"
	"net/http"
	"time"

	conf "github.com/clinicore/report-exporter/config"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/registry"
	"github.com/clinicore/report-exporter/registry/consul"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	config     *conf.ConsulConfig
	exitChan   chan error
	registry   registry.ServiceRegistrator
}

// BuildServer constructs the HTTP server and its Consul registration.
func BuildServer(addr string, config *conf.ConsulConfig, handler http.Handler, exitChan chan error) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("server.build.listen.error"),
		)
	}

	reg, err := consul.NewConsulRegistry(config)
	if err != nil {
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("server.build.consul_registry.error"),
		)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		exitChan: exitChan,
		config:   config,
		registry: reg,
	}, nil
}

// Start registers the service and starts serving HTTP.
func (s *Server) Start() {
	if err := s.registry.Register(); err != nil {
		s.exitChan <- err
		return
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.exitChan <- errors.Internal(
			err.Error(),
			errors.WithID("server.start.serve.error"),
		)
	}
}

// Stop deregisters the service and gracefully shuts down the HTTP server.
func (s *Server) Stop() {
	if err := s.registry.Deregister(); err != nil {
		s.exitChan <- err
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}
