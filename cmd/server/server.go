package main

import (
	"context"
	"fmt"
	"time"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/internal/infrastructure"
)

// Server owns the infrastructure, the mounted modules, and the listener.
type Server struct {
	infra   *infrastructure.Infrastructure
	modules *Modules
	http    *httpServer
}

// NewServer builds every system without connecting anything.
func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(infra, cfg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra)
	modules.Mount(router)

	infra.Logger.Info("server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"env", cfg.Env(),
	)

	return &Server{
		infra:   infra,
		modules: modules,
		http:    newHTTPServer(&cfg.Server, router, infra.Logger),
	}, nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	if err := s.start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.infra.Logger.Info("initiating shutdown", "timeout", timeout)

	if err := s.infra.Lifecycle.Shutdown(timeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.infra.Logger.Info("shutdown complete")
	return nil
}

// start connects the infrastructure and opens the listener. Worker pools
// start once every startup hook has returned.
func (s *Server) start() error {
	lc := s.infra.Lifecycle

	if err := s.infra.Start(); err != nil {
		return err
	}
	if err := s.http.Start(lc); err != nil {
		return err
	}

	go func() {
		lc.WaitForStartup()
		if lc.Context().Err() != nil {
			return
		}
		s.modules.Domain.Start(lc)
		s.infra.Logger.Info("all subsystems ready")
	}()

	return nil
}
