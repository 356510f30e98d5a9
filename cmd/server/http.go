package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/pkg/lifecycle"
)

type httpServer struct {
	srv    *http.Server
	drain  time.Duration
	logger *slog.Logger
}

func newHTTPServer(cfg *config.ServerConfig, handler http.Handler, logger *slog.Logger) *httpServer {
	return &httpServer{
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeoutDuration(),
			WriteTimeout:      cfg.WriteTimeoutDuration(),
		},
		drain:  cfg.ShutdownTimeoutDuration(),
		logger: logger.With("system", "http"),
	}
}

// Start binds the address synchronously so a port conflict fails startup,
// then serves in the background until the coordinator shuts down.
func (h *httpServer) Start(lc *lifecycle.Coordinator) error {
	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.srv.Addr, err)
	}
	h.logger.Info("listening", "addr", ln.Addr().String())

	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("serve failed", "error", err)
		}
	}()

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.drain)
		defer cancel()

		if err := h.srv.Shutdown(ctx); err != nil {
			h.logger.Error("http drain incomplete", "error", err)
			return
		}
		h.logger.Info("http server stopped")
	})

	return nil
}
