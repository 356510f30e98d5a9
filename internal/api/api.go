// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/pkg/middleware"
	"github.com/JaimeStill/marker/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
func NewModule(cfg *config.Config, runtime *Runtime, domain *Domain) *module.Module {
	mux := http.NewServeMux()
	registerRoutes(mux, domain, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.Recover(runtime.Logger))
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(middleware.CORS(&cfg.API.CORS))

	return m
}
