package main

import (
	"net/http"

	"github.com/JaimeStill/marker/internal/api"
	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/internal/infrastructure"
	"github.com/JaimeStill/marker/pkg/handlers"
	"github.com/JaimeStill/marker/pkg/lifecycle"
	"github.com/JaimeStill/marker/pkg/metrics"
	"github.com/JaimeStill/marker/pkg/module"
)

// Modules holds the mounted API module and the domain whose workers start
// after startup.
type Modules struct {
	API    *module.Module
	Domain *api.Domain
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	runtime := api.NewRuntime(cfg, infra)

	domain, err := api.NewDomain(cfg, runtime)
	if err != nil {
		return nil, err
	}

	return &Modules{
		API:    api.NewModule(cfg, runtime, domain),
		Domain: domain,
	}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API)
}

func buildRouter(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondStatus(w, http.StatusOK, "ok")
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !lifecycle.AllReady(infra.Lifecycle, infra.Database, infra.Cache) {
			respondStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		respondStatus(w, http.StatusOK, "ready")
	})

	metricsHandler := metrics.Handler(infra.Metrics)
	router.HandleNative("GET /metrics", metricsHandler.ServeHTTP)

	return router
}

func respondStatus(w http.ResponseWriter, code int, status string) {
	handlers.RespondJSON(w, code, map[string]string{"status": status})
}
