package api

import (
	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/internal/infrastructure"
)

// Runtime extends Infrastructure with API-specific configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	MaxUploadSize int64
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	scoped := *infra
	scoped.Logger = infra.Logger.With("module", "api")
	return &Runtime{
		Infrastructure: &scoped,
		MaxUploadSize:  cfg.API.MaxUploadSizeBytes(),
	}
}
