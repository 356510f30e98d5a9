// Package infrastructure assembles the shared systems every domain package
// depends on: logging, Postgres, blob storage, Redis, and the metrics
// registry.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/pkg/cache"
	"github.com/JaimeStill/marker/pkg/database"
	"github.com/JaimeStill/marker/pkg/lifecycle"
	"github.com/JaimeStill/marker/pkg/metrics"
	"github.com/JaimeStill/marker/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Cache     cache.System
	Metrics   *prometheus.Registry
}

// New creates an Infrastructure from the application configuration.
// Systems are constructed but not connected; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	c, err := cache.New(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Cache:     c,
		Metrics:   metrics.NewRegistry(),
	}, nil
}

// Start registers the connection hooks of every system with the lifecycle
// coordinator.
func (i *Infrastructure) Start() error {
	starters := []struct {
		name  string
		start func(*lifecycle.Coordinator) error
	}{
		{"database", i.Database.Start},
		{"storage", i.Storage.Start},
		{"cache", i.Cache.Start},
	}
	for _, s := range starters {
		if err := s.start(i.Lifecycle); err != nil {
			return fmt.Errorf("%s start failed: %w", s.name, err)
		}
	}
	return nil
}
