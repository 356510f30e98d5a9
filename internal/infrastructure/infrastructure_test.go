package infrastructure_test

import (
	"testing"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/internal/infrastructure"
	"github.com/JaimeStill/marker/pkg/cache"
	"github.com/JaimeStill/marker/pkg/database"
	"github.com/JaimeStill/marker/pkg/storage"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Database: database.Config{Name: "marker", User: "marker", Password: "marker"},
		Storage:  storage.Config{Provider: storage.ProviderMemory},
		Redis:    cache.Config{Addr: "localhost:6379"},
	}
	if err := cfg.Database.Finalize(nil); err != nil {
		t.Fatalf("database config: %v", err)
	}
	if err := cfg.Storage.Finalize(nil); err != nil {
		t.Fatalf("storage config: %v", err)
	}
	if err := cfg.Redis.Finalize(nil); err != nil {
		t.Fatalf("redis config: %v", err)
	}
	return cfg
}

func TestNew(t *testing.T) {
	infra, err := infrastructure.New(validConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer infra.Database.Connection().Close()

	if infra.Lifecycle == nil || infra.Logger == nil || infra.Metrics == nil {
		t.Fatal("core systems not initialized")
	}
	if _, ok := infra.Storage.(*storage.Memory); !ok {
		t.Errorf("storage: got %T, want *storage.Memory", infra.Storage)
	}
	if infra.Database.Ready() || infra.Cache.Ready() {
		t.Error("systems ready before start")
	}
	if got := infra.Cache.Key("x"); got != "marker:x" {
		t.Errorf("cache key: got %s", got)
	}
}

func TestNewAzureRequiresValidConnection(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage = storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "pages",
		ConnectionString: "not-a-connection-string",
	}

	if _, err := infrastructure.New(cfg); err == nil {
		t.Error("expected storage init error")
	}
}
