// Package cache provides the Redis connection shared by session state,
// work queues, review locks, and event logs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/marker/pkg/lifecycle"
)

// System manages the Redis client and lifecycle coordination.
type System interface {
	// Client returns the underlying Redis client.
	Client() *redis.Client
	// Key joins parts under the configured key prefix.
	Key(parts ...string) string
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup ping succeeded.
	Ready() bool
}

type cache struct {
	client      *redis.Client
	prefix      string
	logger      *slog.Logger
	dialTimeout time.Duration
	ready       atomic.Bool
}

// New creates a cache system. The client connects lazily; Start verifies
// connectivity.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeoutDuration(),
	})

	return &cache{
		client:      client,
		prefix:      cfg.KeyPrefix,
		logger:      logger.With("system", "cache"),
		dialTimeout: cfg.DialTimeoutDuration(),
	}, nil
}

// NewFromClient wraps an existing client, used when the caller owns the
// connection (tests, embedded tooling).
func NewFromClient(client *redis.Client, prefix string, logger *slog.Logger) System {
	return &cache{
		client:      client,
		prefix:      prefix,
		logger:      logger.With("system", "cache"),
		dialTimeout: 5 * time.Second,
	}
}

func (c *cache) Client() *redis.Client {
	return c.client
}

func (c *cache) Ready() bool {
	return c.ready.Load()
}

func (c *cache) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

func (c *cache) Start(lc *lifecycle.Coordinator) error {
	c.logger.Info("starting cache connection")

	lc.OnStartup(func() {
		pingCtx, cancel := context.WithTimeout(lc.Context(), c.dialTimeout)
		defer cancel()

		if err := c.client.Ping(pingCtx).Err(); err != nil {
			c.logger.Error("cache ping failed", "error", err)
			return
		}

		c.ready.Store(true)
		c.logger.Info("cache connection established")
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		c.ready.Store(false)
		c.logger.Info("closing cache connection")

		if err := c.client.Close(); err != nil {
			c.logger.Error("cache close failed", "error", fmt.Errorf("close redis: %w", err))
			return
		}

		c.logger.Info("cache connection closed")
	})

	return nil
}
