// Package database manages the PostgreSQL connection pool that backs job
// and question card persistence.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/marker/pkg/lifecycle"
)

// System is the lifecycle-aware connection pool.
type System interface {
	Connection() *sql.DB
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup ping succeeded and shutdown has not
	// begun.
	Ready() bool
}

type pool struct {
	db      *sql.DB
	timeout time.Duration
	ready   atomic.Bool
	log     *slog.Logger
}

// New configures the pool. No connection is made until the startup hook
// pings the server.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	return &pool{
		db:      db,
		timeout: cfg.ConnTimeoutDuration(),
		log:     logger.With("system", "database"),
	}, nil
}

func (p *pool) Connection() *sql.DB { return p.db }

func (p *pool) Ready() bool { return p.ready.Load() }

func (p *pool) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := p.ping(lc.Context()); err != nil {
			p.log.Error("database unreachable", "error", err)
			return
		}
		p.ready.Store(true)
		p.log.Info("database connected", "max_open", p.db.Stats().MaxOpenConnections)
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		p.ready.Store(false)
		if err := p.db.Close(); err != nil {
			p.log.Error("database close failed", "error", err)
			return
		}
		p.log.Info("database closed")
	})

	return nil
}

func (p *pool) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}
