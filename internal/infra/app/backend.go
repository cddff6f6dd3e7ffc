package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/config"
	"github.com/arklim/token-revocation/internal/infra/database"
	redisinfra "github.com/arklim/token-revocation/internal/infra/redis"
	postgresrepo "github.com/arklim/token-revocation/internal/repository/postgres"
	redisrepo "github.com/arklim/token-revocation/internal/repository/redis"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Backend bundles the durable revocation store with the connections it owns.
type Backend struct {
	Name  string
	Store port.DurableRevocationStore
	// Reaper is set for the PostgreSQL backend only; Redis expires keys itself.
	Reaper    *postgresrepo.Reaper
	Snapshots port.RevocationSnapshotStore
	Redis     *redisinfra.Client
	Pool      *pgxpool.Pool
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck pings the durable store.
func (b *Backend) HealthCheck(ctx context.Context) error {
	if checker, ok := b.Store.(healthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return nil
}

// OpenBackend connects the configured durable backend. Redis is also used for local cache snapshots;
// with the PostgreSQL backend a Redis outage only disables snapshots.
func OpenBackend(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Revocation.DurableBackend))
	backend := &Backend{Name: name}

	switch name {
	case BackendRedis:
		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		backend.Redis = client
		backend.Store = redisrepo.NewRevocationRepository(client.Client(), cfg.Redis.RevocationPrefix, cfg.Redis.UserIndexPrefix)

	case BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		backend.Pool = pool
		repo := postgresrepo.NewRevocationRepository(pool)
		backend.Store = repo
		backend.Reaper = postgresrepo.NewReaper(repo, cfg.Revocation.ReapInterval, log)

		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, local revocation snapshots disabled", zap.Error(err))
		} else {
			backend.Redis = client
		}

	default:
		return nil, fmt.Errorf("unsupported durable backend %q", cfg.Revocation.DurableBackend)
	}

	if backend.Redis != nil {
		backend.Snapshots = redisrepo.NewSnapshotRepository(backend.Redis.Client(), cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL)
	}

	log.Info("durable revocation backend ready", zap.String("backend", name))
	return backend, nil
}

// Close releases the backend connections.
func (b *Backend) Close() {
	if b.Reaper != nil {
		b.Reaper.Stop()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
