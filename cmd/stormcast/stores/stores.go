// Package stores opens the snapshot and measurement backends selected by
// configuration.
package stores

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/stormcast/cmd/stormcast/config"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/storage"
)

const memoryCleanupInterval = 5 * time.Minute

// Snapshots opens the snapshot store. The returned close function is never
// nil.
func Snapshots(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func() error, error) {
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("using redis snapshot store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		return rs, rs.Close, nil
	case "memory", "":
		ms := storage.NewMemoryStoreWithTTL(cfg.RedisTTL, memoryCleanupInterval)
		logger.Info("using in-memory snapshot store", "ttl", cfg.RedisTTL)
		return ms, func() error { ms.Stop(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage)
	}
}

// Measurements opens the measurement store. A memory store is preloaded
// from cfg.ImportFile when set.
func Measurements(ctx context.Context, cfg *config.Config, logger *slog.Logger) (measurement.Store, func() error, error) {
	switch cfg.Measurements {
	case "clickhouse":
		cs, err := measurement.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		if err := cs.EnsureSchema(ctx); err != nil {
			_ = cs.Close()
			return nil, nil, err
		}
		n, err := cs.Count(ctx)
		if err != nil {
			logger.Warn("failed to count measurements", "error", err)
		}
		logger.Info("using clickhouse measurement store",
			"addr", cfg.ClickHouse.Addr,
			"table", cfg.ClickHouse.Table,
			"rows", n,
		)
		return cs, cs.Close, nil
	case "memory", "":
		ms := measurement.NewMemoryStore()
		if cfg.ImportFile != "" {
			rows, err := measurement.ReadFile(cfg.ImportFile)
			if err != nil {
				return nil, nil, err
			}
			ms.Upsert(rows...)
			logger.Info("preloaded measurements", "file", cfg.ImportFile, "rows", ms.Len())
		}
		return ms, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown measurement store: %s", cfg.Measurements)
	}
}
