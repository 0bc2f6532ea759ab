package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/windops/internal/config"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// Connect opens the job history pool. The first ping is retried with
// doubling backoff because the database often starts alongside the server.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = "windops"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pingWithRetry(ctx, pool.Ping, connectAttempts, connectBackoff); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func pingWithRetry(ctx context.Context, ping func(context.Context) error, attempts int, backoff time.Duration) error {
	var err error
	for i := 1; ; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if i >= attempts {
			return err
		}
		slog.Warn("database not ready, retrying", "attempt", i, "error", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
