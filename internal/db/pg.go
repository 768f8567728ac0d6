package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/balance-ledger/internal/config"
)

// NewPool opens the pool and pings it, retrying DBConnectRetries times.
func NewPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = cfg.DBMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	attempts := max(cfg.DBConnectRetries, 1)
	for i := 1; ; i++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pctx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if i >= attempts {
			break
		}
		slog.Warn("database not reachable, retrying", "attempt", i, "delay", cfg.DBConnectRetryDelay, "err", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.DBConnectRetryDelay):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}
