package target

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
)

// Pool manages a pool of PostgreSQL connections
type Pool struct {
	pool   *pgxpool.Pool
	config *dbconfig.TargetConfig
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg *dbconfig.TargetConfig, maxConns int) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(maxConns / 4)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Debug("Connected to PostgreSQL %s:%d/%s (max %d conns)", cfg.Host, cfg.Port, cfg.Database, maxConns)
	return &Pool{pool: pool, config: cfg}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Pool returns the underlying pgxpool
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// Begin acquires a dedicated connection and opens a transaction on it.
func (p *Pool) Begin(ctx context.Context) (*Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Session{conn: conn, tx: tx, cur: tx}, nil
}
