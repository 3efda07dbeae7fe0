package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
)

// Pool manages a pool of source connections
type Pool struct {
	db      *sql.DB
	dialect driver.Dialect
	config  *dbconfig.SourceConfig
}

// NewPool opens a source connection pool for the configured engine.
func NewPool(ctx context.Context, cfg *dbconfig.SourceConfig, maxConns int) (*Pool, error) {
	d, err := driver.Get(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialect := d.Dialect()

	dsn := dialect.BuildDSN(cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.DSNOptions())
	db, err := sql.Open(dialect.SQLDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if va, ok := dialect.(driver.ServerVersionAware); ok {
		var version string
		if err := db.QueryRowContext(ctx, va.VersionQuery()).Scan(&version); err != nil {
			db.Close()
			return nil, fmt.Errorf("reading server version: %w", err)
		}
		va.SetServerVersion(version)
		logging.Debug("Source server version %s", version)
	}

	logging.Debug("Connected to %s %s:%d/%s (max %d conns)", dialect.DBType(), cfg.Host, cfg.Port, cfg.Database, maxConns)
	return &Pool{db: db, dialect: dialect, config: cfg}, nil
}

// NewPoolFromDB wraps an existing *sql.DB.
func NewPoolFromDB(db *sql.DB, dialect driver.Dialect) *Pool {
	return &Pool{db: db, dialect: dialect}
}

// Close closes all connections in the pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database connection
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Dialect returns the source dialect.
func (p *Pool) Dialect() driver.Dialect {
	return p.dialect
}

// Open reserves one connection for a single table transfer.
func (p *Pool) Open(ctx context.Context) (*Reader, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring source connection: %w", err)
	}
	return &Reader{conn: conn, dialect: p.dialect}, nil
}
