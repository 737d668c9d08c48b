package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/vietddude/catalog-etl/internal/ingestion/metrics"
)

// Supported database/sql driver names.
const (
	DriverPgx    = "pgx"
	DriverPQ     = "postgres"
	DriverSQLite = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds relational sink connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Driver    string `yaml:"driver"`
	MaxConns  int    `yaml:"max_conns"`
	MinConns  int    `yaml:"min_conns"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// Validate checks the driver and connection string without connecting.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPgx, DriverPQ:
		if _, err := pgx.ParseConfig(c.URL); err != nil {
			return fmt.Errorf("invalid postgres connection string: %w", err)
		}
	case DriverSQLite:
		if c.URL == "" {
			return errors.New("sqlite database path is empty")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	return nil
}

// DB wraps the relational sink connection pool.
type DB struct {
	*sqlx.DB
	driver string
}

// NewDB creates a new database connection pool and verifies it is reachable.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenDB creates the connection pool without connecting. Connectivity
// problems surface on first use.
func OpenDB(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPgx
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case cfg.Driver == DriverSQLite && cfg.URL == ":memory:":
		// Every connection to :memory: opens a separate database.
		db.SetMaxOpenConns(1)
	case cfg.Driver == DriverSQLite:
		db.SetMaxOpenConns(max(cfg.MaxConns, 2))
		db.SetMaxIdleConns(max(cfg.MaxConns, 2))
	default:
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		} else {
			db.SetMaxOpenConns(4)
		}
		if cfg.MinConns > 0 {
			db.SetMaxIdleConns(cfg.MinConns)
		} else {
			db.SetMaxIdleConns(1)
		}
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	return &DB{DB: db, driver: cfg.Driver}, nil
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// StartMetricsCollector samples pool usage until ctx is done.
func (db *DB) StartMetricsCollector(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.recordPoolUsage()
			}
		}
	}()
}

func (db *DB) recordPoolUsage() {
	stats := db.Stats()
	// MaxOpenConnections is 0 when unlimited.
	if stats.MaxOpenConnections > 0 {
		usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
		metrics.DBConnectionPoolUsage.Set(usage)
	}
}

// Health checks if the database is reachable.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
