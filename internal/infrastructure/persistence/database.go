package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ucp/merchant/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported durable drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteMemory = ":memory:"

// Database is an open GORM connection and its pool
type Database struct {
	DB     *gorm.DB
	Driver string

	pool *sql.DB
}

// Option configures NewDatabase
type Option func(*gorm.Config)

// WithLogger sets the gorm logger, e.g. logger.NewGormLogger
func WithLogger(l logger.Interface) Option {
	return func(c *gorm.Config) { c.Logger = l }
}

// NewDatabase opens and pings the configured database
func NewDatabase(cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	var (
		dialector gorm.Dialector
		memory    bool
	)
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = sqliteMemory
		}
		memory = path == sqliteMemory
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gcfg := &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		// sqlite in-memory connections do not share prepared statements
		PrepareStmt: cfg.Driver == DriverPostgres,
	}
	for _, opt := range opts {
		opt(gcfg)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s connection pool: %w", cfg.Driver, err)
	}

	if memory {
		// each :memory: connection is its own database
		pool.SetMaxOpenConns(1)
	} else {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return &Database{DB: db, Driver: cfg.Driver, pool: pool}, nil
}

// AutoMigrate creates the session table on sqlite. Postgres schemas are
// owned by cmd/migrate.
func (d *Database) AutoMigrate() error {
	if d.Driver == DriverPostgres {
		return nil
	}
	if err := d.DB.AutoMigrate(migratedModels()...); err != nil {
		return fmt.Errorf("auto-migrate %s: %w", d.Driver, err)
	}
	return nil
}

// Ping checks the connection
func (d *Database) Ping() error { return d.pool.Ping() }

// Stats returns connection pool statistics
func (d *Database) Stats() sql.DBStats { return d.pool.Stats() }

// Close closes the pool
func (d *Database) Close() error { return d.pool.Close() }
