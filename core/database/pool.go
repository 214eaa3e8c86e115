// Package database provides the SQLite connection pool, schema migrations,
// and the single-instance advisory lock for the vault daemon's local state.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Pool wraps a sqlite database handle with the settings the daemon needs
// (WAL journaling, busy timeout, foreign keys).
type Pool struct {
	db   *sql.DB
	path string
}

// PoolConfig tunes the sqlite connection pool.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	ForeignKeys bool
}

// DefaultPoolConfig returns the standard pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     10,
		MaxIdle:     5,
		MaxLifetime: time.Hour,
		BusyTimeout: 30 * time.Second,
		ForeignKeys: true,
	}
}

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string, config PoolConfig) (*Pool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=%d",
		path,
		int(config.BusyTimeout.Milliseconds()),
		boolToInt(config.ForeignKeys),
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{db: db, path: path}, nil
}

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Path returns the on-disk database path.
func (p *Pool) Path() string {
	return p.path
}

// Close closes the pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
