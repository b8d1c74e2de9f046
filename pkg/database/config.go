package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration.
type Config struct {
	Driver          string        `json:"driver"`
	DatabasePath    string        `json:"database_path"`
	DSN             string        `json:"dsn"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DefaultConfig returns an embedded SQLite configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DatabasePath:    "./data/zaloedu.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate ensures the configuration is usable for the selected driver.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return errors.New("postgres DSN cannot be empty")
		}
	default:
		return errors.New("database driver must be sqlite or postgres")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// WAL lets readers proceed while the single writer commits.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations applies the connection pragmas.
func ApplySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
