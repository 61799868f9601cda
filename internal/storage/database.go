package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finreport/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// TimeLayout is the fixed-width ISO-8601 UTC layout used for every stored
// timestamp, so string comparison orders rows by time.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Open connects to the cache database selected by cfg.DBDriver.
func Open(cfg *config.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(cfg.DBDriver) {
	case "sqlite", "sqlite3":
		dsn := cfg.DBFilePath
		if dsn == "" {
			return nil, fmt.Errorf("sqlite path must be provided")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// single writer; also keeps a :memory: database on one connection
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set sqlite busy timeout: %w", err)
		}
	case "mysql":
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("mysql dsn must be provided")
		}
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.DBDriver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the cache table and its indices are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS external_data_cache (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				params_hash TEXT NOT NULL,
				data TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				UNIQUE(source, params_hash)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cache_source_hash ON external_data_cache(source, params_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON external_data_cache(expires_at)`,
		}
	case "mysql":
		// timestamps stay ISO-8601 strings on both drivers
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS external_data_cache (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				source VARCHAR(64) NOT NULL,
				params_hash CHAR(64) NOT NULL,
				data LONGTEXT NOT NULL,
				timestamp VARCHAR(32) NOT NULL,
				expires_at VARCHAR(32) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_cache_source_hash (source, params_hash),
				INDEX idx_cache_expires_at (expires_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// Timestamp scans a stored timestamp. sqlite may hand back DATETIME columns
// already parsed, mysql hands back the raw string.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := ParseTime(s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}
