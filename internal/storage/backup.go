package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrBackupUnsupported is returned for drivers without an online file backup.
var ErrBackupUnsupported = errors.New("backup is only supported for sqlite")

// Backup writes a consistent copy of the sqlite database to
// <baseDir>/backups/cache_<timestamp>.db and returns that path relative to baseDir.
func Backup(ctx context.Context, db *sql.DB, driver, baseDir string, now time.Time) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
	default:
		return "", ErrBackupUnsupported
	}
	dir := filepath.Join(baseDir, "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("cache_%s.db", now.UTC().Format("20060102_150405.000"))
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("backup %s already exists", name)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, target); err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}
	return filepath.ToSlash(filepath.Join("backups", name)), nil
}
