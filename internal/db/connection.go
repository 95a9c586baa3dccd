// Package db owns the monitor's sqlite side-tables: notes, custom titles,
// launch audit, and directory history. The driver is modernc.org/sqlite so
// builds stay cgo-free.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// OpenSQLiteWithMigrations opens path and applies migrations, returning the
// raw *sql.DB for stores that speak SQL directly.
func OpenSQLiteWithMigrations(path string) (*sql.DB, error) {
	gdb, err := OpenSQLiteGORMWithMigrations(path)
	if err != nil {
		return nil, err
	}
	return gdb.DB()
}

// OpenSQLiteGORMWithMigrations opens path and applies migrations.
func OpenSQLiteGORMWithMigrations(path string) (*gorm.DB, error) {
	gdb, err := openSQLiteDSN(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb); err != nil {
		sqlDB, dbErr := gdb.DB()
		if dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

func openSQLiteDSN(dsn string) (*gorm.DB, error) {
	if shouldEnsureSQLiteParentDir(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

func shouldEnsureSQLiteParentDir(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return false
	}
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "mode=memory") || strings.HasPrefix(lower, "file:") {
		return false
	}
	return true
}
