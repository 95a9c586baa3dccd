package db

import (
	"errors"

	"github.com/yuki-yano/vde-monitor/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&Note{},
		&CustomTitle{},
		&LaunchAudit{},
		&DirHistory{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_notes_repo_created_at ON notes(repo_root, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_launch_audit_session_created_at ON launch_audit(session_name, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_dir_history_last_accessed ON dir_history(last_accessed_at DESC);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs registered data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	return migration.RunAll(db)
}
