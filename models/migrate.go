package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates or updates every table the service uses. The partial
// unique index makes a second owner row for a workspace impossible at the
// storage layer; both postgres and sqlite accept the syntax.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Workspace{},
		&Membership{},
		&File{},
		&FileVersion{},
		&DownloadEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_workspace_single_owner ON workspace_members (workspace_id) WHERE role = 'owner'",
	).Error; err != nil {
		return fmt.Errorf("create owner index: %w", err)
	}
	return nil
}
