package db

import (
	"github.com/smite/panel/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Node{},
		&domain.Tunnel{},
		&domain.OverlayPool{},
		&domain.OverlayAssignment{},
		&domain.WireGuardMesh{},
		&domain.CoreResetConfig{},
		&domain.TimelineEvent{},
	)
	if err != nil {
		return err
	}

	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// Index for timeline events querying by resource
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_resource
		ON timeline_events (resource_type, resource_id)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}

	return nil
}
