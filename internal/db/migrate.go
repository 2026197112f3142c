package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/conductor/internal/models"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.SessionAudit{},
		&models.Conversation{},
	}
}

// AutoMigrate creates or updates all audit tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
