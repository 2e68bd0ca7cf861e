package repository

import (
	"errors"
	"fmt"

	"client-portal/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleRecord is returned when a conditional update matched no row
	ErrStaleRecord = errors.New("record changed concurrently")
)

// Migrate creates or updates every portal table
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		return fmt.Errorf("failed to enable pgcrypto: %w", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate portal schema: %w", err)
	}
	return nil
}

// translate maps driver errors to repository errors. The db must be opened with TranslateError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
