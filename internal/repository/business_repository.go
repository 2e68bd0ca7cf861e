package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BusinessRepository handles businesses and their user connections
type BusinessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository creates a new business repository
func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// CreateBusiness inserts a business. Slug collisions surface as ErrDuplicate.
func (r *BusinessRepository) CreateBusiness(ctx context.Context, business *models.Business) error {
	if err := r.db.WithContext(ctx).Create(business).Error; err != nil {
		return translate(err)
	}
	return nil
}

// GetBusiness returns the business or nil
func (r *BusinessRepository) GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	var business models.Business
	if err := r.db.WithContext(ctx).First(&business, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return &business, nil
}

// ListActiveBusinesses returns every business with status active, newest first
func (r *BusinessRepository) ListActiveBusinesses(ctx context.Context) ([]models.Business, error) {
	var businesses []models.Business
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.BusinessActive).
		Order("created_at DESC").
		Find(&businesses).Error; err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	return businesses, nil
}

// ListConnectionsForUser returns all of a user's connections with their business loaded
func (r *BusinessRepository) ListConnectionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Connection, error) {
	var connections []models.Connection
	if err := r.db.WithContext(ctx).
		Preload("Business").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return connections, nil
}

// GetConnection returns the connection or nil
func (r *BusinessRepository) GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// DeactivateConnection moves a pending or active connection to inactive
func (r *BusinessRepository) DeactivateConnection(ctx context.Context, conn *models.Connection) error {
	if !authz.CanTransitionConnection(conn.Status, models.ConnectionInactive) {
		return authz.ErrInvalidTransition
	}
	result := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ? AND status = ?", conn.ID, conn.Status).
		Updates(map[string]interface{}{
			"status":     models.ConnectionInactive,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate connection: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleRecord
	}
	conn.Status = models.ConnectionInactive
	return nil
}

// UpdateBusinessStatus changes a business status. Leaving active also deactivates every
// connection to it, in the same transaction.
func (r *BusinessRepository) UpdateBusinessStatus(ctx context.Context, id uuid.UUID, status models.BusinessStatus) (int64, error) {
	var deactivated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.Business{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		})
		if result.Error != nil {
			return fmt.Errorf("failed to update business status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if status == models.BusinessActive {
			return nil
		}

		conns := tx.Model(&models.Connection{}).
			Where("business_id = ? AND status IN ?", id, []models.ConnectionStatus{models.ConnectionPending, models.ConnectionActive}).
			Updates(map[string]interface{}{
				"status":     models.ConnectionInactive,
				"updated_at": now,
			})
		if conns.Error != nil {
			return fmt.Errorf("failed to deactivate connections: %w", conns.Error)
		}
		deactivated = conns.RowsAffected
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return deactivated, err
}
