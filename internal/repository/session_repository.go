package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"client-portal/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRepository handles issued sign-in sessions
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", translate(err))
	}
	return nil
}

// GetByID returns the session or nil
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Extend moves the expiry forward and stamps activity
func (r *SessionRepository) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"expires_at":       expiresAt,
		"last_activity_at": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return nil
}

// Expire ends a session immediately
func (r *SessionRepository) Expire(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"expires_at":       now,
		"last_activity_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes sessions that expired before cutoff
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountActive returns the number of unexpired sessions
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at > ?", time.Now()).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}
