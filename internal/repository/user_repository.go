package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"client-portal/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository handles profile and credential rows
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ============================================================================
// Profiles
// ============================================================================

// GetUser returns the profile row or nil when it has not been provisioned yet
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateUserIfMissing inserts the row unless one already exists, then returns the stored row
func (r *UserRepository) CreateUserIfMissing(ctx context.Context, user *models.User) (*models.User, error) {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", translate(err))
	}
	return r.GetUser(ctx, user.ID)
}

// UpdateUser applies column updates and returns the written row
func (r *UserRepository) UpdateUser(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*models.User, error) {
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update user: %w", translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetUser(ctx, id)
}

// RecordLoginFailure increments the failure counter and locks the account once max is reached.
// It returns the updated row.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID, max int, lockout time.Duration) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error; err != nil {
			return err
		}
		user.FailedLoginAttempts++
		updates := map[string]interface{}{
			"failed_login_attempts": user.FailedLoginAttempts,
			"updated_at":            time.Now(),
		}
		if user.FailedLoginAttempts >= max {
			until := time.Now().Add(lockout)
			user.LockedUntil = &until
			updates["locked_until"] = until
		}
		return tx.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return &user, nil
}

// RecordLoginSuccess clears lockout state and stamps the login
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login_at":         now,
		"updated_at":            now,
	}
	if ip != "" {
		updates["last_login_ip"] = ip
	}
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// ============================================================================
// Identities
// ============================================================================

// GetIdentityByEmail looks up credentials by normalized email
func (r *UserRepository) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// GetIdentity looks up credentials by id
func (r *UserRepository) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).First(&identity, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// CreateIdentity inserts a credential row
func (r *UserRepository) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	identity.Email = models.NormalizeEmail(identity.Email)
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(identity).Error; err != nil {
		return fmt.Errorf("failed to create identity: %w", translate(err))
	}
	return nil
}

// UpdateIdentity applies credential column updates
func (r *UserRepository) UpdateIdentity(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	if err := r.db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}
