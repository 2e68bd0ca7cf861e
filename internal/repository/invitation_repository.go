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
	"gorm.io/gorm/clause"
)

// InvitationRepository handles invitation rows and their acceptance
type InvitationRepository struct {
	db *gorm.DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *gorm.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// CreateWithDispatch inserts the invitation and runs dispatch in the same transaction.
// A dispatch error rolls the insert back so no orphan invitation is left behind.
func (r *InvitationRepository) CreateWithDispatch(ctx context.Context, inv *models.Invitation, dispatch func(ctx context.Context, inv *models.Invitation) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return translate(err)
		}
		if dispatch == nil {
			return nil
		}
		return dispatch(ctx, inv)
	})
}

// GetByToken returns the invitation for a token with its business loaded, or nil
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.db.WithContext(ctx).Preload("Business").Where("token = ?", token).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

// GetByID returns the invitation or nil
func (r *InvitationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

// ListForBusiness returns a business's invitations, newest first
func (r *InvitationRepository) ListForBusiness(ctx context.Context, businessID uuid.UUID) ([]models.Invitation, error) {
	var invitations []models.Invitation
	if err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invitations, nil
}

// FindConnectionByEmail returns the connection between the business and the identity with email, or nil
func (r *InvitationRepository) FindConnectionByEmail(ctx context.Context, businessID uuid.UUID, email string) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Joins("JOIN auth_identities ON auth_identities.id = user_business_connections.user_id").
		Where("user_business_connections.business_id = ? AND auth_identities.email = ?", businessID, models.NormalizeEmail(email)).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find connection: %w", err)
	}
	return &conn, nil
}

// AcceptParams describes a single acceptance
type AcceptParams struct {
	InvitationID uuid.UUID
	// User is the invitee. Its profile row is inserted when none exists yet.
	User *models.User
	At   time.Time
}

// AcceptResult holds the rows written by Accept
type AcceptResult struct {
	Invitation *models.Invitation
	Connection *models.Connection
	User       *models.User
}

// Accept consumes the invitation and activates the invitee's connection atomically.
// Consumed, expired, revoked and inactive-connection cases return the authz sentinel errors.
func (r *InvitationRepository) Accept(ctx context.Context, params AcceptParams) (*AcceptResult, error) {
	if params.User == nil {
		return nil, errors.New("accept requires the invitee user")
	}
	result := &AcceptResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invitation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, "id = ?", params.InvitationID).Error; err != nil {
			return err
		}
		if err := authz.CheckInvitationAcceptable(&inv, params.At); err != nil {
			return err
		}

		consumed := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ? AND used_at IS NULL", inv.ID, models.InvitationPending).
			Updates(map[string]interface{}{
				"status":  models.InvitationAccepted,
				"used_at": params.At,
			})
		if consumed.Error != nil {
			return fmt.Errorf("failed to consume invitation: %w", consumed.Error)
		}
		if consumed.RowsAffected == 0 {
			return authz.ErrInvitationConsumed
		}
		inv.Status = models.InvitationAccepted
		inv.UsedAt = &params.At
		result.Invitation = &inv

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(params.User).Error; err != nil {
			return fmt.Errorf("failed to provision user: %w", err)
		}
		var user models.User
		if err := tx.First(&user, "id = ?", params.User.ID).Error; err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		result.User = &user
		userID := user.ID

		var existing models.Connection
		var current *models.Connection
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND business_id = ?", userID, inv.BusinessID).
			First(&existing).Error
		switch {
		case err == nil:
			current = &existing
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to load connection: %w", err)
		}

		next, err := authz.NextConnectionOnAccept(current)
		if err != nil {
			return err
		}

		if current == nil {
			invitedBy := inv.InvitedBy
			conn := &models.Connection{
				UserID:      userID,
				BusinessID:  inv.BusinessID,
				Role:        inv.Role,
				Permissions: inv.Permissions,
				Status:      next,
				InvitedAt:   inv.CreatedAt,
				AcceptedAt:  &params.At,
				InvitedBy:   &invitedBy,
			}
			if err := tx.Create(conn).Error; err != nil {
				return fmt.Errorf("failed to create connection: %w", translate(err))
			}
			result.Connection = conn
			return nil
		}

		if current.Status != next {
			if err := tx.Model(&models.Connection{}).Where("id = ?", current.ID).Updates(map[string]interface{}{
				"status":      next,
				"accepted_at": params.At,
				"updated_at":  params.At,
			}).Error; err != nil {
				return fmt.Errorf("failed to activate connection: %w", err)
			}
			current.Status = next
			current.AcceptedAt = &params.At
		}
		result.Connection = current
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

// Revoke moves a pending invitation to revoked
func (r *InvitationRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ? AND used_at IS NULL", id, models.InvitationPending).
		Update("status", models.InvitationRevoked)
	if res.Error != nil {
		return fmt.Errorf("failed to revoke invitation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRecord
	}
	return nil
}

// MarkExpired moves one pending invitation to expired
func (r *InvitationRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ? AND used_at IS NULL", id, models.InvitationPending).
		Update("status", models.InvitationExpired).Error
}

// ExpireStale marks every pending invitation past its expiry as expired
func (r *InvitationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationPending, now).
		Update("status", models.InvitationExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountPending returns the number of open invitations
func (r *InvitationRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("status = ?", models.InvitationPending).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count invitations: %w", err)
	}
	return count, nil
}
