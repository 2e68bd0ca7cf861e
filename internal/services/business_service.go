package services

import (
	"context"
	"errors"

	"client-portal/internal/authz"
	"client-portal/internal/models"
	"client-portal/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BusinessService serves the dashboard and the admin business screens
type BusinessService struct {
	businesses BusinessStore
	users      UserStore
	changes    ChangePublisher
	audit      *AuditService
	logger     *logrus.Entry
}

// NewBusinessService creates a new business service
func NewBusinessService(businesses BusinessStore, users UserStore, changes ChangePublisher, audit *AuditService, logger *logrus.Logger) *BusinessService {
	if changes == nil {
		changes = noopChanges{}
	}
	return &BusinessService{
		businesses: businesses,
		users:      users,
		changes:    changes,
		audit:      audit,
		logger:     logger.WithField("component", "businesses"),
	}
}

// Dashboard is the landing view of a signed-in user
type Dashboard struct {
	User           *models.User      `json:"user"`
	Businesses     []models.Business `json:"businesses"`
	CanAccessAdmin bool              `json:"can_access_admin"`
}

// Dashboard loads the caller's profile and visible businesses
func (s *BusinessService) Dashboard(ctx context.Context, caller authz.Caller) (*Dashboard, error) {
	user, err := s.users.GetUser(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	businesses, err := s.ListVisible(ctx, caller)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		User:           user,
		Businesses:     businesses,
		CanAccessAdmin: authz.CanAccessAdminArea(caller.Role),
	}, nil
}

// ListVisible returns the businesses the caller may see
func (s *BusinessService) ListVisible(ctx context.Context, caller authz.Caller) ([]models.Business, error) {
	businesses, err := authz.VisibleBusinesses(ctx, caller, s.businesses)
	if err != nil {
		return nil, err
	}
	if businesses == nil {
		businesses = []models.Business{}
	}
	return businesses, nil
}

// Get returns one business the caller may see
func (s *BusinessService) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*models.Business, error) {
	visible, err := s.ListVisible(ctx, caller)
	if err != nil {
		return nil, err
	}
	for i := range visible {
		if visible[i].ID == id {
			return &visible[i], nil
		}
	}
	return nil, ErrNotFound
}

// UpdateStatus changes a business's status. Leaving active deactivates its connections.
func (s *BusinessService) UpdateStatus(ctx context.Context, caller authz.Caller, id uuid.UUID, status models.BusinessStatus, meta models.RequestMeta) (*models.Business, error) {
	if !status.Valid() {
		return nil, NewValidationError("status", "unknown business status",
			[]string{string(models.BusinessActive), string(models.BusinessInactive), string(models.BusinessSuspended)})
	}
	business, err := s.manageable(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	deactivated, err := s.businesses.UpdateBusinessStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	business.Status = status
	s.logger.WithFields(logrus.Fields{
		"business_id":             id,
		"status":                  status,
		"connections_deactivated": deactivated,
	}).Info("Business status changed")

	s.changes.PublishChange(ctx, tableBusinesses, changeUpdate, business)
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(caller.ID),
		BusinessID:  uuidPtr(id),
		EventType:   "business_status_changed",
		Category:    AuditCategoryBusiness,
		Description: "Set status to " + string(status),
		Metadata:    map[string]interface{}{"connections_deactivated": deactivated},
		Meta:        meta,
	})
	return business, nil
}

// DeactivateConnection removes a user's access to a business
func (s *BusinessService) DeactivateConnection(ctx context.Context, caller authz.Caller, businessID, connectionID uuid.UUID, meta models.RequestMeta) (*models.Connection, error) {
	if _, err := s.manageable(ctx, caller, businessID); err != nil {
		return nil, err
	}
	conn, err := s.businesses.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.BusinessID != businessID {
		return nil, ErrNotFound
	}

	if err := s.businesses.DeactivateConnection(ctx, conn); err != nil {
		if errors.Is(err, authz.ErrInvalidTransition) || errors.Is(err, repository.ErrStaleRecord) {
			return nil, NewConflictError("connection", "connection is already inactive")
		}
		return nil, err
	}
	conn.Status = models.ConnectionInactive

	s.changes.PublishChange(ctx, tableConnections, changeUpdate, conn)
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(caller.ID),
		BusinessID:  uuidPtr(businessID),
		EventType:   "connection_deactivated",
		Category:    AuditCategoryBusiness,
		Description: "Deactivated connection for user " + conn.UserID.String(),
		Meta:        meta,
	})
	return conn, nil
}

func (s *BusinessService) manageable(ctx context.Context, caller authz.Caller, id uuid.UUID) (*models.Business, error) {
	if !authz.CanAccessAdminArea(caller.Role) {
		return nil, ErrForbidden
	}
	business, err := s.businesses.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	if business == nil {
		return nil, ErrNotFound
	}
	if !authz.CanManageBusiness(caller, business) {
		return nil, ErrForbidden
	}
	return business, nil
}
