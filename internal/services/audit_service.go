package services

import (
	"context"
	"encoding/json"

	"client-portal/internal/authz"
	"client-portal/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Audit event categories
const (
	AuditCategoryAuth       = "authentication"
	AuditCategoryProfile    = "profile"
	AuditCategoryBusiness   = "business"
	AuditCategoryInvitation = "invitation"
)

// AuditEntry describes one audit record
type AuditEntry struct {
	UserID      *uuid.UUID
	BusinessID  *uuid.UUID
	EventType   string
	Category    string
	Description string
	Metadata    map[string]interface{}
	Meta        models.RequestMeta
}

// AuditService writes audit logs. Failures are logged and never reach the caller.
type AuditService struct {
	store  AuditStore
	logger *logrus.Entry
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{store: store, logger: logger.WithField("component", "audit")}
}

// Record appends an entry
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil || s.store == nil {
		return
	}

	row := &models.AuditLog{
		UserID:        entry.UserID,
		BusinessID:    entry.BusinessID,
		EventType:     entry.EventType,
		EventCategory: entry.Category,
		Description:   optional(entry.Description),
		IPAddress:     optional(entry.Meta.IPAddress),
		UserAgent:     optional(entry.Meta.UserAgent),
		RequestPath:   optional(entry.Meta.RequestPath),
	}
	if len(entry.Metadata) > 0 {
		if raw, err := json.Marshal(entry.Metadata); err == nil {
			row.Metadata = datatypes.JSON(raw)
		}
	}

	if err := s.store.Create(ctx, row); err != nil {
		s.logger.WithError(err).WithField("event_type", entry.EventType).Warn("Failed to write audit log")
	}
}

// Activity returns the latest audit entries about a user. Users see their own; the admin area sees anyone's.
func (s *AuditService) Activity(ctx context.Context, caller authz.Caller, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if !authz.CanViewUser(caller, userID) {
		return nil, ErrForbidden
	}
	logs, err := s.store.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
