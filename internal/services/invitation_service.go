package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/mailer"
	"client-portal/internal/models"
	natsclient "client-portal/internal/nats"
	"client-portal/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InvitationService issues and redeems business invitations
type InvitationService struct {
	invitations InvitationStore
	businesses  BusinessStore
	links       *MagicLinks
	mailer      Mailer
	changes     ChangePublisher
	events      EventPublisher
	audit       *AuditService
	metrics     *Metrics
	expiry      time.Duration
	logger      *logrus.Entry
	now         func() time.Time
}

// InvitationDeps groups the collaborators of InvitationService
type InvitationDeps struct {
	Invitations InvitationStore
	Businesses  BusinessStore
	Links       *MagicLinks
	Mailer      Mailer
	Changes     ChangePublisher
	Events      EventPublisher
	Audit       *AuditService
	Metrics     *Metrics
	Expiry      time.Duration
	Logger      *logrus.Logger
}

// NewInvitationService creates a new invitation service
func NewInvitationService(deps InvitationDeps) *InvitationService {
	s := &InvitationService{
		invitations: deps.Invitations,
		businesses:  deps.Businesses,
		links:       deps.Links,
		mailer:      deps.Mailer,
		changes:     deps.Changes,
		events:      deps.Events,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		expiry:      deps.Expiry,
		logger:      deps.Logger.WithField("component", "invitations"),
		now:         time.Now,
	}
	if s.changes == nil {
		s.changes = noopChanges{}
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.expiry <= 0 {
		s.expiry = 7 * 24 * time.Hour
	}
	return s
}

// ============================================================================
// Issuing
// ============================================================================

// IssueRequest describes an invitation to send
type IssueRequest struct {
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	JobTitle string          `json:"job_title"`
	Role     models.UserRole `json:"role"`
}

// Issue creates an invitation and e-mails it. The row only persists when the e-mail was accepted
// by a provider. Dispatch failures come back wrapped in *mailer.DispatchError.
func (s *InvitationService) Issue(ctx context.Context, business *models.Business, invitedBy uuid.UUID, req IssueRequest) (*models.Invitation, error) {
	form := InviteeForm{Email: req.Email, FullName: req.FullName, JobTitle: req.JobTitle, Role: req.Role}.normalized()
	if err := form.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.invitations.FindConnectionByEmail(ctx, business.ID, form.Email)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckInvitable(existing); err != nil {
		s.metrics.invitation("issue", "rejected")
		return nil, NewConflictError("invitation", form.Email+" was removed from this business and cannot be invited again")
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	now := s.now()
	inv := &models.Invitation{
		ID:         uuid.New(),
		BusinessID: business.ID,
		Email:      form.Email,
		Role:       form.Role,
		FullName:   optional(form.FullName),
		JobTitle:   optional(form.JobTitle),
		InvitedBy:  invitedBy,
		Token:      token,
		ExpiresAt:  now.Add(s.expiry),
		Status:     models.InvitationPending,
	}

	var link string
	err = s.invitations.CreateWithDispatch(ctx, inv, func(ctx context.Context, inv *models.Invitation) error {
		var err error
		link, err = s.links.Issue(ctx, LinkRequest{
			Email:      inv.Email,
			Type:       LinkTypeInvite,
			Invitation: inv.Token,
			FullName:   form.FullName,
			TTL:        s.expiry,
		})
		if err != nil {
			return err
		}
		return s.mailer.SendInvitation(ctx, mailer.InvitationEmail{
			To:           inv.Email,
			InviteeName:  form.FullName,
			JobTitle:     form.JobTitle,
			Role:         string(inv.Role),
			BusinessID:   business.ID.String(),
			BusinessName: business.Name,
			Link:         link,
			ExpiresAt:    inv.ExpiresAt,
		})
	})
	s.metrics.invitation("issue", outcomeOf(err))
	if err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{
			"business_id": business.ID,
			"email":       form.Email,
		})
		entry.Warn("Invitation was not issued")
		// The row rolled back, so the link must not outlive it
		if link != "" {
			if revokeErr := s.links.Revoke(context.WithoutCancel(ctx), link); revokeErr != nil {
				entry.WithField("revoke_error", revokeErr.Error()).Error("Failed to revoke invitation link")
			}
		}
		return nil, err
	}

	s.changes.PublishChange(ctx, tableInvitations, changeInsert, inv)
	if err := s.events.PublishInvitation(ctx, natsclient.EventInvitationIssued, invitationEvent(natsclient.EventInvitationIssued, inv, now)); err != nil {
		s.logger.WithError(err).Warn("Failed to publish invitation event")
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(invitedBy),
		BusinessID:  uuidPtr(business.ID),
		EventType:   "invitation_issued",
		Category:    AuditCategoryInvitation,
		Description: "Invited " + inv.Email + " as " + string(inv.Role),
	})
	return inv, nil
}

// InviteToBusiness issues an invitation on an existing business from the admin area
func (s *InvitationService) InviteToBusiness(ctx context.Context, caller authz.Caller, businessID uuid.UUID, req IssueRequest) (*models.Invitation, error) {
	business, err := s.manageableBusiness(ctx, caller, businessID)
	if err != nil {
		return nil, err
	}
	if business.Status != models.BusinessActive {
		return nil, NewConflictError("business", "invitations can only be sent for active businesses")
	}

	inv, err := s.Issue(ctx, business, caller.ID, req)
	if err != nil {
		if _, ok := IsValidationError(err); ok {
			return nil, err
		}
		if _, ok := IsConflictError(err); ok {
			return nil, err
		}
		return nil, NewServiceError("issue_invitation", err)
	}
	return inv, nil
}

// ListForBusiness returns a business's invitations for the admin area
func (s *InvitationService) ListForBusiness(ctx context.Context, caller authz.Caller, businessID uuid.UUID) ([]models.Invitation, error) {
	if _, err := s.manageableBusiness(ctx, caller, businessID); err != nil {
		return nil, err
	}
	invitations, err := s.invitations.ListForBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range invitations {
		invitations[i].Status = effectiveStatus(&invitations[i], now)
	}
	return invitations, nil
}

// Revoke withdraws a pending invitation
func (s *InvitationService) Revoke(ctx context.Context, caller authz.Caller, businessID, invitationID uuid.UUID) error {
	if _, err := s.manageableBusiness(ctx, caller, businessID); err != nil {
		return err
	}
	inv, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv == nil || inv.BusinessID != businessID {
		return ErrNotFound
	}
	if !authz.CanTransitionInvitation(inv.Status, models.InvitationRevoked) {
		return NewConflictError("invitation", "only pending invitations can be revoked")
	}

	if err := s.invitations.Revoke(ctx, invitationID); err != nil {
		if errors.Is(err, repository.ErrStaleRecord) {
			return NewConflictError("invitation", "invitation is no longer pending")
		}
		return err
	}
	s.metrics.invitation("revoke", "success")

	inv.Status = models.InvitationRevoked
	s.changes.PublishChange(ctx, tableInvitations, changeUpdate, inv)
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(caller.ID),
		BusinessID:  uuidPtr(businessID),
		EventType:   "invitation_revoked",
		Category:    AuditCategoryInvitation,
		Description: "Revoked invitation for " + inv.Email,
	})
	return nil
}

// ExpireStale marks overdue pending invitations as expired
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	count, err := s.invitations.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("Expired stale invitations")
	}
	return count, nil
}

// ============================================================================
// Redeeming
// ============================================================================

// InvitationPreview is what an invitee sees before accepting
type InvitationPreview struct {
	Email        string                  `json:"email"`
	Role         models.UserRole         `json:"role"`
	BusinessID   uuid.UUID               `json:"business_id"`
	BusinessName string                  `json:"business_name"`
	Status       models.InvitationStatus `json:"status"`
	ExpiresAt    time.Time               `json:"expires_at"`
}

// Preview describes the invitation behind a token
func (s *InvitationService) Preview(ctx context.Context, token string) (*InvitationPreview, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	preview := &InvitationPreview{
		Email:      inv.Email,
		Role:       inv.Role,
		BusinessID: inv.BusinessID,
		Status:     effectiveStatus(inv, s.now()),
		ExpiresAt:  inv.ExpiresAt,
	}
	if inv.Business != nil {
		preview.BusinessName = inv.Business.Name
	}
	return preview, nil
}

// Accept redeems an invitation for the signed-in user. The caller's e-mail must match the invitation.
// The invitation is consumed and the connection activated in one transaction.
func (s *InvitationService) Accept(ctx context.Context, caller authz.Caller, email, token string, meta models.RequestMeta) (*repository.AcceptResult, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if models.NormalizeEmail(email) != inv.Email {
		return nil, ErrForbidden
	}

	now := s.now()
	if err := authz.CheckInvitationAcceptable(inv, now); err != nil {
		if errors.Is(err, authz.ErrInvitationExpired) && inv.Status == models.InvitationPending {
			if markErr := s.invitations.MarkExpired(ctx, inv.ID); markErr != nil {
				s.logger.WithError(markErr).Warn("Failed to mark invitation expired")
			}
		}
		s.metrics.invitation("accept", "rejected")
		return nil, NewConflictError("invitation", err.Error())
	}

	user := &models.User{
		ID:       caller.ID,
		FullName: displayName(derefString(inv.FullName), inv.Email),
		JobTitle: inv.JobTitle,
		Role:     inv.Role,
		Timezone: "UTC",
	}
	result, err := s.invitations.Accept(ctx, repository.AcceptParams{
		InvitationID: inv.ID,
		User:         user,
		At:           now,
	})
	if err != nil {
		s.metrics.invitation("accept", "rejected")
		switch {
		case errors.Is(err, authz.ErrInvitationConsumed),
			errors.Is(err, authz.ErrInvitationExpired),
			errors.Is(err, authz.ErrInvitationRevoked),
			errors.Is(err, authz.ErrConnectionInactive),
			errors.Is(err, authz.ErrInvalidTransition):
			return nil, NewConflictError("invitation", err.Error())
		}
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	if result == nil {
		return nil, ErrNotFound
	}
	s.metrics.invitation("accept", "success")

	s.changes.PublishChange(ctx, tableInvitations, changeUpdate, result.Invitation)
	s.changes.PublishChange(ctx, tableConnections, changeUpdate, result.Connection)
	if err := s.events.PublishInvitation(ctx, natsclient.EventInvitationAccepted, invitationEvent(natsclient.EventInvitationAccepted, result.Invitation, now)); err != nil {
		s.logger.WithError(err).Warn("Failed to publish invitation event")
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(caller.ID),
		BusinessID:  uuidPtr(inv.BusinessID),
		EventType:   "invitation_accepted",
		Category:    AuditCategoryInvitation,
		Description: "Accepted invitation as " + string(inv.Role),
		Meta:        meta,
	})
	return result, nil
}

func (s *InvitationService) lookup(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, NewValidationError("token", "invitation token is required", nil)
	}
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (s *InvitationService) manageableBusiness(ctx context.Context, caller authz.Caller, businessID uuid.UUID) (*models.Business, error) {
	if !authz.CanAccessAdminArea(caller.Role) {
		return nil, ErrForbidden
	}
	business, err := s.businesses.GetBusiness(ctx, businessID)
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

// effectiveStatus reports a pending invitation past its expiry as expired
func effectiveStatus(inv *models.Invitation, now time.Time) models.InvitationStatus {
	if inv.Status == models.InvitationPending && inv.UsedAt == nil && !now.Before(inv.ExpiresAt) {
		return models.InvitationExpired
	}
	return inv.Status
}

func invitationEvent(eventType string, inv *models.Invitation, at time.Time) *natsclient.InvitationEvent {
	return &natsclient.InvitationEvent{
		EventType:    eventType,
		InvitationID: inv.ID.String(),
		BusinessID:   inv.BusinessID.String(),
		Email:        inv.Email,
		Role:         string(inv.Role),
		Timestamp:    at,
	}
}

// displayName picks the profile name for a newly provisioned user
func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return "New User"
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
