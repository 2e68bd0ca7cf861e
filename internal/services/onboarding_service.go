package services

import (
	"context"
	"errors"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/models"
	natsclient "client-portal/internal/nats"
	"client-portal/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// OnboardingService runs the staff workflow that creates a business and invites its first client
type OnboardingService struct {
	flows       FlowStore
	businesses  BusinessStore
	invitations *InvitationService
	changes     ChangePublisher
	events      EventPublisher
	audit       *AuditService
	metrics     *Metrics
	logger      *logrus.Entry
	now         func() time.Time
}

// OnboardingDeps groups the collaborators of OnboardingService
type OnboardingDeps struct {
	Flows       FlowStore
	Businesses  BusinessStore
	Invitations *InvitationService
	Changes     ChangePublisher
	Events      EventPublisher
	Audit       *AuditService
	Metrics     *Metrics
	Logger      *logrus.Logger
}

// NewOnboardingService creates a new onboarding service
func NewOnboardingService(deps OnboardingDeps) *OnboardingService {
	s := &OnboardingService{
		flows:       deps.Flows,
		businesses:  deps.Businesses,
		invitations: deps.Invitations,
		changes:     deps.Changes,
		events:      deps.Events,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      deps.Logger.WithField("component", "onboarding"),
		now:         time.Now,
	}
	if s.changes == nil {
		s.changes = noopChanges{}
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	return s
}

// OnboardingResult is the outcome of a submission. It is returned alongside
// *ServiceError and *PartialWorkflowError so callers always see the flow.
type OnboardingResult struct {
	Flow       *OnboardingFlow    `json:"flow"`
	Business   *models.Business   `json:"business,omitempty"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Businesses []models.Business  `json:"businesses,omitempty"`
}

// Start opens a new flow for an admin area caller
func (s *OnboardingService) Start(ctx context.Context, caller authz.Caller) (*OnboardingFlow, error) {
	if !authz.CanAccessAdminArea(caller.Role) {
		return nil, ErrForbidden
	}
	flow := NewOnboardingFlow(caller.ID, s.now())
	if err := s.flows.Save(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// Get returns a flow owned by the caller
func (s *OnboardingService) Get(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*OnboardingFlow, error) {
	if !authz.CanAccessAdminArea(caller.Role) {
		return nil, ErrForbidden
	}
	flow, err := s.flows.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow == nil || flow.CallerID != caller.ID {
		return nil, ErrNotFound
	}
	return flow, nil
}

// SubmitBusiness records the business step
func (s *OnboardingService) SubmitBusiness(ctx context.Context, caller authz.Caller, flowID uuid.UUID, form BusinessForm) (*OnboardingFlow, error) {
	return s.step(ctx, caller, flowID, func(flow *OnboardingFlow) error {
		return flow.SubmitBusiness(form, s.now())
	})
}

// Back returns to the business step
func (s *OnboardingService) Back(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*OnboardingFlow, error) {
	return s.step(ctx, caller, flowID, func(flow *OnboardingFlow) error {
		return flow.Back(s.now())
	})
}

// Reset clears the flow for another business
// A submission abandoned past the lock TTL can be reset once no worker holds the lock.
func (s *OnboardingService) Reset(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*OnboardingFlow, error) {
	flow, err := s.Get(ctx, caller, flowID)
	if err != nil {
		return nil, err
	}
	if flow.State == FlowSubmitting {
		if !flow.stale(s.now()) {
			return nil, flow.busy()
		}
		locked, err := s.flows.Lock(ctx, flowID)
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, flow.busy()
		}
		defer func() {
			if err := s.flows.Unlock(context.WithoutCancel(ctx), flowID); err != nil {
				s.logger.WithError(err).WithField("flow_id", flowID).Warn("Failed to release onboarding lock")
			}
		}()
		s.logger.WithField("flow_id", flowID).Warn("Resetting abandoned onboarding submission")
	}

	if err := flow.Reset(s.now()); err != nil {
		return nil, err
	}
	if err := s.flows.Save(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

func (s *OnboardingService) step(ctx context.Context, caller authz.Caller, flowID uuid.UUID, apply func(*OnboardingFlow) error) (*OnboardingFlow, error) {
	flow, err := s.Get(ctx, caller, flowID)
	if err != nil {
		return nil, err
	}
	if err := apply(flow); err != nil {
		return nil, err
	}
	if err := s.flows.Save(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// SubmitInvitee runs the submission: create the business, then issue the invitation.
//
// A business failure leaves the flow Failed with both forms intact and returns *ServiceError.
// An invitation failure after the business committed leaves the flow PartiallyCompleted and
// returns *PartialWorkflowError. The business is not rolled back.
func (s *OnboardingService) SubmitInvitee(ctx context.Context, caller authz.Caller, flowID uuid.UUID, form InviteeForm, meta models.RequestMeta) (*OnboardingResult, error) {
	if !authz.CanAccessAdminArea(caller.Role) {
		return nil, ErrForbidden
	}

	locked, err := s.flows.Lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, NewConflictError("onboarding", "a submission is already in progress")
	}
	defer func() {
		if err := s.flows.Unlock(context.WithoutCancel(ctx), flowID); err != nil {
			s.logger.WithError(err).Warn("Failed to release onboarding lock")
		}
	}()

	flow, err := s.Get(ctx, caller, flowID)
	if err != nil {
		return nil, err
	}
	if err := flow.BeginSubmit(form, s.now()); err != nil {
		return nil, err
	}
	if err := s.flows.Save(ctx, flow); err != nil {
		return nil, err
	}

	// The outcome must be recorded even if the request context ends mid-submission
	saveCtx := context.WithoutCancel(ctx)
	result := &OnboardingResult{Flow: flow}
	log := s.logger.WithFields(logrus.Fields{"flow_id": flow.ID, "caller_id": caller.ID})

	business := s.newBusiness(flow.Business, caller.ID)
	if err := s.businesses.CreateBusiness(ctx, business); err != nil {
		svcErr := NewServiceError("create_business", err)
		if errors.Is(err, repository.ErrDuplicate) {
			svcErr.Message = "a business with the slug \"" + business.Slug + "\" already exists"
		}
		flow.Fail(svcErr.Message, s.now())
		s.finish(saveCtx, flow, log)
		log.WithError(err).Warn("Business creation failed")
		return result, svcErr
	}
	result.Business = business
	s.changes.PublishChange(saveCtx, tableBusinesses, changeInsert, business)
	s.audit.Record(saveCtx, AuditEntry{
		UserID:      uuidPtr(caller.ID),
		BusinessID:  uuidPtr(business.ID),
		EventType:   "business_created",
		Category:    AuditCategoryBusiness,
		Description: "Created business " + business.Name,
		Meta:        meta,
	})

	inv, err := s.invitations.Issue(ctx, business, caller.ID, IssueRequest{
		Email:    flow.Invitee.Email,
		FullName: flow.Invitee.FullName,
		JobTitle: flow.Invitee.JobTitle,
		Role:     flow.Invitee.Role,
	})
	if err != nil {
		partial := &PartialWorkflowError{Completed: "create_business", Failed: "issue_invitation", Err: err}
		flow.PartiallyComplete(business.ID, "Business "+business.Name+" was created but the invitation could not be sent: "+err.Error(), s.now())
		s.finish(saveCtx, flow, log)
		s.publishOnboarded(saveCtx, business, flow.State)
		result.Businesses = s.refresh(saveCtx, caller, log)
		log.WithError(err).Warn("Invitation step failed after business creation")
		return result, partial
	}

	result.Invitation = inv
	flow.Complete(business.ID, inv.ID, "Business "+business.Name+" created and invitation sent to "+inv.Email, s.now())
	s.finish(saveCtx, flow, log)
	s.publishOnboarded(saveCtx, business, flow.State)
	result.Businesses = s.refresh(saveCtx, caller, log)
	log.WithField("business_id", business.ID).Info("Business onboarded")
	return result, nil
}

func (s *OnboardingService) newBusiness(form BusinessForm, agentID uuid.UUID) *models.Business {
	active := form.ActiveServices
	if active == nil {
		active = []string{}
	}
	return &models.Business{
		ID:                 uuid.New(),
		Name:               form.Name,
		Slug:               models.Slugify(form.Name),
		Industry:           form.Industry,
		Description:        optional(form.Description),
		WebsiteURL:         optional(form.WebsiteURL),
		Phone:              optional(form.Phone),
		Email:              optional(form.Email),
		EmployeeCountRange: optional(form.EmployeeCountRange),
		AnnualRevenueRange: optional(form.AnnualRevenueRange),
		ActiveServices:     pq.StringArray(active),
		AgentID:            agentID,
		Status:             models.BusinessActive,
	}
}

func (s *OnboardingService) finish(ctx context.Context, flow *OnboardingFlow, log *logrus.Entry) {
	s.metrics.onboardingOutcome(flow.State)
	if err := s.flows.Save(ctx, flow); err != nil {
		log.WithError(err).Error("Failed to save onboarding flow")
	}
}

func (s *OnboardingService) refresh(ctx context.Context, caller authz.Caller, log *logrus.Entry) []models.Business {
	businesses, err := authz.VisibleBusinesses(ctx, caller, s.businesses)
	if err != nil {
		log.WithError(err).Warn("Failed to refresh business list")
		return nil
	}
	return businesses
}

func (s *OnboardingService) publishOnboarded(ctx context.Context, business *models.Business, state FlowState) {
	err := s.events.PublishBusinessOnboarded(ctx, &natsclient.BusinessOnboardedEvent{
		EventType:    natsclient.EventBusinessOnboarded,
		BusinessID:   business.ID.String(),
		BusinessName: business.Name,
		Slug:         business.Slug,
		AgentID:      business.AgentID.String(),
		Outcome:      string(state),
		Timestamp:    s.now(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to publish onboarding event")
	}
}
