package services

import (
	"net/mail"
	"strings"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/models"

	"github.com/google/uuid"
)

// FlowState is a step of the staff onboarding workflow
type FlowState string

const (
	FlowCollectingBusiness FlowState = "collecting_business"
	FlowCollectingInvitee  FlowState = "collecting_invitee"
	FlowSubmitting         FlowState = "submitting"
	FlowCompleted          FlowState = "completed"
	FlowPartiallyCompleted FlowState = "partially_completed"
	FlowFailed             FlowState = "failed"
)

// Terminal reports whether the flow has finished a submission
func (s FlowState) Terminal() bool {
	return s == FlowCompleted || s == FlowPartiallyCompleted
}

// BusinessForm is the first onboarding step
type BusinessForm struct {
	Name               string   `json:"name"`
	Industry           string   `json:"industry"`
	Description        string   `json:"description,omitempty"`
	WebsiteURL         string   `json:"website_url,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	Email              string   `json:"email,omitempty"`
	EmployeeCountRange string   `json:"employee_count_range,omitempty"`
	AnnualRevenueRange string   `json:"annual_revenue_range,omitempty"`
	ActiveServices     []string `json:"active_services,omitempty"`
}

// InviteeForm is the second onboarding step
type InviteeForm struct {
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	JobTitle string          `json:"job_title,omitempty"`
	Role     models.UserRole `json:"role"`
}

// OnboardingFlow is one staff member's pass through business onboarding
type OnboardingFlow struct {
	ID           uuid.UUID    `json:"id"`
	CallerID     uuid.UUID    `json:"caller_id"`
	State        FlowState    `json:"state"`
	Business     BusinessForm `json:"business"`
	Invitee      InviteeForm  `json:"invitee"`
	BusinessID   *uuid.UUID   `json:"business_id,omitempty"`
	InvitationID *uuid.UUID   `json:"invitation_id,omitempty"`
	Message      string       `json:"message,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewOnboardingFlow starts a flow at the business step
func NewOnboardingFlow(callerID uuid.UUID, now time.Time) *OnboardingFlow {
	return &OnboardingFlow{
		ID:        uuid.New(),
		CallerID:  callerID,
		State:     FlowCollectingBusiness,
		UpdatedAt: now,
	}
}

// stale reports a submission that outlived its lock, which only happens when the worker died
func (f *OnboardingFlow) stale(now time.Time) bool {
	return f.State == FlowSubmitting && now.Sub(f.UpdatedAt) >= flowLockTTL
}

func (f *OnboardingFlow) busy() error {
	return NewConflictError("onboarding", "a submission is already in progress")
}

// SubmitBusiness validates the business step and moves on to the invitee step
func (f *OnboardingFlow) SubmitBusiness(form BusinessForm, now time.Time) error {
	if f.State == FlowSubmitting {
		return f.busy()
	}
	if f.State != FlowCollectingBusiness {
		return NewConflictError("onboarding", "business details can only be entered at the first step")
	}
	form = form.normalized()
	if err := form.Validate(); err != nil {
		return err
	}
	f.Business = form
	f.State = FlowCollectingInvitee
	f.Message = ""
	f.UpdatedAt = now
	return nil
}

// Back returns to the business step keeping the entered data
func (f *OnboardingFlow) Back(now time.Time) error {
	switch f.State {
	case FlowCollectingInvitee, FlowFailed:
	case FlowSubmitting:
		return f.busy()
	default:
		return NewConflictError("onboarding", "cannot go back from "+string(f.State))
	}
	f.State = FlowCollectingBusiness
	f.Message = ""
	f.UpdatedAt = now
	return nil
}

// BeginSubmit validates the invitee step and enters Submitting
func (f *OnboardingFlow) BeginSubmit(form InviteeForm, now time.Time) error {
	switch f.State {
	case FlowCollectingInvitee, FlowFailed:
	case FlowSubmitting:
		return f.busy()
	default:
		return NewConflictError("onboarding", "invitee details cannot be submitted from "+string(f.State))
	}
	form = form.normalized()
	if err := form.Validate(); err != nil {
		return err
	}
	f.Invitee = form
	f.State = FlowSubmitting
	f.Message = ""
	f.UpdatedAt = now
	return nil
}

// Fail records a business creation failure. Both forms are kept for retry.
func (f *OnboardingFlow) Fail(message string, now time.Time) {
	f.State = FlowFailed
	f.Message = message
	f.UpdatedAt = now
}

// PartiallyComplete records that the business exists but the invitation did not go out
func (f *OnboardingFlow) PartiallyComplete(businessID uuid.UUID, message string, now time.Time) {
	f.State = FlowPartiallyCompleted
	f.BusinessID = &businessID
	f.Message = message
	f.UpdatedAt = now
}

// Complete records a fully successful submission and clears both forms
func (f *OnboardingFlow) Complete(businessID, invitationID uuid.UUID, message string, now time.Time) {
	f.State = FlowCompleted
	f.BusinessID = &businessID
	f.InvitationID = &invitationID
	f.Business = BusinessForm{}
	f.Invitee = InviteeForm{}
	f.Message = message
	f.UpdatedAt = now
}

// Reset starts over from an empty business step
func (f *OnboardingFlow) Reset(now time.Time) error {
	if f.State == FlowSubmitting && !f.stale(now) {
		return f.busy()
	}
	f.State = FlowCollectingBusiness
	f.Business = BusinessForm{}
	f.Invitee = InviteeForm{}
	f.BusinessID = nil
	f.InvitationID = nil
	f.Message = ""
	f.UpdatedAt = now
	return nil
}

func (b BusinessForm) normalized() BusinessForm {
	b.Name = strings.TrimSpace(b.Name)
	b.Industry = strings.TrimSpace(b.Industry)
	b.Description = strings.TrimSpace(b.Description)
	b.WebsiteURL = strings.TrimSpace(b.WebsiteURL)
	b.Phone = strings.TrimSpace(b.Phone)
	b.Email = models.NormalizeEmail(b.Email)
	return b
}

// Validate checks the required business fields
func (b BusinessForm) Validate() error {
	if b.Name == "" {
		return NewValidationError("name", "business name is required", nil)
	}
	if models.Slugify(b.Name) == "" {
		return NewValidationError("name", "business name must contain letters or digits", nil)
	}
	if b.Industry == "" {
		return NewValidationError("industry", "industry is required", nil)
	}
	if b.Email != "" {
		if _, err := mail.ParseAddress(b.Email); err != nil {
			return NewValidationError("email", "invalid email address", nil)
		}
	}
	return nil
}

func (i InviteeForm) normalized() InviteeForm {
	i.Email = models.NormalizeEmail(i.Email)
	i.FullName = strings.TrimSpace(i.FullName)
	i.JobTitle = strings.TrimSpace(i.JobTitle)
	if i.Role == "" {
		i.Role = models.RolePrimaryClient
	}
	return i
}

// Validate checks the required invitee fields
func (i InviteeForm) Validate() error {
	if i.Email == "" {
		return NewValidationError("email", "email is required", nil)
	}
	if _, err := mail.ParseAddress(i.Email); err != nil {
		return NewValidationError("email", "invalid email address", nil)
	}
	if i.FullName == "" {
		return NewValidationError("full_name", "full name is required", nil)
	}
	if !authz.InvitableRole(i.Role) {
		return NewValidationError("role", "role cannot be granted by invitation",
			[]string{string(models.RolePrimaryClient), string(models.RoleEmployee)})
	}
	return nil
}
