package services

import (
	"testing"
	"time"

	"client-portal/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowHappyPath(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	assert.Equal(t, FlowCollectingBusiness, flow.State)

	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "  Acme  ", Industry: "Retail"}, now))
	assert.Equal(t, FlowCollectingInvitee, flow.State)
	assert.Equal(t, "Acme", flow.Business.Name)

	require.NoError(t, flow.BeginSubmit(InviteeForm{Email: "A@B.com", FullName: "Ann"}, now))
	assert.Equal(t, FlowSubmitting, flow.State)
	assert.Equal(t, "a@b.com", flow.Invitee.Email)
	assert.Equal(t, models.RolePrimaryClient, flow.Invitee.Role, "role defaults to primary client")

	flow.Complete(uuid.New(), uuid.New(), "done", now)
	assert.Equal(t, FlowCompleted, flow.State)
	assert.True(t, flow.State.Terminal())
	assert.Empty(t, flow.Business.Name)
	assert.Empty(t, flow.Invitee.Email)
}

func TestFlowBackKeepsData(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "Acme", Industry: "Retail"}, now))

	require.NoError(t, flow.Back(now))
	assert.Equal(t, FlowCollectingBusiness, flow.State)
	assert.Equal(t, "Acme", flow.Business.Name)

	err := flow.Back(now)
	_, isConflict := IsConflictError(err)
	assert.True(t, isConflict, "no step before the first")
}

func TestFlowSubmittingRejectsEverything(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "Acme", Industry: "Retail"}, now))
	require.NoError(t, flow.BeginSubmit(InviteeForm{Email: "a@b.com", FullName: "Ann"}, now))

	for name, err := range map[string]error{
		"submit":   flow.BeginSubmit(InviteeForm{Email: "a@b.com", FullName: "Ann"}, now),
		"back":     flow.Back(now),
		"reset":    flow.Reset(now),
		"business": flow.SubmitBusiness(BusinessForm{Name: "X", Industry: "Y"}, now),
	} {
		_, isConflict := IsConflictError(err)
		assert.True(t, isConflict, name)
	}
	assert.Equal(t, FlowSubmitting, flow.State)
}

func TestFlowFailedAllowsRetryAndBack(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "Acme", Industry: "Retail"}, now))
	require.NoError(t, flow.BeginSubmit(InviteeForm{Email: "a@b.com", FullName: "Ann"}, now))

	flow.Fail("duplicate key", now)
	assert.Equal(t, FlowFailed, flow.State)
	assert.Equal(t, "a@b.com", flow.Invitee.Email)

	require.NoError(t, flow.BeginSubmit(flow.Invitee, now))
	flow.Fail("again", now)
	require.NoError(t, flow.Back(now))
	assert.Equal(t, "Acme", flow.Business.Name)
}

func TestFlowPartialRequiresReset(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "Acme", Industry: "Retail"}, now))
	require.NoError(t, flow.BeginSubmit(InviteeForm{Email: "a@b.com", FullName: "Ann"}, now))
	businessID := uuid.New()
	flow.PartiallyComplete(businessID, "invite failed", now)

	assert.Equal(t, businessID, *flow.BusinessID)
	err := flow.BeginSubmit(flow.Invitee, now)
	_, isConflict := IsConflictError(err)
	assert.True(t, isConflict)

	require.NoError(t, flow.Reset(now))
	assert.Equal(t, FlowCollectingBusiness, flow.State)
	assert.Nil(t, flow.BusinessID)
	assert.Empty(t, flow.Business.Name)
}

func TestFlowValidation(t *testing.T) {
	tests := []struct {
		name  string
		form  InviteeForm
		field string
	}{
		{"missing email", InviteeForm{FullName: "Ann"}, "email"},
		{"bad email", InviteeForm{Email: "not-an-email", FullName: "Ann"}, "email"},
		{"missing name", InviteeForm{Email: "a@b.com"}, "full_name"},
		{"admin role", InviteeForm{Email: "a@b.com", FullName: "Ann", Role: models.RoleAdmin}, "role"},
		{"agent role", InviteeForm{Email: "a@b.com", FullName: "Ann", Role: models.RoleAgent}, "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.normalized().Validate()
			validationErr, ok := IsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	err := BusinessForm{Name: "Acme"}.Validate()
	validationErr, ok := IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "industry", validationErr.Field)
}

func TestFlowAbandonedSubmissionCanReset(t *testing.T) {
	now := time.Now()
	flow := NewOnboardingFlow(uuid.New(), now)
	require.NoError(t, flow.SubmitBusiness(BusinessForm{Name: "Acme", Industry: "Retail"}, now))
	require.NoError(t, flow.BeginSubmit(InviteeForm{Email: "a@b.com", FullName: "Ann"}, now))

	_, isConflict := IsConflictError(flow.Reset(now.Add(flowLockTTL - time.Second)))
	assert.True(t, isConflict)

	require.NoError(t, flow.Reset(now.Add(flowLockTTL)))
	assert.Equal(t, FlowCollectingBusiness, flow.State)
	assert.Empty(t, flow.Business.Name)
}
