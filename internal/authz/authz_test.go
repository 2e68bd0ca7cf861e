package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"client-portal/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	active      []models.Business
	connections []models.Connection
	activeCalls int
	err         error
}

func (f *fakeSource) ListActiveBusinesses(ctx context.Context) ([]models.Business, error) {
	f.activeCalls++
	return f.active, f.err
}

func (f *fakeSource) ListConnectionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Connection
	for _, c := range f.connections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestCanAccessAdminArea(t *testing.T) {
	assert.True(t, CanAccessAdminArea(models.RoleAdmin))
	assert.True(t, CanAccessAdminArea(models.RoleAgent))
	assert.False(t, CanAccessAdminArea(models.RolePrimaryClient))
	assert.False(t, CanAccessAdminArea(models.RoleEmployee))
	assert.False(t, CanAccessAdminArea(""))
	assert.False(t, CanAccessAdminArea("superuser"))
}

func TestCanEditUser(t *testing.T) {
	self := uuid.New()
	other := uuid.New()

	assert.True(t, CanEditUser(Caller{ID: self, Role: models.RoleEmployee}, self))
	assert.False(t, CanEditUser(Caller{ID: self, Role: models.RoleEmployee}, other))
	assert.False(t, CanEditUser(Caller{ID: self, Role: models.RoleAdmin}, other), "no admin override")
	assert.False(t, CanEditUser(Caller{}, uuid.Nil))
}

func TestCanViewUser(t *testing.T) {
	self := uuid.New()
	other := uuid.New()

	assert.True(t, CanViewUser(Caller{ID: self, Role: models.RolePrimaryClient}, self))
	assert.False(t, CanViewUser(Caller{ID: self, Role: models.RolePrimaryClient}, other))
	assert.True(t, CanViewUser(Caller{ID: self, Role: models.RoleAgent}, other))
}

func TestCanManageBusiness(t *testing.T) {
	agent := uuid.New()
	business := &models.Business{ID: uuid.New(), AgentID: agent}

	assert.True(t, CanManageBusiness(Caller{ID: uuid.New(), Role: models.RoleAdmin}, business))
	assert.True(t, CanManageBusiness(Caller{ID: agent, Role: models.RoleAgent}, business))
	assert.False(t, CanManageBusiness(Caller{ID: uuid.New(), Role: models.RoleAgent}, business))
	assert.False(t, CanManageBusiness(Caller{ID: agent, Role: models.RolePrimaryClient}, business))
	assert.False(t, CanManageBusiness(Caller{ID: agent, Role: models.RoleAdmin}, nil))
}

func TestVisibleBusinesses_ClientSeesOnlyActiveConnections(t *testing.T) {
	client := uuid.New()
	activeBiz := models.Business{ID: uuid.New(), Name: "Active Co", Status: models.BusinessActive}
	pendingBiz := models.Business{ID: uuid.New(), Name: "Pending Co", Status: models.BusinessActive}

	source := &fakeSource{
		active: []models.Business{activeBiz, pendingBiz},
		connections: []models.Connection{
			{UserID: client, BusinessID: activeBiz.ID, Status: models.ConnectionActive, Business: &activeBiz},
			{UserID: client, BusinessID: pendingBiz.ID, Status: models.ConnectionPending, Business: &pendingBiz},
		},
	}

	visible, err := VisibleBusinesses(context.Background(), Caller{ID: client, Role: models.RolePrimaryClient}, source)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, activeBiz.ID, visible[0].ID)
	assert.Zero(t, source.activeCalls, "client path must not read the full business list")
}

func TestVisibleBusinesses_InactiveConnectionHidden(t *testing.T) {
	employee := uuid.New()
	biz := models.Business{ID: uuid.New()}
	source := &fakeSource{connections: []models.Connection{
		{UserID: employee, BusinessID: biz.ID, Status: models.ConnectionInactive, Business: &biz},
	}}

	visible, err := VisibleBusinesses(context.Background(), Caller{ID: employee, Role: models.RoleEmployee}, source)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestVisibleBusinesses_AdminAreaSeesAllActive(t *testing.T) {
	businesses := []models.Business{{ID: uuid.New()}, {ID: uuid.New()}}
	source := &fakeSource{active: businesses}

	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleAgent} {
		visible, err := VisibleBusinesses(context.Background(), Caller{ID: uuid.New(), Role: role}, source)
		require.NoError(t, err)
		assert.Len(t, visible, 2)
	}
}

func TestVisibleBusinesses_PropagatesError(t *testing.T) {
	source := &fakeSource{err: errors.New("boom")}
	_, err := VisibleBusinesses(context.Background(), Caller{ID: uuid.New(), Role: models.RoleEmployee}, source)
	assert.EqualError(t, err, "boom")
}

func TestInvitableRole(t *testing.T) {
	assert.True(t, InvitableRole(models.RolePrimaryClient))
	assert.True(t, InvitableRole(models.RoleEmployee))
	assert.False(t, InvitableRole(models.RoleAdmin))
	assert.False(t, InvitableRole(models.RoleAgent))
}

func TestCheckInvitationAcceptable(t *testing.T) {
	now := time.Now()
	used := now.Add(-time.Hour)

	tests := []struct {
		name string
		inv  models.Invitation
		want error
	}{
		{"pending and fresh", models.Invitation{Status: models.InvitationPending, ExpiresAt: now.Add(time.Hour)}, nil},
		{"used token", models.Invitation{Status: models.InvitationPending, ExpiresAt: now.Add(time.Hour), UsedAt: &used}, ErrInvitationConsumed},
		{"accepted", models.Invitation{Status: models.InvitationAccepted, ExpiresAt: now.Add(time.Hour)}, ErrInvitationConsumed},
		{"revoked", models.Invitation{Status: models.InvitationRevoked, ExpiresAt: now.Add(time.Hour)}, ErrInvitationRevoked},
		{"expired status", models.Invitation{Status: models.InvitationExpired, ExpiresAt: now.Add(time.Hour)}, ErrInvitationExpired},
		{"past expiry", models.Invitation{Status: models.InvitationPending, ExpiresAt: now.Add(-time.Second)}, ErrInvitationExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInvitationAcceptable(&tt.inv, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubscriptionColumn(t *testing.T) {
	client := Caller{ID: uuid.New(), Role: models.RolePrimaryClient}
	agent := Caller{ID: uuid.New(), Role: models.RoleAgent}

	column, allowed := SubscriptionColumn(agent, "businesses")
	assert.True(t, allowed)
	assert.Empty(t, column)

	column, allowed = SubscriptionColumn(client, "users")
	assert.True(t, allowed)
	assert.Equal(t, "id", column)

	column, allowed = SubscriptionColumn(client, "user_business_connections")
	assert.True(t, allowed)
	assert.Equal(t, "user_id", column)

	_, allowed = SubscriptionColumn(client, "audit_logs")
	assert.False(t, allowed)
}
