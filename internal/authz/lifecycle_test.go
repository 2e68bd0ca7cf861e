package authz

import (
	"testing"

	"client-portal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvitationTransitions(t *testing.T) {
	all := []models.InvitationStatus{
		models.InvitationPending, models.InvitationAccepted, models.InvitationExpired, models.InvitationRevoked,
	}

	assert.True(t, CanTransitionInvitation(models.InvitationPending, models.InvitationAccepted))
	assert.True(t, CanTransitionInvitation(models.InvitationPending, models.InvitationExpired))
	assert.True(t, CanTransitionInvitation(models.InvitationPending, models.InvitationRevoked))

	for _, from := range all {
		assert.False(t, CanTransitionInvitation(from, models.InvitationPending), "%s must never return to pending", from)
	}

	for _, from := range []models.InvitationStatus{models.InvitationAccepted, models.InvitationExpired, models.InvitationRevoked} {
		for _, to := range all {
			assert.False(t, CanTransitionInvitation(from, to), "%s is terminal, got transition to %s", from, to)
		}
	}
}

func TestConnectionTransitions(t *testing.T) {
	assert.True(t, CanTransitionConnection(models.ConnectionPending, models.ConnectionActive))
	assert.True(t, CanTransitionConnection(models.ConnectionActive, models.ConnectionInactive))
	assert.True(t, CanTransitionConnection(models.ConnectionPending, models.ConnectionInactive))

	assert.False(t, CanTransitionConnection(models.ConnectionActive, models.ConnectionPending))
	assert.False(t, CanTransitionConnection(models.ConnectionInactive, models.ConnectionActive))
	assert.False(t, CanTransitionConnection(models.ConnectionInactive, models.ConnectionPending))
}

func TestNextConnectionOnAccept(t *testing.T) {
	status, err := NextConnectionOnAccept(nil)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, status)

	status, err = NextConnectionOnAccept(&models.Connection{Status: models.ConnectionPending})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, status)

	status, err = NextConnectionOnAccept(&models.Connection{Status: models.ConnectionActive})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, status)

	_, err = NextConnectionOnAccept(&models.Connection{Status: models.ConnectionInactive})
	assert.ErrorIs(t, err, ErrConnectionInactive)
}

func TestCheckInvitable(t *testing.T) {
	assert.NoError(t, CheckInvitable(nil))
	assert.NoError(t, CheckInvitable(&models.Connection{Status: models.ConnectionPending}))
	assert.NoError(t, CheckInvitable(&models.Connection{Status: models.ConnectionActive}))
	assert.ErrorIs(t, CheckInvitable(&models.Connection{Status: models.ConnectionInactive}), ErrConnectionInactive)
}
