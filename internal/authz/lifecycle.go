package authz

import (
	"errors"
	"time"

	"client-portal/internal/models"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvitationConsumed = errors.New("invitation has already been used")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationRevoked  = errors.New("invitation has been revoked")
	ErrConnectionInactive = errors.New("connection has been deactivated")
)

var invitationTransitions = map[models.InvitationStatus][]models.InvitationStatus{
	models.InvitationPending: {models.InvitationAccepted, models.InvitationExpired, models.InvitationRevoked},
}

var connectionTransitions = map[models.ConnectionStatus][]models.ConnectionStatus{
	models.ConnectionPending: {models.ConnectionActive, models.ConnectionInactive},
	models.ConnectionActive:  {models.ConnectionInactive},
}

// CanTransitionInvitation reports whether an invitation may move from one status to another.
// accepted, expired and revoked are terminal.
func CanTransitionInvitation(from, to models.InvitationStatus) bool {
	for _, next := range invitationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionConnection reports whether a connection may move from one status to another.
func CanTransitionConnection(from, to models.ConnectionStatus) bool {
	for _, next := range connectionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckInvitationAcceptable returns nil when the invitation can be accepted at now
func CheckInvitationAcceptable(inv *models.Invitation, now time.Time) error {
	if inv.UsedAt != nil {
		return ErrInvitationConsumed
	}
	switch inv.Status {
	case models.InvitationPending:
	case models.InvitationAccepted:
		return ErrInvitationConsumed
	case models.InvitationExpired:
		return ErrInvitationExpired
	case models.InvitationRevoked:
		return ErrInvitationRevoked
	default:
		return ErrInvalidTransition
	}
	if !now.Before(inv.ExpiresAt) {
		return ErrInvitationExpired
	}
	return nil
}

// CheckInvitable returns ErrConnectionInactive when the invitee was already removed from the
// business. inactive is terminal, so a new invitation could never be accepted.
func CheckInvitable(current *models.Connection) error {
	if current != nil && current.Status == models.ConnectionInactive {
		return ErrConnectionInactive
	}
	return nil
}

// NextConnectionOnAccept decides what an accepted invitation does to an existing connection.
// A nil current means no connection exists yet.
func NextConnectionOnAccept(current *models.Connection) (models.ConnectionStatus, error) {
	if current == nil {
		return models.ConnectionActive, nil
	}
	switch current.Status {
	case models.ConnectionActive:
		return models.ConnectionActive, nil
	case models.ConnectionInactive:
		return "", ErrConnectionInactive
	}
	if !CanTransitionConnection(current.Status, models.ConnectionActive) {
		return "", ErrInvalidTransition
	}
	return models.ConnectionActive, nil
}
