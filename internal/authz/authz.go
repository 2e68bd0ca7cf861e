// Package authz holds every role and lifecycle rule of the portal. Handlers, middleware and
// services call into it instead of comparing roles themselves.
package authz

import (
	"context"

	"client-portal/internal/models"

	"github.com/google/uuid"
)

// Caller identifies who is performing an action
type Caller struct {
	ID   uuid.UUID
	Role models.UserRole
}

// CanAccessAdminArea gates every admin-only surface.
func CanAccessAdminArea(role models.UserRole) bool {
	return role == models.RoleAdmin || role == models.RoleAgent
}

// CanEditUser allows self-service edits only.
func CanEditUser(caller Caller, targetUserID uuid.UUID) bool {
	return caller.ID != uuid.Nil && caller.ID == targetUserID
}

// CanViewUser allows reading your own profile, or any profile from the admin area
func CanViewUser(caller Caller, targetUserID uuid.UUID) bool {
	return CanEditUser(caller, targetUserID) || CanAccessAdminArea(caller.Role)
}

// CanManageBusiness allows admins everywhere and agents on the businesses they own
func CanManageBusiness(caller Caller, business *models.Business) bool {
	if business == nil {
		return false
	}
	switch caller.Role {
	case models.RoleAdmin:
		return true
	case models.RoleAgent:
		return business.AgentID == caller.ID
	}
	return false
}

// BusinessSource provides the rows VisibleBusinesses chooses from
type BusinessSource interface {
	ListActiveBusinesses(ctx context.Context) ([]models.Business, error)
	ListConnectionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Connection, error)
}

// VisibleBusinesses returns the businesses a caller's dashboard may show.
// Admin area callers see every active business; everyone else sees only businesses reached
// through an active connection.
func VisibleBusinesses(ctx context.Context, caller Caller, source BusinessSource) ([]models.Business, error) {
	if CanAccessAdminArea(caller.Role) {
		return source.ListActiveBusinesses(ctx)
	}

	connections, err := source.ListConnectionsForUser(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	visible := make([]models.Business, 0, len(connections))
	seen := make(map[uuid.UUID]bool, len(connections))
	for _, conn := range connections {
		if conn.Status != models.ConnectionActive || conn.Business == nil || seen[conn.BusinessID] {
			continue
		}
		seen[conn.BusinessID] = true
		visible = append(visible, *conn.Business)
	}
	return visible, nil
}

// InvitableRole reports whether a role may be granted through an invitation
func InvitableRole(role models.UserRole) bool {
	return role == models.RolePrimaryClient || role == models.RoleEmployee
}

// SubscriptionColumn says how a caller's change subscription to table must be narrowed.
// An empty column means the caller may subscribe with any filter. allowed is false when the
// caller may not watch the table at all.
func SubscriptionColumn(caller Caller, table string) (column string, allowed bool) {
	if CanAccessAdminArea(caller.Role) {
		return "", true
	}
	switch table {
	case "users":
		return "id", true
	case "user_business_connections":
		return "user_id", true
	}
	return "", false
}
