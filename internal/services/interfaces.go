package services

import (
	"context"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/mailer"
	"client-portal/internal/models"
	natsclient "client-portal/internal/nats"
	"client-portal/internal/repository"

	"github.com/google/uuid"
)

// UserStore persists profiles and credentials
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUserIfMissing(ctx context.Context, user *models.User) (*models.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*models.User, error)
	RecordLoginFailure(ctx context.Context, id uuid.UUID, max int, lockout time.Duration) (*models.User, error)
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string) error
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	UpdateIdentity(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
}

// BusinessStore persists businesses and connections
type BusinessStore interface {
	authz.BusinessSource
	CreateBusiness(ctx context.Context, business *models.Business) error
	GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	DeactivateConnection(ctx context.Context, conn *models.Connection) error
	UpdateBusinessStatus(ctx context.Context, id uuid.UUID, status models.BusinessStatus) (int64, error)
}

// InvitationStore persists invitations
type InvitationStore interface {
	CreateWithDispatch(ctx context.Context, inv *models.Invitation, dispatch func(ctx context.Context, inv *models.Invitation) error) error
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	ListForBusiness(ctx context.Context, businessID uuid.UUID) ([]models.Invitation, error)
	// FindConnectionByEmail returns the business connection of the identity with email, or nil
	FindConnectionByEmail(ctx context.Context, businessID uuid.UUID, email string) (*models.Connection, error)
	Accept(ctx context.Context, params repository.AcceptParams) (*repository.AcceptResult, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore persists sign-in sessions
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	Expire(ctx context.Context, id uuid.UUID) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore appends and reads audit entries
type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error)
}

// Mailer sends portal e-mails
type Mailer interface {
	SendInvitation(ctx context.Context, data mailer.InvitationEmail) error
	SendMagicLink(ctx context.Context, data mailer.MagicLinkEmail) error
}

// ChangePublisher announces row changes to realtime subscribers
type ChangePublisher interface {
	PublishChange(ctx context.Context, table, changeType string, record interface{})
}

// EventPublisher emits lifecycle events for other services
type EventPublisher interface {
	PublishBusinessOnboarded(ctx context.Context, event *natsclient.BusinessOnboardedEvent) error
	PublishInvitation(ctx context.Context, eventType string, event *natsclient.InvitationEvent) error
}

// Change types and tables published on the change feed
const (
	changeInsert = "INSERT"
	changeUpdate = "UPDATE"

	tableUsers       = "users"
	tableBusinesses  = "businesses"
	tableConnections = "user_business_connections"
	tableInvitations = "invitations"
)

type noopChanges struct{}

func (noopChanges) PublishChange(context.Context, string, string, interface{}) {}

type noopEvents struct{}

func (noopEvents) PublishBusinessOnboarded(context.Context, *natsclient.BusinessOnboardedEvent) error {
	return nil
}

func (noopEvents) PublishInvitation(context.Context, string, *natsclient.InvitationEvent) error {
	return nil
}
