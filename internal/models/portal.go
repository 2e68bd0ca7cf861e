package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// UserRole mirrors the user_role enum
type UserRole string

const (
	RoleAdmin         UserRole = "admin"
	RoleAgent         UserRole = "agent"
	RolePrimaryClient UserRole = "primary_client"
	RoleEmployee      UserRole = "employee"
)

// Valid reports whether r is one of the enumerated roles
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RolePrimaryClient, RoleEmployee:
		return true
	}
	return false
}

// BusinessStatus mirrors the business_status enum
type BusinessStatus string

const (
	BusinessActive    BusinessStatus = "active"
	BusinessInactive  BusinessStatus = "inactive"
	BusinessSuspended BusinessStatus = "suspended"
)

func (s BusinessStatus) Valid() bool {
	switch s {
	case BusinessActive, BusinessInactive, BusinessSuspended:
		return true
	}
	return false
}

// ConnectionStatus mirrors the connection_status enum
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
)

// InvitationStatus mirrors the invitation_status enum
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// User is the profile row for an authenticated identity. The id is shared with Identity.
type User struct {
	ID                    uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	FullName              string         `json:"full_name" gorm:"not null"`
	JobTitle              *string        `json:"job_title"`
	AvatarURL             *string        `json:"avatar_url" gorm:"column:avatar_url"`
	Phone                 *string        `json:"phone"`
	Timezone              string         `json:"timezone" gorm:"not null;default:'UTC'"`
	Role                  UserRole       `json:"role" gorm:"type:varchar(32);not null;default:'primary_client';index"`
	TwoFactorEnabled      bool           `json:"two_factor_enabled" gorm:"not null;default:false"`
	LastLoginAt           *time.Time     `json:"last_login_at"`
	LastLoginIP           *string        `json:"last_login_ip" gorm:"column:last_login_ip"`
	FailedLoginAttempts   int            `json:"failed_login_attempts" gorm:"not null;default:0"`
	LockedUntil           *time.Time     `json:"locked_until"`
	EmailNotifications    datatypes.JSON `json:"email_notifications" gorm:"type:jsonb;default:'{}'"`
	DashboardPreferences  datatypes.JSON `json:"dashboard_preferences" gorm:"type:jsonb;default:'{}'"`
	GDPRConsentAt         *time.Time     `json:"gdpr_consent_at" gorm:"column:gdpr_consent_at"`
	DataProcessingConsent bool           `json:"data_processing_consent" gorm:"not null;default:false"`
	MarketingConsent      bool           `json:"marketing_consent" gorm:"not null;default:false"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// IsLocked reports whether sign-in is currently blocked for the user
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Business is a client organisation owned by a staff member (agent_id)
type Business struct {
	ID                 uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name               string         `json:"name" gorm:"not null"`
	Slug               string         `json:"slug" gorm:"uniqueIndex;not null"`
	Industry           string         `json:"industry" gorm:"not null"`
	Description        *string        `json:"description"`
	WebsiteURL         *string        `json:"website_url" gorm:"column:website_url"`
	Phone              *string        `json:"phone"`
	Email              *string        `json:"email"`
	Address            datatypes.JSON `json:"address" gorm:"type:jsonb"`
	EmployeeCountRange *string        `json:"employee_count_range"`
	AnnualRevenueRange *string        `json:"annual_revenue_range"`
	ActiveServices     pq.StringArray `json:"active_services" gorm:"type:text[];not null;default:'{}'"`
	ServiceSettings    datatypes.JSON `json:"service_settings" gorm:"type:jsonb;default:'{}'"`
	AgentID            uuid.UUID      `json:"agent_id" gorm:"type:uuid;not null;index"`
	PlausibleDomain    *string        `json:"plausible_domain"`
	AnalyticsSettings  datatypes.JSON `json:"analytics_settings" gorm:"type:jsonb;default:'{}'"`
	Status             BusinessStatus `json:"status" gorm:"type:varchar(32);not null;default:'active';index"`
	OnboardingComplete bool           `json:"onboarding_completed" gorm:"column:onboarding_completed;not null;default:false"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Business) TableName() string {
	return "businesses"
}

// Connection links one user to one business with a role scoped to that business
type Connection struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID      uuid.UUID        `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_connection_user_business"`
	BusinessID  uuid.UUID        `json:"business_id" gorm:"type:uuid;not null;uniqueIndex:idx_connection_user_business;index"`
	Role        UserRole         `json:"role" gorm:"type:varchar(32);not null"`
	Permissions datatypes.JSON   `json:"permissions" gorm:"type:jsonb;default:'{}'"`
	Status      ConnectionStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending';index"`
	InvitedAt   time.Time        `json:"invited_at" gorm:"not null"`
	AcceptedAt  *time.Time       `json:"accepted_at"`
	InvitedBy   *uuid.UUID       `json:"invited_by" gorm:"type:uuid"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	Business *Business `json:"business,omitempty" gorm:"foreignKey:BusinessID"`
}

func (Connection) TableName() string {
	return "user_business_connections"
}

// Invitation is a single-use, expiring grant of a role on a business to an email address
type Invitation struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BusinessID  uuid.UUID        `json:"business_id" gorm:"type:uuid;not null;index"`
	Email       string           `json:"email" gorm:"not null;index"`
	Role        UserRole         `json:"role" gorm:"type:varchar(32);not null"`
	Permissions datatypes.JSON   `json:"permissions" gorm:"type:jsonb;default:'{}'"`
	FullName    *string          `json:"full_name"`
	JobTitle    *string          `json:"job_title"`
	InvitedBy   uuid.UUID        `json:"invited_by" gorm:"type:uuid;not null"`
	Token       string           `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt   time.Time        `json:"expires_at" gorm:"not null;index"`
	UsedAt      *time.Time       `json:"used_at"`
	Status      InvitationStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending';index"`
	CreatedAt   time.Time        `json:"created_at"`

	Business *Business `json:"business,omitempty" gorm:"foreignKey:BusinessID"`
}

func (Invitation) TableName() string {
	return "invitations"
}

// AuditLog is an append-only activity record
type AuditLog struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID        *uuid.UUID     `json:"user_id" gorm:"type:uuid;index"`
	BusinessID    *uuid.UUID     `json:"business_id" gorm:"type:uuid;index"`
	EventType     string         `json:"event_type" gorm:"not null;index"`
	EventCategory string         `json:"event_category" gorm:"not null"`
	Description   *string        `json:"description"`
	IPAddress     *string        `json:"ip_address" gorm:"column:ip_address"`
	UserAgent     *string        `json:"user_agent"`
	RequestPath   *string        `json:"request_path"`
	Metadata      datatypes.JSON `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// Session backs an issued access token. Only expiry and activity are ever refreshed.
type Session struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID         uuid.UUID      `json:"user_id" gorm:"type:uuid;not null;index"`
	SessionToken   string         `json:"-" gorm:"uniqueIndex;not null"`
	DeviceInfo     datatypes.JSON `json:"device_info" gorm:"type:jsonb"`
	IPAddress      *string        `json:"ip_address" gorm:"column:ip_address"`
	LocationData   datatypes.JSON `json:"location_data" gorm:"type:jsonb"`
	IsRememberMe   bool           `json:"is_remember_me" gorm:"not null;default:false"`
	ExpiresAt      time.Time      `json:"expires_at" gorm:"not null;index"`
	LastActivityAt time.Time      `json:"last_activity_at" gorm:"not null"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (Session) TableName() string {
	return "user_sessions"
}

// Active reports whether the session can still authenticate requests
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Identity holds sign-in credentials for a user id
type Identity struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	Email            string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash     string     `json:"-"`
	TOTPSecret       string     `json:"-" gorm:"column:totp_secret"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Identity) TableName() string {
	return "auth_identities"
}

// NormalizeEmail lower-cases and trims an address for storage and comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestMeta carries request details recorded on audit and session rows
type RequestMeta struct {
	IPAddress   string
	UserAgent   string
	RequestPath string
}

// AllModels lists every table managed by migrations
func AllModels() []interface{} {
	return []interface{}{
		&Identity{},
		&User{},
		&Business{},
		&Connection{},
		&Invitation{},
		&AuditLog{},
		&Session{},
	}
}
