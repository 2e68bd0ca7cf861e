package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/mailer"
	"client-portal/internal/models"
	"client-portal/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// Mailer mock
// ============================================================================

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendInvitation(ctx context.Context, data mailer.InvitationEmail) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *MockMailer) SendMagicLink(ctx context.Context, data mailer.MagicLinkEmail) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// ============================================================================
// Change recorder
// ============================================================================

type recordedChange struct {
	Table string
	Type  string
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (r *changeRecorder) PublishChange(_ context.Context, table, changeType string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, recordedChange{Table: table, Type: changeType})
}

func (r *changeRecorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tables := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		tables = append(tables, c.Table)
	}
	return tables
}

// ============================================================================
// In-memory stores
// ============================================================================

type memoryDB struct {
	mu          sync.Mutex
	identities  map[uuid.UUID]*models.Identity
	users       map[uuid.UUID]*models.User
	businesses  map[uuid.UUID]*models.Business
	connections map[uuid.UUID]*models.Connection
	invitations map[uuid.UUID]*models.Invitation
	sessions    map[uuid.UUID]*models.Session
	audits      []models.AuditLog

	createBusinessErr error
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		identities:  map[uuid.UUID]*models.Identity{},
		users:       map[uuid.UUID]*models.User{},
		businesses:  map[uuid.UUID]*models.Business{},
		connections: map[uuid.UUID]*models.Connection{},
		invitations: map[uuid.UUID]*models.Invitation{},
		sessions:    map[uuid.UUID]*models.Session{},
	}
}

// users

func (db *memoryDB) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (db *memoryDB) CreateUserIfMissing(_ context.Context, user *models.User) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[user.ID]; !ok {
		cp := *user
		db.users[user.ID] = &cp
	}
	cp := *db.users[user.ID]
	return &cp, nil
}

func (db *memoryDB) UpdateUser(_ context.Context, id uuid.UUID, updates map[string]interface{}) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return nil, nil
	}
	for field, value := range updates {
		switch field {
		case "full_name":
			u.FullName = value.(string)
		case "timezone":
			u.Timezone = value.(string)
		case "avatar_url":
			s := value.(string)
			u.AvatarURL = &s
		case "job_title":
			u.JobTitle = value.(*string)
		case "phone":
			u.Phone = value.(*string)
		case "two_factor_enabled":
			u.TwoFactorEnabled = value.(bool)
		case "data_processing_consent":
			u.DataProcessingConsent = value.(bool)
		case "marketing_consent":
			u.MarketingConsent = value.(bool)
		case "gdpr_consent_at":
			t := value.(time.Time)
			u.GDPRConsentAt = &t
		}
	}
	cp := *u
	return &cp, nil
}

func (db *memoryDB) RecordLoginFailure(_ context.Context, id uuid.UUID, max int, lockout time.Duration) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := db.users[id]
	u.FailedLoginAttempts++
	if max > 0 && u.FailedLoginAttempts >= max {
		until := time.Now().Add(lockout)
		u.LockedUntil = &until
	}
	cp := *u
	return &cp, nil
}

func (db *memoryDB) RecordLoginSuccess(_ context.Context, id uuid.UUID, ip string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := db.users[id]
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	now := time.Now()
	u.LastLoginAt = &now
	return nil
}

func (db *memoryDB) GetIdentityByEmail(_ context.Context, email string) (*models.Identity, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, identity := range db.identities {
		if identity.Email == email {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *memoryDB) GetIdentity(_ context.Context, id uuid.UUID) (*models.Identity, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if identity, ok := db.identities[id]; ok {
		cp := *identity
		return &cp, nil
	}
	return nil, nil
}

func (db *memoryDB) CreateIdentity(_ context.Context, identity *models.Identity) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *identity
	db.identities[identity.ID] = &cp
	return nil
}

func (db *memoryDB) UpdateIdentity(_ context.Context, id uuid.UUID, updates map[string]interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	identity, ok := db.identities[id]
	if !ok {
		return nil
	}
	for field, value := range updates {
		switch field {
		case "totp_secret":
			identity.TOTPSecret = value.(string)
		case "password_hash":
			identity.PasswordHash = value.(string)
		case "email_confirmed_at":
			t := value.(time.Time)
			identity.EmailConfirmedAt = &t
		}
	}
	return nil
}

// businesses

func (db *memoryDB) CreateBusiness(_ context.Context, business *models.Business) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.createBusinessErr != nil {
		return db.createBusinessErr
	}
	for _, b := range db.businesses {
		if b.Slug == business.Slug {
			return repository.ErrDuplicate
		}
	}
	cp := *business
	db.businesses[business.ID] = &cp
	return nil
}

func (db *memoryDB) GetBusiness(_ context.Context, id uuid.UUID) (*models.Business, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b, ok := db.businesses[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (db *memoryDB) ListActiveBusinesses(_ context.Context) ([]models.Business, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Business
	for _, b := range db.businesses {
		if b.Status == models.BusinessActive {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (db *memoryDB) ListConnectionsForUser(_ context.Context, userID uuid.UUID) ([]models.Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Connection
	for _, c := range db.connections {
		if c.UserID == userID {
			cp := *c
			if b, ok := db.businesses[c.BusinessID]; ok {
				bcp := *b
				cp.Business = &bcp
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (db *memoryDB) GetConnection(_ context.Context, id uuid.UUID) (*models.Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.connections[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (db *memoryDB) DeactivateConnection(_ context.Context, conn *models.Connection) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !authz.CanTransitionConnection(conn.Status, models.ConnectionInactive) {
		return authz.ErrInvalidTransition
	}
	stored := db.connections[conn.ID]
	if stored == nil || stored.Status != conn.Status {
		return repository.ErrStaleRecord
	}
	stored.Status = models.ConnectionInactive
	return nil
}

func (db *memoryDB) UpdateBusinessStatus(_ context.Context, id uuid.UUID, status models.BusinessStatus) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.businesses[id]
	if !ok {
		return 0, nil
	}
	b.Status = status
	if status == models.BusinessActive {
		return 0, nil
	}
	var count int64
	for _, c := range db.connections {
		if c.BusinessID == id && c.Status != models.ConnectionInactive {
			c.Status = models.ConnectionInactive
			count++
		}
	}
	return count, nil
}

// invitations

func (db *memoryDB) CreateWithDispatch(ctx context.Context, inv *models.Invitation, dispatch func(ctx context.Context, inv *models.Invitation) error) error {
	db.mu.Lock()
	cp := *inv
	db.invitations[inv.ID] = &cp
	db.mu.Unlock()

	if dispatch == nil {
		return nil
	}
	if err := dispatch(ctx, inv); err != nil {
		db.mu.Lock()
		delete(db.invitations, inv.ID)
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memoryDB) GetByToken(_ context.Context, token string) (*models.Invitation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, inv := range db.invitations {
		if inv.Token == token {
			cp := *inv
			if b, ok := db.businesses[inv.BusinessID]; ok {
				bcp := *b
				cp.Business = &bcp
			}
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *memoryDB) GetByID(_ context.Context, id uuid.UUID) (*models.Invitation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if inv, ok := db.invitations[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, nil
}

func (db *memoryDB) ListForBusiness(_ context.Context, businessID uuid.UUID) ([]models.Invitation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Invitation
	for _, inv := range db.invitations {
		if inv.BusinessID == businessID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (db *memoryDB) FindConnectionByEmail(_ context.Context, businessID uuid.UUID, email string) (*models.Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, identity := range db.identities {
		if identity.Email != models.NormalizeEmail(email) {
			continue
		}
		for _, c := range db.connections {
			if c.UserID == identity.ID && c.BusinessID == businessID {
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (db *memoryDB) Accept(_ context.Context, params repository.AcceptParams) (*repository.AcceptResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	inv, ok := db.invitations[params.InvitationID]
	if !ok {
		return nil, nil
	}
	if err := authz.CheckInvitationAcceptable(inv, params.At); err != nil {
		return nil, err
	}

	var current *models.Connection
	for _, c := range db.connections {
		if c.UserID == params.User.ID && c.BusinessID == inv.BusinessID {
			current = c
		}
	}
	next, err := authz.NextConnectionOnAccept(current)
	if err != nil {
		return nil, err
	}

	at := params.At
	inv.Status = models.InvitationAccepted
	inv.UsedAt = &at
	if _, exists := db.users[params.User.ID]; !exists {
		cp := *params.User
		db.users[params.User.ID] = &cp
	}
	if current == nil {
		current = &models.Connection{
			ID:         uuid.New(),
			UserID:     params.User.ID,
			BusinessID: inv.BusinessID,
			Role:       inv.Role,
			InvitedAt:  inv.CreatedAt,
		}
		db.connections[current.ID] = current
	}
	current.Status = next
	current.AcceptedAt = &at

	invCopy, connCopy, userCopy := *inv, *current, *db.users[params.User.ID]
	return &repository.AcceptResult{Invitation: &invCopy, Connection: &connCopy, User: &userCopy}, nil
}

func (db *memoryDB) Revoke(_ context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	inv, ok := db.invitations[id]
	if !ok || inv.Status != models.InvitationPending || inv.UsedAt != nil {
		return repository.ErrStaleRecord
	}
	inv.Status = models.InvitationRevoked
	return nil
}

func (db *memoryDB) MarkExpired(_ context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if inv, ok := db.invitations[id]; ok && inv.Status == models.InvitationPending {
		inv.Status = models.InvitationExpired
	}
	return nil
}

func (db *memoryDB) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var count int64
	for _, inv := range db.invitations {
		if inv.Status == models.InvitationPending && !now.Before(inv.ExpiresAt) {
			inv.Status = models.InvitationExpired
			count++
		}
	}
	return count, nil
}

// sessions

type sessionStore struct{ db *memoryDB }

func (s sessionStore) Create(_ context.Context, session *models.Session) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *session
	s.db.sessions[session.ID] = &cp
	return nil
}

func (s sessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if session, ok := s.db.sessions[id]; ok {
		cp := *session
		return &cp, nil
	}
	return nil, nil
}

func (s sessionStore) Extend(_ context.Context, id uuid.UUID, expiresAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	session.ExpiresAt = expiresAt
	return nil
}

func (s sessionStore) Expire(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if session, ok := s.db.sessions[id]; ok {
		session.ExpiresAt = time.Now().Add(-time.Second)
	}
	return nil
}

func (s sessionStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var count int64
	for id, session := range s.db.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(s.db.sessions, id)
			count++
		}
	}
	return count, nil
}

// audit

type auditStore struct{ db *memoryDB }

func (s auditStore) Create(_ context.Context, entry *models.AuditLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, *entry)
	return nil
}

func (s auditStore) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var logs []models.AuditLog
	for i := len(s.db.audits) - 1; i >= 0 && len(logs) < limit; i-- {
		if entry := s.db.audits[i]; entry.UserID != nil && *entry.UserID == userID {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}

func (db *memoryDB) counts() (businesses, invitations int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.businesses), len(db.invitations)
}

func (db *memoryDB) addBusiness(name string, agent uuid.UUID) *models.Business {
	b := &models.Business{
		ID:       uuid.New(),
		Name:     name,
		Slug:     models.Slugify(name),
		Industry: "Retail",
		AgentID:  agent,
		Status:   models.BusinessActive,
	}
	db.mu.Lock()
	db.businesses[b.ID] = b
	db.mu.Unlock()
	cp := *b
	return &cp
}

func (db *memoryDB) addUser(role models.UserRole, email string) *models.User {
	u := &models.User{ID: uuid.New(), FullName: "Test User", Role: role, Timezone: "UTC"}
	db.mu.Lock()
	db.users[u.ID] = u
	db.identities[u.ID] = &models.Identity{ID: u.ID, Email: email}
	db.mu.Unlock()
	cp := *u
	return &cp
}
