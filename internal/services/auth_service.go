package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/config"
	"client-portal/internal/mailer"
	"client-portal/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// dummyHash levels sign-in timing for unknown addresses
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("client-portal-timing"), bcrypt.DefaultCost)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID    uuid.UUID       `json:"user_id"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	SessionID uuid.UUID       `json:"session_id"`
}

// Caller returns the authorization view of the principal
func (p *Principal) Caller() authz.Caller {
	return authz.Caller{ID: p.UserID, Role: p.Role}
}

// SessionResult is returned whenever a session is established or refreshed
type SessionResult struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

// AuthService signs users in and resolves sessions
type AuthService struct {
	users    UserStore
	sessions SessionStore
	links    *MagicLinks
	mailer   Mailer
	tokens   *TokenManager
	audit    *AuditService
	metrics  *Metrics
	cfg      config.AuthConfig
	logger   *logrus.Entry
	now      func() time.Time
}

// AuthDeps groups the collaborators of AuthService
type AuthDeps struct {
	Users    UserStore
	Sessions SessionStore
	Links    *MagicLinks
	Mailer   Mailer
	Tokens   *TokenManager
	Audit    *AuditService
	Metrics  *Metrics
	Config   config.AuthConfig
	Logger   *logrus.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(deps AuthDeps) *AuthService {
	return &AuthService{
		users:    deps.Users,
		sessions: deps.Sessions,
		links:    deps.Links,
		mailer:   deps.Mailer,
		tokens:   deps.Tokens,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		cfg:      deps.Config,
		logger:   deps.Logger.WithField("component", "auth"),
		now:      time.Now,
	}
}

// ============================================================================
// Password sign-in
// ============================================================================

// SignInRequest carries password credentials
type SignInRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code"`
	RememberMe bool   `json:"remember_me"`
}

// SignIn verifies a password (and second factor when enabled) and opens a session
func (s *AuthService) SignIn(ctx context.Context, req SignInRequest, meta models.RequestMeta) (*SessionResult, error) {
	email := models.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, NewValidationError("credentials", "email and password are required", nil)
	}

	identity, err := s.users.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if identity == nil || identity.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		s.metrics.signIn("invalid")
		return nil, ErrInvalidCredentials
	}

	user, err := s.EnsureUser(ctx, identity.ID, "", identity.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if user.IsLocked(now) {
		s.metrics.signIn("locked")
		return nil, &AccountLockedError{Until: user.LockedUntil.UTC().Format(time.RFC3339)}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)); err != nil {
		return nil, s.failSignIn(ctx, user, meta, ErrInvalidCredentials)
	}

	if user.TwoFactorEnabled {
		if req.TOTPCode == "" {
			s.metrics.signIn("totp_required")
			return nil, ErrTOTPRequired
		}
		if !validateTOTP(req.TOTPCode, identity.TOTPSecret, now) {
			return nil, s.failSignIn(ctx, user, meta, ErrInvalidTOTP)
		}
	}

	result, err := s.openSession(ctx, user, identity.Email, req.RememberMe, meta)
	if err != nil {
		return nil, err
	}
	s.metrics.signIn("success")
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(user.ID),
		EventType:   "sign_in",
		Category:    AuditCategoryAuth,
		Description: "Signed in with password",
		Meta:        meta,
	})
	return result, nil
}

func (s *AuthService) failSignIn(ctx context.Context, user *models.User, meta models.RequestMeta, cause error) error {
	lockout := time.Duration(s.cfg.LockoutMinutes) * time.Minute
	updated, err := s.users.RecordLoginFailure(ctx, user.ID, s.cfg.MaxFailedAttempts, lockout)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record sign-in failure")
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(user.ID),
		EventType:   "sign_in_failed",
		Category:    AuditCategoryAuth,
		Description: cause.Error(),
		Meta:        meta,
	})
	if updated != nil && updated.IsLocked(s.now()) {
		s.metrics.signIn("locked")
		return &AccountLockedError{Until: updated.LockedUntil.UTC().Format(time.RFC3339)}
	}
	s.metrics.signIn("invalid")
	return cause
}

// ============================================================================
// Sign-in links
// ============================================================================

// RequestMagicLink e-mails a one-time sign-in link. It succeeds whether or not the address
// has an account and whether or not the mail went out.
func (s *AuthService) RequestMagicLink(ctx context.Context, email, invitation string) error {
	email = models.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return NewValidationError("email", "invalid email address", nil)
	}

	ttl := time.Duration(s.cfg.MagicLinkTTLMinutes) * time.Minute
	link, err := s.links.Issue(ctx, LinkRequest{
		Email:      email,
		Type:       LinkTypeMagicLink,
		Invitation: invitation,
		TTL:        ttl,
	})
	if err != nil {
		s.metrics.magicLink("request", "error")
		s.logger.WithError(err).Error("Failed to issue sign-in link")
		return nil
	}
	if err := s.mailer.SendMagicLink(ctx, mailer.MagicLinkEmail{To: email, Link: link, ExpiresIn: ttl}); err != nil {
		s.metrics.magicLink("request", "error")
		s.logger.WithError(err).Warn("Failed to send sign-in link")
		return nil
	}
	s.metrics.magicLink("request", "success")
	return nil
}

// VerifyMagicLink redeems a sign-in link and opens a session for its address
func (s *AuthService) VerifyMagicLink(ctx context.Context, token, linkType string, meta models.RequestMeta) (*SessionResult, error) {
	data, err := s.links.Redeem(ctx, token, linkType)
	if err != nil {
		s.metrics.magicLink("verify", "error")
		return nil, err
	}

	now := s.now()
	identity, err := s.users.GetIdentityByEmail(ctx, data.Email)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		identity = &models.Identity{ID: uuid.New(), Email: data.Email, EmailConfirmedAt: &now}
		if err := s.users.CreateIdentity(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
	} else if identity.EmailConfirmedAt == nil {
		if err := s.users.UpdateIdentity(ctx, identity.ID, map[string]interface{}{"email_confirmed_at": now}); err != nil {
			s.logger.WithError(err).Warn("Failed to confirm e-mail")
		}
	}

	user, err := s.EnsureUser(ctx, identity.ID, data.FullName, identity.Email)
	if err != nil {
		return nil, err
	}
	if user.IsLocked(now) {
		return nil, &AccountLockedError{Until: user.LockedUntil.UTC().Format(time.RFC3339)}
	}

	result, err := s.openSession(ctx, user, identity.Email, false, meta)
	if err != nil {
		return nil, err
	}
	s.metrics.magicLink("verify", "success")
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(user.ID),
		EventType:   "sign_in",
		Category:    AuditCategoryAuth,
		Description: "Signed in with " + linkType + " link",
		Meta:        meta,
	})
	return result, nil
}

// ============================================================================
// Auth callback
// ============================================================================

// CallbackParams are the query parameters of the auth callback plus any existing session token
type CallbackParams struct {
	TokenHash   string
	Type        string
	Invitation  string
	AccessToken string
}

// CallbackResult says where the callback sends the browser
type CallbackResult struct {
	// Session is set when the callback minted a new session
	Session *SessionResult
	// Redirect is a site-relative path
	Redirect string
	Err      *SessionError
}

// HandleCallback establishes a session from a sign-in link, falling back to an existing session.
// Every failure, including a panic, becomes a redirect carrying a SessionError code.
func (s *AuthService) HandleCallback(ctx context.Context, params CallbackParams, meta models.RequestMeta) (result *CallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Auth callback panicked")
			result = s.callbackFailure(SessionErrorUnexpected, fmt.Errorf("panic: %v", r))
		}
	}()

	if params.TokenHash != "" && params.Type != "" {
		session, err := s.VerifyMagicLink(ctx, params.TokenHash, params.Type, meta)
		if err != nil {
			return s.callbackFailure(SessionErrorCallback, err)
		}
		return &CallbackResult{Session: session, Redirect: dashboardPath(params.Invitation)}
	}

	if params.AccessToken == "" {
		return s.callbackFailure(SessionErrorNoSession, nil)
	}
	if _, err := s.Authenticate(ctx, params.AccessToken); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return s.callbackFailure(SessionErrorNoSession, err)
		}
		return s.callbackFailure(SessionErrorCallback, err)
	}
	return &CallbackResult{Redirect: dashboardPath(params.Invitation)}
}

func (s *AuthService) callbackFailure(code string, err error) *CallbackResult {
	s.metrics.callbackError(code)
	if err != nil {
		s.logger.WithError(err).WithField("code", code).Warn("Auth callback failed")
	}
	return &CallbackResult{
		Redirect: "/?error=" + url.QueryEscape(code),
		Err:      &SessionError{Code: code, Err: err},
	}
}

func dashboardPath(invitation string) string {
	if invitation == "" {
		return "/dashboard"
	}
	return "/dashboard?invitation=" + url.QueryEscape(invitation)
}

// ============================================================================
// Sessions
// ============================================================================

// Authenticate resolves an access token to its principal. The role always comes from the
// profile row, which is provisioned on first use.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID || !session.Active(s.now()) {
		return nil, ErrUnauthenticated
	}

	user, err := s.EnsureUser(ctx, userID, "", claims.Email)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: user.ID, Email: claims.Email, Role: user.Role, SessionID: session.ID}, nil
}

// Refresh extends the principal's session and returns a new token
func (s *AuthService) Refresh(ctx context.Context, principal *Principal) (*SessionResult, error) {
	session, err := s.sessions.GetByID(ctx, principal.SessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if session == nil || !session.Active(now) {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	expiresAt := now.Add(s.sessionTTL(session.IsRememberMe))
	if err := s.sessions.Extend(ctx, session.ID, expiresAt); err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(user, principal.Email, session.ID, now, expiresAt)
	if err != nil {
		return nil, err
	}
	return &SessionResult{AccessToken: token, ExpiresAt: expiresAt, User: user}, nil
}

// SignOut ends the principal's session
func (s *AuthService) SignOut(ctx context.Context, principal *Principal, meta models.RequestMeta) error {
	if err := s.sessions.Expire(ctx, principal.SessionID); err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(principal.UserID),
		EventType:   "sign_out",
		Category:    AuditCategoryAuth,
		Description: "Signed out",
		Meta:        meta,
	})
	return nil
}

// CleanupSessions deletes sessions that expired before the retention window
func (s *AuthService) CleanupSessions(ctx context.Context, retention time.Duration) (int64, error) {
	return s.sessions.DeleteExpiredBefore(ctx, s.now().Add(-retention))
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, email string, rememberMe bool, meta models.RequestMeta) (*SessionResult, error) {
	now := s.now()
	expiresAt := now.Add(s.sessionTTL(rememberMe))

	handle, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	session := &models.Session{
		ID:             uuid.New(),
		UserID:         user.ID,
		SessionToken:   hashToken(handle),
		IPAddress:      optional(meta.IPAddress),
		IsRememberMe:   rememberMe,
		ExpiresAt:      expiresAt,
		LastActivityAt: now,
	}
	if meta.UserAgent != "" {
		if raw, err := json.Marshal(map[string]string{"user_agent": meta.UserAgent}); err == nil {
			session.DeviceInfo = datatypes.JSON(raw)
		}
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.users.RecordLoginSuccess(ctx, user.ID, meta.IPAddress); err != nil {
		s.logger.WithError(err).Warn("Failed to record sign-in")
	}

	token, err := s.tokens.Issue(user, email, session.ID, now, expiresAt)
	if err != nil {
		return nil, err
	}
	return &SessionResult{AccessToken: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AuthService) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return time.Duration(s.cfg.RememberMeDays) * 24 * time.Hour
	}
	return time.Duration(s.cfg.SessionTTLHours) * time.Hour
}

// ============================================================================
// Profiles and second factor
// ============================================================================

// EnsureUser returns the profile row for id, creating it on first use.
// The name comes from sign-up metadata, else the e-mail local part, else "New User".
func (s *AuthService) EnsureUser(ctx context.Context, id uuid.UUID, fullName, email string) (*models.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	user, err = s.users.CreateUserIfMissing(ctx, &models.User{
		ID:       id,
		FullName: displayName(fullName, email),
		Role:     models.RolePrimaryClient,
		Timezone: "UTC",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	s.logger.WithField("user_id", id).Info("Provisioned user profile")
	return user, nil
}

// SetPassword stores a new password for the principal
func (s *AuthService) SetPassword(ctx context.Context, principal *Principal, password string) error {
	if len(password) < 8 {
		return NewValidationError("password", "password must be at least 8 characters", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.UpdateIdentity(ctx, principal.UserID, map[string]interface{}{"password_hash": string(hash)})
}

// EnrollTOTP creates a pending second-factor secret. It is enforced only after ConfirmTOTP.
func (s *AuthService) EnrollTOTP(ctx context.Context, principal *Principal) (*TOTPEnrollment, error) {
	enrollment, err := generateTOTP(s.cfg.TOTPIssuer, principal.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateIdentity(ctx, principal.UserID, map[string]interface{}{"totp_secret": enrollment.Secret}); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmTOTP turns on two-factor sign-in once a code from the pending secret verifies
func (s *AuthService) ConfirmTOTP(ctx context.Context, principal *Principal, code string) error {
	identity, err := s.users.GetIdentity(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if identity == nil || identity.TOTPSecret == "" {
		return NewValidationError("totp", "two-factor enrollment has not been started", nil)
	}
	if !validateTOTP(strings.TrimSpace(code), identity.TOTPSecret, s.now()) {
		return ErrInvalidTOTP
	}
	if _, err := s.users.UpdateUser(ctx, principal.UserID, map[string]interface{}{"two_factor_enabled": true}); err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:      uuidPtr(principal.UserID),
		EventType:   "two_factor_enabled",
		Category:    AuditCategoryAuth,
		Description: "Enabled two-factor sign-in",
	})
	return nil
}
