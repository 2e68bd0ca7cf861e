package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"client-portal/internal/mailer"
	"client-portal/internal/models"
	"client-portal/internal/redis"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func withPassword(t *testing.T, h *harness, user *models.User, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	h.db.mu.Lock()
	h.db.identities[user.ID].PasswordHash = string(hash)
	h.db.mu.Unlock()
}

// requestLink asks for a magic link and returns the token carried in the e-mailed URL
func requestLink(t *testing.T, h *harness, email, invitation string) (string, *url.URL) {
	t.Helper()
	var sent mailer.MagicLinkEmail
	h.mailer.On("SendMagicLink", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(mailer.MagicLinkEmail) }).
		Return(nil).Once()
	require.NoError(t, h.auth.RequestMagicLink(context.Background(), email, invitation))

	link, err := url.Parse(sent.Link)
	require.NoError(t, err)
	return link.Query().Get("token_hash"), link
}

func TestSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.db.addUser(models.RoleAgent, "agent@example.com")
	withPassword(t, h, user, "correct horse")

	result, err := h.auth.SignIn(ctx, SignInRequest{Email: " Agent@Example.com", Password: "correct horse"}, models.RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), result.ExpiresAt, time.Minute)

	principal, err := h.auth.Authenticate(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, models.RoleAgent, principal.Role)

	remembered, err := h.auth.SignIn(ctx, SignInRequest{Email: "agent@example.com", Password: "correct horse", RememberMe: true}, models.RequestMeta{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), remembered.ExpiresAt, time.Minute)

	_, err = h.auth.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "x"}, models.RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignInLocksAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.db.addUser(models.RolePrimaryClient, "jane@example.com")
	withPassword(t, h, user, "correct horse")
	bad := SignInRequest{Email: "jane@example.com", Password: "wrong"}

	for i := 0; i < 2; i++ {
		_, err := h.auth.SignIn(ctx, bad, models.RequestMeta{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := h.auth.SignIn(ctx, bad, models.RequestMeta{})
	var locked *AccountLockedError
	require.True(t, errors.As(err, &locked), "third failure locks the account, got %v", err)

	_, err = h.auth.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "correct horse"}, models.RequestMeta{})
	assert.True(t, errors.As(err, &locked), "correct password is refused while locked")
}

func TestTwoFactorSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.db.addUser(models.RolePrimaryClient, "jane@example.com")
	withPassword(t, h, user, "correct horse")
	principal := &Principal{UserID: user.ID, Email: "jane@example.com", Role: user.Role}

	enrollment, err := h.auth.EnrollTOTP(ctx, principal)
	require.NoError(t, err)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")

	assert.ErrorIs(t, h.auth.ConfirmTOTP(ctx, principal, "000000x"), ErrInvalidTOTP)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.auth.ConfirmTOTP(ctx, principal, code))

	req := SignInRequest{Email: "jane@example.com", Password: "correct horse"}
	_, err = h.auth.SignIn(ctx, req, models.RequestMeta{})
	assert.ErrorIs(t, err, ErrTOTPRequired)

	req.TOTPCode = "123"
	_, err = h.auth.SignIn(ctx, req, models.RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidTOTP)

	req.TOTPCode, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	_, err = h.auth.SignIn(ctx, req, models.RequestMeta{})
	assert.NoError(t, err)
}

func TestMagicLinkCallbackPassesInvitationThrough(t *testing.T) {
	h := newHarness(t)
	invitation := "tok_-A9 &?=x"
	token, link := requestLink(t, h, "New.Person@example.com", invitation)
	assert.Equal(t, "/auth/callback", link.Path)
	assert.Equal(t, LinkTypeMagicLink, link.Query().Get("type"))

	result := h.auth.HandleCallback(context.Background(), CallbackParams{
		TokenHash:  token,
		Type:       link.Query().Get("type"),
		Invitation: link.Query().Get("invitation"),
	}, models.RequestMeta{})
	require.Nil(t, result.Err)
	require.NotNil(t, result.Session)

	redirect, err := url.Parse(result.Redirect)
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", redirect.Path)
	assert.Equal(t, invitation, redirect.Query().Get("invitation"), "invitation reaches the dashboard unmodified")

	assert.Equal(t, "new.person", result.Session.User.FullName, "profile provisioned from the e-mail local part")
	assert.Equal(t, models.RolePrimaryClient, result.Session.User.Role)

	again := h.auth.HandleCallback(context.Background(), CallbackParams{TokenHash: token, Type: LinkTypeMagicLink}, models.RequestMeta{})
	require.NotNil(t, again.Err)
	assert.Equal(t, SessionErrorCallback, again.Err.Code, "links are single use")
	assert.Equal(t, "/?error=auth_callback_error", again.Redirect)
}

func TestCallbackWrongTypeFails(t *testing.T) {
	h := newHarness(t)
	token, _ := requestLink(t, h, "jane@example.com", "")

	result := h.auth.HandleCallback(context.Background(), CallbackParams{TokenHash: token, Type: LinkTypeInvite}, models.RequestMeta{})
	require.NotNil(t, result.Err)
	assert.Equal(t, SessionErrorCallback, result.Err.Code)
}

func TestCallbackFallsBackToExistingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.db.addUser(models.RolePrimaryClient, "jane@example.com")
	withPassword(t, h, user, "correct horse")
	session, err := h.auth.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "correct horse"}, models.RequestMeta{})
	require.NoError(t, err)

	result := h.auth.HandleCallback(ctx, CallbackParams{AccessToken: session.AccessToken}, models.RequestMeta{})
	assert.Nil(t, result.Err)
	assert.Nil(t, result.Session)
	assert.Equal(t, "/dashboard", result.Redirect)

	result = h.auth.HandleCallback(ctx, CallbackParams{}, models.RequestMeta{})
	require.NotNil(t, result.Err)
	assert.Equal(t, SessionErrorNoSession, result.Err.Code)
	assert.Equal(t, "/?error=no_session", result.Redirect)

	result = h.auth.HandleCallback(ctx, CallbackParams{AccessToken: "garbage"}, models.RequestMeta{})
	require.NotNil(t, result.Err)
	assert.Equal(t, SessionErrorNoSession, result.Err.Code)
}

func TestCallbackRecoversFromPanic(t *testing.T) {
	store := NewMemoryMagicLinkStore()
	links := NewMagicLinks(store, testSite)
	link, err := links.Issue(context.Background(), LinkRequest{Email: "a@example.com", Type: LinkTypeMagicLink, TTL: time.Hour})
	require.NoError(t, err)
	parsed, err := url.Parse(link)
	require.NoError(t, err)

	// no user store: the first lookup after redeeming the link panics
	auth := NewAuthService(AuthDeps{Links: links, Config: testAuthConfig(), Logger: quietLogger()})
	result := auth.HandleCallback(context.Background(), CallbackParams{
		TokenHash: parsed.Query().Get("token_hash"),
		Type:      LinkTypeMagicLink,
	}, models.RequestMeta{})
	require.NotNil(t, result.Err)
	assert.Equal(t, SessionErrorUnexpected, result.Err.Code)
	assert.Equal(t, "/?error=unexpected_error", result.Redirect)
}

func TestRequestMagicLinkNeverLeaksFailures(t *testing.T) {
	h := newHarness(t)
	h.mailer.On("SendMagicLink", mock.Anything, mock.Anything).
		Return(&mailer.DispatchError{Kind: mailer.KindUnavailable, Err: errors.New("breaker open")})

	assert.NoError(t, h.auth.RequestMagicLink(context.Background(), "ghost@example.com", ""))

	err := h.auth.RequestMagicLink(context.Background(), "not an email", "")
	_, isValidation := IsValidationError(err)
	assert.True(t, isValidation)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.db.addUser(models.RolePrimaryClient, "jane@example.com")
	withPassword(t, h, user, "correct horse")
	session, err := h.auth.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "correct horse"}, models.RequestMeta{})
	require.NoError(t, err)

	principal, err := h.auth.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)

	// role changes apply on the next request, not at the next sign-in
	h.db.mu.Lock()
	h.db.users[user.ID].Role = models.RoleAgent
	h.db.mu.Unlock()
	principal, err = h.auth.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, principal.Role)

	refreshed, err := h.auth.Refresh(ctx, principal)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	require.NoError(t, h.auth.SignOut(ctx, principal, models.RequestMeta{}))
	_, err = h.auth.Authenticate(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	deleted, err := h.auth.CleanupSessions(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestEnsureUserNaming(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	named, err := h.auth.EnsureUser(ctx, uuid.New(), "Jane Doe", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", named.FullName)

	local, err := h.auth.EnsureUser(ctx, uuid.New(), "", "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe", local.FullName)

	anon, err := h.auth.EnsureUser(ctx, uuid.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "New User", anon.FullName)
	assert.Equal(t, "UTC", anon.Timezone)

	again, err := h.auth.EnsureUser(ctx, named.ID, "Other Name", "")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", again.FullName, "existing rows are never overwritten")
}

func TestMagicLinkStoreIsSingleUse(t *testing.T) {
	store := NewMemoryMagicLinkStore()
	require.NoError(t, store.SaveMagicLink(context.Background(), "h", &redis.MagicLinkData{Email: "a@b.com", Type: LinkTypeMagicLink}, time.Minute))

	first, err := store.ConsumeMagicLink(context.Background(), "h")
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := store.ConsumeMagicLink(context.Background(), "h")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestMagicLinkStoreDropsExpiredLinksOnSave(t *testing.T) {
	store := NewMemoryMagicLinkStore()
	ctx := context.Background()
	require.NoError(t, store.SaveMagicLink(ctx, "stale", &redis.MagicLinkData{Email: "a@b.com", Type: LinkTypeMagicLink}, -time.Second))
	require.NoError(t, store.SaveMagicLink(ctx, "live", &redis.MagicLinkData{Email: "a@b.com", Type: LinkTypeMagicLink}, time.Minute))
	assert.Equal(t, 1, store.Len())

	stale, err := store.ConsumeMagicLink(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)
	live, err := store.ConsumeMagicLink(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, live)
}

func TestRevokedLinkCannotBeRedeemed(t *testing.T) {
	store := NewMemoryMagicLinkStore()
	links := NewMagicLinks(store, testSite)
	ctx := context.Background()
	link, err := links.Issue(ctx, LinkRequest{Email: "a@example.com", Type: LinkTypeInvite, Invitation: "tok", TTL: time.Hour})
	require.NoError(t, err)

	require.NoError(t, links.Revoke(ctx, link))
	assert.Equal(t, 0, store.Len())

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	_, err = links.Redeem(ctx, parsed.Query().Get("token_hash"), LinkTypeInvite)
	assert.ErrorIs(t, err, ErrInvalidLink)

	assert.ErrorIs(t, links.Revoke(ctx, testSite+"/auth/callback"), ErrInvalidLink)
}
