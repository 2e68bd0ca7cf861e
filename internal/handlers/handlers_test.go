package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"client-portal/internal/config"
	"client-portal/internal/middleware"
	"client-portal/internal/repository"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)
	SetLogger(quiet)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", services.NewValidationError("email", "a valid email is required", nil), http.StatusBadRequest, "a valid email is required"},
		{"conflict", services.NewConflictError("onboarding", "a submission is already in progress"), http.StatusConflict, "a submission is already in progress"},
		{"provider rejection", services.NewServiceError("issue_invitation", errors.New("mailbox unavailable")), http.StatusBadGateway, "mailbox unavailable"},
		{"duplicate slug", &services.ServiceError{Op: "create_business", Message: "slug taken", Err: repository.ErrDuplicate}, http.StatusConflict, "slug taken"},
		{"locked", &services.AccountLockedError{Until: "2026-01-01T00:00:00Z"}, http.StatusLocked, "account is temporarily locked until 2026-01-01T00:00:00Z"},
		{"bad password", services.ErrInvalidCredentials, http.StatusUnauthorized, services.ErrInvalidCredentials.Error()},
		{"forbidden", fmt.Errorf("wrapped: %w", services.ErrForbidden), http.StatusForbidden, "You do not have access to this resource"},
		{"not found", services.ErrNotFound, http.StatusNotFound, "Resource not found"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			RespondError(c, tt.err, "fallback")

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestRespondErrorFlagsSecondFactor(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	RespondError(c, services.ErrTOTPRequired, "fallback")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, true, decode(t, w)["totp_required"])
}

func newCallbackRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	auth := services.NewAuthService(services.AuthDeps{
		Links:  services.NewMagicLinks(services.NewMemoryMagicLinkStore(), "https://portal.example.com"),
		Tokens: services.NewTokenManager("test-secret", "client-portal"),
		Config: config.AuthConfig{CookieName: "portal_session"},
		Logger: logger,
	})
	handler := NewAuthHandler(auth, config.AuthConfig{CookieName: "portal_session"}, "https://portal.example.com/")

	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/auth/callback", handler.Callback)
	return r
}

func TestCallbackRedirectsWithErrorCodes(t *testing.T) {
	r := newCallbackRouter(t)

	tests := []struct {
		name     string
		target   string
		cookie   string
		location string
	}{
		{"no link and no session", "/auth/callback", "", "https://portal.example.com/?error=no_session"},
		{"unknown link", "/auth/callback?token_hash=forged&type=magiclink", "", "https://portal.example.com/?error=auth_callback_error"},
		{"stale session cookie", "/auth/callback?invitation=abc", "not-a-jwt", "https://portal.example.com/?error=no_session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "portal_session", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.location, w.Header().Get("Location"))
			assert.Empty(t, w.Result().Cookies(), "failed callbacks never set a session")
		})
	}
}
