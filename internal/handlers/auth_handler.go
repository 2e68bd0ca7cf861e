package handlers

import (
	"net/http"
	"strings"
	"time"

	"client-portal/internal/config"
	"client-portal/internal/middleware"
	"client-portal/internal/models"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles sign-in, sign-in links and sessions
type AuthHandler struct {
	authService *services.AuthService
	cfg         config.AuthConfig
	siteURL     string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, cfg config.AuthConfig, siteURL string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cfg:         cfg,
		siteURL:     strings.TrimRight(siteURL, "/"),
	}
}

// SignIn verifies a password and opens a session
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req services.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	session, err := h.authService.SignIn(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to sign in")
		return
	}

	h.setSessionCookie(c, session)
	SuccessResponse(c, http.StatusOK, "Signed in successfully", session)
}

// MagicLinkRequest asks for a sign-in link
type MagicLinkRequest struct {
	Email      string `json:"email" binding:"required"`
	Invitation string `json:"invitation"`
}

// RequestMagicLink e-mails a sign-in link. The response never reveals whether the address is known.
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.authService.RequestMagicLink(c.Request.Context(), req.Email, req.Invitation); err != nil {
		RespondError(c, err, "Failed to send sign-in link")
		return
	}

	SuccessResponse(c, http.StatusAccepted, "Check your e-mail for a sign-in link", nil)
}

// Callback completes a sign-in link and redirects the browser to the dashboard or back to sign-in
func (h *AuthHandler) Callback(c *gin.Context) {
	result := h.authService.HandleCallback(c.Request.Context(), services.CallbackParams{
		TokenHash:   c.Query("token_hash"),
		Type:        c.Query("type"),
		Invitation:  c.Query("invitation"),
		AccessToken: middleware.AccessToken(c, h.cfg.CookieName),
	}, requestMeta(c))

	if result.Session != nil {
		h.setSessionCookie(c, result.Session)
	}
	c.Redirect(http.StatusFound, h.siteURL+result.Redirect)
}

// GetSession returns the signed-in principal
func (h *AuthHandler) GetSession(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "Session retrieved successfully", middleware.GetPrincipal(c))
}

// Refresh extends the current session
func (h *AuthHandler) Refresh(c *gin.Context) {
	session, err := h.authService.Refresh(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		RespondError(c, err, "Failed to refresh session")
		return
	}

	h.setSessionCookie(c, session)
	SuccessResponse(c, http.StatusOK, "Session refreshed successfully", session)
}

// SignOut ends the current session
func (h *AuthHandler) SignOut(c *gin.Context) {
	if err := h.authService.SignOut(c.Request.Context(), middleware.GetPrincipal(c), requestMeta(c)); err != nil {
		RespondError(c, err, "Failed to sign out")
		return
	}

	h.clearSessionCookie(c)
	SuccessResponse(c, http.StatusOK, "Signed out successfully", nil)
}

// SetPasswordRequest sets a password for password sign-in
type SetPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// SetPassword stores a password for the signed-in user
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req SetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.authService.SetPassword(c.Request.Context(), middleware.GetPrincipal(c), req.Password); err != nil {
		RespondError(c, err, "Failed to set password")
		return
	}

	SuccessResponse(c, http.StatusOK, "Password updated successfully", nil)
}

// EnrollTOTP starts two-factor enrollment
func (h *AuthHandler) EnrollTOTP(c *gin.Context) {
	enrollment, err := h.authService.EnrollTOTP(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		RespondError(c, err, "Failed to start two-factor enrollment")
		return
	}

	SuccessResponse(c, http.StatusOK, "Scan the code with your authenticator app", enrollment)
}

// ConfirmTOTPRequest carries the first code from the authenticator app
type ConfirmTOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

// ConfirmTOTP turns on two-factor sign-in
func (h *AuthHandler) ConfirmTOTP(c *gin.Context) {
	var req ConfirmTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.authService.ConfirmTOTP(c.Request.Context(), middleware.GetPrincipal(c), req.Code); err != nil {
		RespondError(c, err, "Failed to confirm two-factor enrollment")
		return
	}

	SuccessResponse(c, http.StatusOK, "Two-factor sign-in enabled", nil)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, session *services.SessionResult) {
	if h.cfg.CookieName == "" {
		return
	}
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, session.AccessToken, maxAge, "/", "", h.cfg.CookieSecure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	if h.cfg.CookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, "", -1, "/", "", h.cfg.CookieSecure, true)
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		RequestPath: c.Request.URL.Path,
	}
}
