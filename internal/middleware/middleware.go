package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context keys
const (
	RequestIDKey = "request_id"
	PrincipalKey = "principal"
)

// RequestID middleware generates or extracts correlation IDs for request tracing
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// StructuredLogger middleware logs requests with structured fields
func StructuredLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID, _ := c.Get(RequestIDKey)
		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"request_id": requestID,
		}
		if p := GetPrincipal(c); p != nil {
			fields["user_id"] = p.UserID
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// Authenticator resolves access tokens
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*services.Principal, error)
}

// Authenticate requires a valid session. The token is read from the bearer header, then the session cookie.
func Authenticate(auth Authenticator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := AccessToken(c, cookieName)
		if token == "" {
			abort(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if err == services.ErrUnauthenticated {
				abort(c, http.StatusUnauthorized, "Session is invalid or has expired")
				return
			}
			abort(c, http.StatusInternalServerError, "Failed to verify session")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// RequireAdminArea limits a route group to staff roles
func RequireAdminArea() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			abort(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !authz.CanAccessAdminArea(p.Role) {
			abort(c, http.StatusForbidden, "Access to the admin area is not allowed")
			return
		}
		c.Next()
	}
}

// AccessToken extracts the caller's token without validating it
func AccessToken(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil {
			return cookie
		}
	}
	return ""
}

// GetPrincipal returns the authenticated caller, or nil
func GetPrincipal(c *gin.Context) *services.Principal {
	if v, exists := c.Get(PrincipalKey); exists {
		if p, ok := v.(*services.Principal); ok {
			return p
		}
	}
	return nil
}

// GetRequestID returns the correlation ID of the request
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return c.GetHeader("X-Request-ID")
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"message":    message,
		"request_id": GetRequestID(c),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
