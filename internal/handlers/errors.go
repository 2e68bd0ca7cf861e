package handlers

import (
	"errors"
	"net/http"
	"time"

	"client-portal/internal/middleware"
	"client-portal/internal/repository"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
)

// RespondError maps a service error onto the response envelope.
// fallback is the message used for unexpected failures.
func RespondError(c *gin.Context, err error, fallback string) {
	if validationErr, ok := services.IsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":     false,
			"message":     validationErr.Message,
			"errors":      map[string]string{validationErr.Field: validationErr.Message},
			"suggestions": validationErr.Suggestions,
			"request_id":  middleware.GetRequestID(c),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if conflictErr, ok := services.IsConflictError(err); ok {
		ErrorResponse(c, http.StatusConflict, conflictErr.Message, err)
		return
	}
	if serviceErr, ok := services.IsServiceError(err); ok {
		status := http.StatusBadGateway
		if errors.Is(err, repository.ErrDuplicate) {
			status = http.StatusConflict
		}
		ErrorResponse(c, status, serviceErr.Message, err)
		return
	}

	var lockedErr *services.AccountLockedError
	switch {
	case errors.As(err, &lockedErr):
		ErrorResponse(c, http.StatusLocked, lockedErr.Error(), err)
	case errors.Is(err, services.ErrTOTPRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"success":       false,
			"message":       err.Error(),
			"totp_required": true,
			"request_id":    middleware.GetRequestID(c),
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		})
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidTOTP),
		errors.Is(err, services.ErrInvalidLink),
		errors.Is(err, services.ErrUnauthenticated):
		ErrorResponse(c, http.StatusUnauthorized, err.Error(), err)
	case errors.Is(err, services.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, "You do not have access to this resource", err)
	case errors.Is(err, services.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Resource not found", err)
	default:
		ErrorResponse(c, http.StatusInternalServerError, fallback, err)
	}
}
