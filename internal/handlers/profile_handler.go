package handlers

import (
	"net/http"
	"strconv"

	"client-portal/internal/middleware"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
)

// ProfileHandler handles user profiles and avatars
type ProfileHandler struct {
	profileService *services.ProfileService
	auditService   *services.AuditService
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profileService *services.ProfileService, auditService *services.AuditService) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		auditService:   auditService,
	}
}

// GetUser returns a profile the caller is allowed to view
func (h *ProfileHandler) GetUser(c *gin.Context) {
	userID, ok := parseID(c, "userId", "Invalid user ID")
	if !ok {
		return
	}

	user, err := h.profileService.GetUser(c.Request.Context(), middleware.GetPrincipal(c).Caller(), userID)
	if err != nil {
		RespondError(c, err, "Failed to retrieve user")
		return
	}

	SuccessResponse(c, http.StatusOK, "User retrieved successfully", user)
}

// UpdateUser applies a self-service profile edit
func (h *ProfileHandler) UpdateUser(c *gin.Context) {
	userID, ok := parseID(c, "userId", "Invalid user ID")
	if !ok {
		return
	}

	var update services.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	user, err := h.profileService.UpdateProfile(c.Request.Context(), middleware.GetPrincipal(c).Caller(), userID, update, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to update profile")
		return
	}

	SuccessResponse(c, http.StatusOK, "Profile updated successfully", user)
}

// UploadAvatar stores a new avatar from the multipart "avatar" field
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	userID, ok := parseID(c, "userId", "Invalid user ID")
	if !ok {
		return
	}

	header, err := c.FormFile("avatar")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "An image file is required in the avatar field", err)
		return
	}
	file, err := header.Open()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to read uploaded file", err)
		return
	}
	defer file.Close()

	user, err := h.profileService.UploadAvatar(c.Request.Context(), middleware.GetPrincipal(c).Caller(), userID, services.AvatarUpload{
		Size:    header.Size,
		Content: file,
	}, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to upload avatar")
		return
	}

	SuccessResponse(c, http.StatusOK, "Avatar updated successfully", user)
}

// GetActivity returns the user's recent audit trail
func (h *ProfileHandler) GetActivity(c *gin.Context) {
	userID, ok := parseID(c, "userId", "Invalid user ID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := h.auditService.Activity(c.Request.Context(), middleware.GetPrincipal(c).Caller(), userID, limit)
	if err != nil {
		RespondError(c, err, "Failed to retrieve activity")
		return
	}

	SuccessResponse(c, http.StatusOK, "Activity retrieved successfully", gin.H{
		"activity": logs,
		"count":    len(logs),
	})
}
