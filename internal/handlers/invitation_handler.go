package handlers

import (
	"net/http"

	"client-portal/internal/middleware"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
)

// InvitationHandler handles invitations to businesses
type InvitationHandler struct {
	invitationService *services.InvitationService
}

// NewInvitationHandler creates a new invitation handler
func NewInvitationHandler(invitationService *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitationService: invitationService}
}

// ListInvitations lists a business's invitations with their effective status
func (h *InvitationHandler) ListInvitations(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}

	invitations, err := h.invitationService.ListForBusiness(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID)
	if err != nil {
		RespondError(c, err, "Failed to list invitations")
		return
	}

	SuccessResponse(c, http.StatusOK, "Invitations retrieved successfully", gin.H{
		"invitations": invitations,
		"count":       len(invitations),
	})
}

// CreateInvitation invites someone to an existing business
func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}

	var req services.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	inv, err := h.invitationService.InviteToBusiness(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID, req)
	if err != nil {
		RespondError(c, err, "Failed to send invitation")
		return
	}

	SuccessResponse(c, http.StatusCreated, "Invitation sent to "+inv.Email, inv)
}

// RevokeInvitation revokes a pending invitation
func (h *InvitationHandler) RevokeInvitation(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}
	invitationID, ok := parseID(c, "invitationId", "Invalid invitation ID")
	if !ok {
		return
	}

	if err := h.invitationService.Revoke(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID, invitationID); err != nil {
		RespondError(c, err, "Failed to revoke invitation")
		return
	}

	SuccessResponse(c, http.StatusOK, "Invitation revoked", nil)
}

// PreviewInvitation describes the invitation behind a token
func (h *InvitationHandler) PreviewInvitation(c *gin.Context) {
	preview, err := h.invitationService.Preview(c.Request.Context(), c.Query("token"))
	if err != nil {
		RespondError(c, err, "Failed to load invitation")
		return
	}

	SuccessResponse(c, http.StatusOK, "Invitation retrieved successfully", preview)
}

// AcceptInvitationRequest carries the invitation token from the sign-in link
type AcceptInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

// AcceptInvitation redeems an invitation for the signed-in user
func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	var req AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	principal := middleware.GetPrincipal(c)
	result, err := h.invitationService.Accept(c.Request.Context(), principal.Caller(), principal.Email, req.Token, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to accept invitation")
		return
	}

	SuccessResponse(c, http.StatusOK, "Invitation accepted", gin.H{
		"invitation": result.Invitation,
		"connection": result.Connection,
		"user":       result.User,
	})
}
