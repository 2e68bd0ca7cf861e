package handlers

import (
	"net/http"

	"client-portal/internal/middleware"
	"client-portal/internal/models"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
)

// BusinessHandler handles the dashboard and business administration
type BusinessHandler struct {
	businessService *services.BusinessService
}

// NewBusinessHandler creates a new business handler
func NewBusinessHandler(businessService *services.BusinessService) *BusinessHandler {
	return &BusinessHandler{businessService: businessService}
}

// Dashboard returns the caller's profile and the businesses they can see
func (h *BusinessHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.businessService.Dashboard(c.Request.Context(), middleware.GetPrincipal(c).Caller())
	if err != nil {
		RespondError(c, err, "Failed to load dashboard")
		return
	}

	SuccessResponse(c, http.StatusOK, "Dashboard retrieved successfully", dashboard)
}

// ListBusinesses lists the businesses visible to the caller
func (h *BusinessHandler) ListBusinesses(c *gin.Context) {
	businesses, err := h.businessService.ListVisible(c.Request.Context(), middleware.GetPrincipal(c).Caller())
	if err != nil {
		RespondError(c, err, "Failed to list businesses")
		return
	}

	SuccessResponse(c, http.StatusOK, "Businesses retrieved successfully", gin.H{
		"businesses": businesses,
		"count":      len(businesses),
	})
}

// GetBusiness returns one visible business
func (h *BusinessHandler) GetBusiness(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}

	business, err := h.businessService.Get(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID)
	if err != nil {
		RespondError(c, err, "Failed to retrieve business")
		return
	}

	SuccessResponse(c, http.StatusOK, "Business retrieved successfully", business)
}

// UpdateStatusRequest changes a business status
type UpdateStatusRequest struct {
	Status models.BusinessStatus `json:"status" binding:"required"`
}

// UpdateStatus activates or suspends a business
func (h *BusinessHandler) UpdateStatus(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	business, err := h.businessService.UpdateStatus(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID, req.Status, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to update business status")
		return
	}

	SuccessResponse(c, http.StatusOK, "Business status updated successfully", business)
}

// DeactivateConnection removes a user's access to a business
func (h *BusinessHandler) DeactivateConnection(c *gin.Context) {
	businessID, ok := parseID(c, "businessId", "Invalid business ID")
	if !ok {
		return
	}
	connectionID, ok := parseID(c, "connectionId", "Invalid connection ID")
	if !ok {
		return
	}

	conn, err := h.businessService.DeactivateConnection(c.Request.Context(), middleware.GetPrincipal(c).Caller(), businessID, connectionID, requestMeta(c))
	if err != nil {
		RespondError(c, err, "Failed to deactivate connection")
		return
	}

	SuccessResponse(c, http.StatusOK, "Connection deactivated successfully", conn)
}
