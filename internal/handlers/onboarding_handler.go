package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"client-portal/internal/authz"
	"client-portal/internal/middleware"
	"client-portal/internal/models"
	"client-portal/internal/repository"
	"client-portal/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OnboardingWorkflow is the flow API the handler drives. *services.OnboardingService implements it.
type OnboardingWorkflow interface {
	Start(ctx context.Context, caller authz.Caller) (*services.OnboardingFlow, error)
	Get(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*services.OnboardingFlow, error)
	SubmitBusiness(ctx context.Context, caller authz.Caller, flowID uuid.UUID, form services.BusinessForm) (*services.OnboardingFlow, error)
	Back(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*services.OnboardingFlow, error)
	Reset(ctx context.Context, caller authz.Caller, flowID uuid.UUID) (*services.OnboardingFlow, error)
	SubmitInvitee(ctx context.Context, caller authz.Caller, flowID uuid.UUID, form services.InviteeForm, meta models.RequestMeta) (*services.OnboardingResult, error)
}

// OnboardingHandler handles the business onboarding flow
type OnboardingHandler struct {
	onboardingService OnboardingWorkflow
}

// NewOnboardingHandler creates a new onboarding handler
func NewOnboardingHandler(onboardingService OnboardingWorkflow) *OnboardingHandler {
	return &OnboardingHandler{onboardingService: onboardingService}
}

// StartOnboarding opens a new flow at the business step
func (h *OnboardingHandler) StartOnboarding(c *gin.Context) {
	flow, err := h.onboardingService.Start(c.Request.Context(), middleware.GetPrincipal(c).Caller())
	if err != nil {
		RespondError(c, err, "Failed to start onboarding")
		return
	}

	SuccessResponse(c, http.StatusCreated, "Onboarding started", flow)
}

// GetOnboarding returns a flow owned by the caller
func (h *OnboardingHandler) GetOnboarding(c *gin.Context) {
	flowID, ok := parseID(c, "flowId", "Invalid onboarding ID")
	if !ok {
		return
	}

	flow, err := h.onboardingService.Get(c.Request.Context(), middleware.GetPrincipal(c).Caller(), flowID)
	if err != nil {
		RespondError(c, err, "Failed to retrieve onboarding")
		return
	}

	SuccessResponse(c, http.StatusOK, "Onboarding retrieved successfully", flow)
}

// SubmitBusiness completes the business step
func (h *OnboardingHandler) SubmitBusiness(c *gin.Context) {
	flowID, ok := parseID(c, "flowId", "Invalid onboarding ID")
	if !ok {
		return
	}

	var form services.BusinessForm
	if err := c.ShouldBindJSON(&form); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	flow, err := h.onboardingService.SubmitBusiness(c.Request.Context(), middleware.GetPrincipal(c).Caller(), flowID, form)
	if err != nil {
		RespondError(c, err, "Failed to save business details")
		return
	}

	SuccessResponse(c, http.StatusOK, "Business details saved", flow)
}

// Back returns the flow to the business step
func (h *OnboardingHandler) Back(c *gin.Context) {
	flowID, ok := parseID(c, "flowId", "Invalid onboarding ID")
	if !ok {
		return
	}

	flow, err := h.onboardingService.Back(c.Request.Context(), middleware.GetPrincipal(c).Caller(), flowID)
	if err != nil {
		RespondError(c, err, "Failed to go back")
		return
	}

	SuccessResponse(c, http.StatusOK, "Returned to business details", flow)
}

// Reset clears the flow
func (h *OnboardingHandler) Reset(c *gin.Context) {
	flowID, ok := parseID(c, "flowId", "Invalid onboarding ID")
	if !ok {
		return
	}

	flow, err := h.onboardingService.Reset(c.Request.Context(), middleware.GetPrincipal(c).Caller(), flowID)
	if err != nil {
		RespondError(c, err, "Failed to reset onboarding")
		return
	}

	SuccessResponse(c, http.StatusOK, "Onboarding reset", flow)
}

// SubmitInvitee creates the business and invites its primary client.
// A partial outcome answers 207 with the flow so the business is never reported as lost.
func (h *OnboardingHandler) SubmitInvitee(c *gin.Context) {
	flowID, ok := parseID(c, "flowId", "Invalid onboarding ID")
	if !ok {
		return
	}

	var form services.InviteeForm
	if err := c.ShouldBindJSON(&form); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	result, err := h.onboardingService.SubmitInvitee(c.Request.Context(), middleware.GetPrincipal(c).Caller(), flowID, form, requestMeta(c))
	if err == nil {
		SuccessResponse(c, http.StatusCreated, result.Flow.Message, result)
		return
	}
	if result == nil {
		RespondError(c, err, "Failed to submit onboarding")
		return
	}

	status := http.StatusBadGateway
	if _, partial := services.IsPartialWorkflowError(err); partial {
		status = http.StatusMultiStatus
	} else if errors.Is(err, repository.ErrDuplicate) {
		status = http.StatusConflict
	}
	log.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Warn("Onboarding submission did not complete")
	c.JSON(status, gin.H{
		"success":    false,
		"message":    result.Flow.Message,
		"state":      result.Flow.State,
		"data":       result,
		"request_id": middleware.GetRequestID(c),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func parseID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, message, err)
		return uuid.Nil, false
	}
	return id, true
}
