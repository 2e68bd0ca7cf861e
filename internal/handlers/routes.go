package handlers

import (
	"client-portal/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler of the portal
type Handlers struct {
	Auth        *AuthHandler
	Business    *BusinessHandler
	Invitation  *InvitationHandler
	Onboarding  *OnboardingHandler
	Profile     *ProfileHandler
	Realtime    *RealtimeHandler
	Health      *HealthHandler
	Authn       middleware.Authenticator
	SessionName string
}

// RegisterRoutes mounts the portal API on router
func RegisterRoutes(router gin.IRouter, h Handlers) {
	if h.Health != nil {
		router.GET("/health", h.Health.Health)
		router.GET("/ready", h.Health.Ready)
	}

	// Sign-in links land here and redirect to the front end
	router.GET("/auth/callback", h.Auth.Callback)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/sign-in", h.Auth.SignIn)
		v1.POST("/auth/magic-link", h.Auth.RequestMagicLink)
		v1.GET("/invitations/preview", h.Invitation.PreviewInvitation)

		authed := v1.Group("", middleware.Authenticate(h.Authn, h.SessionName))
		{
			auth := authed.Group("/auth")
			{
				auth.GET("/session", h.Auth.GetSession)
				auth.POST("/refresh", h.Auth.Refresh)
				auth.POST("/sign-out", h.Auth.SignOut)
				auth.PUT("/password", h.Auth.SetPassword)
				auth.POST("/totp/enroll", h.Auth.EnrollTOTP)
				auth.POST("/totp/confirm", h.Auth.ConfirmTOTP)
			}

			authed.GET("/dashboard", h.Business.Dashboard)
			authed.GET("/businesses", h.Business.ListBusinesses)
			authed.GET("/businesses/:businessId", h.Business.GetBusiness)
			authed.POST("/invitations/accept", h.Invitation.AcceptInvitation)

			users := authed.Group("/users")
			{
				users.GET("/:userId", h.Profile.GetUser)
				users.PATCH("/:userId", h.Profile.UpdateUser)
				users.POST("/:userId/avatar", h.Profile.UploadAvatar)
				users.GET("/:userId/activity", h.Profile.GetActivity)
			}

			authed.GET("/realtime", h.Realtime.Subscribe)

			admin := authed.Group("/admin", middleware.RequireAdminArea())
			{
				onboarding := admin.Group("/onboarding")
				{
					onboarding.POST("", h.Onboarding.StartOnboarding)
					onboarding.GET("/:flowId", h.Onboarding.GetOnboarding)
					onboarding.PUT("/:flowId/business", h.Onboarding.SubmitBusiness)
					onboarding.POST("/:flowId/back", h.Onboarding.Back)
					onboarding.POST("/:flowId/invitee", h.Onboarding.SubmitInvitee)
					onboarding.POST("/:flowId/reset", h.Onboarding.Reset)
				}

				businesses := admin.Group("/businesses/:businessId")
				{
					businesses.PATCH("/status", h.Business.UpdateStatus)
					businesses.POST("/connections/:connectionId/deactivate", h.Business.DeactivateConnection)
					businesses.GET("/invitations", h.Invitation.ListInvitations)
					businesses.POST("/invitations", h.Invitation.CreateInvitation)
					businesses.DELETE("/invitations/:invitationId", h.Invitation.RevokeInvitation)
				}

				admin.GET("/realtime/status", h.Realtime.Status)
			}
		}
	}
}
