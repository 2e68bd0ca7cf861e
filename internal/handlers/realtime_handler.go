package handlers

import (
	"net/http"

	"client-portal/internal/authz"
	"client-portal/internal/middleware"
	"client-portal/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RealtimeHandler upgrades change-feed subscriptions to WebSocket
type RealtimeHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewRealtimeHandler creates a new realtime handler. Upgrades are accepted from allowedOrigins,
// or from any origin when the list contains "*".
func NewRealtimeHandler(hub *realtime.Hub, allowedOrigins []string) *RealtimeHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// Subscribe opens a subscription to one table's changes, e.g. ?table=users&filter=id=eq.<uuid>.
// Callers outside the admin area are pinned to their own rows.
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	table := c.Query("table")
	if !realtime.ValidTable(table) {
		ErrorResponse(c, http.StatusBadRequest, "Unknown table: "+table, nil)
		return
	}

	filter, err := realtime.ParseFilter(c.Query("filter"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	column, allowed := authz.SubscriptionColumn(principal.Caller(), table)
	if !allowed {
		ErrorResponse(c, http.StatusForbidden, "You cannot subscribe to "+table, nil)
		return
	}
	if column != "" {
		own := &realtime.Filter{Column: column, Value: principal.UserID.String()}
		if filter != nil && *filter != *own {
			ErrorResponse(c, http.StatusForbidden, "Subscriptions to "+table+" are limited to your own rows", nil)
			return
		}
		filter = own
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Warn("Failed to upgrade WebSocket")
		return
	}

	client := realtime.NewClient(h.hub, conn, principal.UserID, table, filter)
	h.hub.Register(client)
	log.WithFields(logrus.Fields{
		"user_id": principal.UserID,
		"channel": client.Channel(),
		"filter":  filter.String(),
	}).Debug("Realtime subscription opened")

	go client.WritePump()
	go client.ReadPump()
}

// Status reports the number of open subscriptions per channel
func (h *RealtimeHandler) Status(c *gin.Context) {
	table := c.Query("table")
	if !realtime.ValidTable(table) {
		ErrorResponse(c, http.StatusBadRequest, "Unknown table: "+table, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "Subscription status retrieved", gin.H{
		"channel":     realtime.ChannelName(table),
		"subscribers": h.hub.SubscriberCount(realtime.ChannelName(table)),
	})
}
