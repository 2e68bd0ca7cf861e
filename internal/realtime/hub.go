package realtime

import (
	"bytes"
	"encoding/json"
	"sync"

	natsclient "client-portal/internal/nats"

	"github.com/sirupsen/logrus"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeChange       MessageType = "change"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
)

// OutgoingMessage represents a message sent to clients
type OutgoingMessage struct {
	Type    MessageType `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// IncomingMessage represents a message received from clients
type IncomingMessage struct {
	Type string `json:"type"`
}

// SubscribedData is sent once a client joins a channel
type SubscribedData struct {
	ClientID string `json:"client_id"`
	Filter   string `json:"filter,omitempty"`
}

// ErrorData represents error message data
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Hub fans change events out to subscribed clients
type Hub struct {
	// channels maps channel name -> client id -> client
	channels map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	shutdown   chan struct{}
	once       sync.Once
	logger     *logrus.Entry
}

// NewHub creates a new Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		channels:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		logger:     logger.WithField("component", "realtime_hub"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-h.shutdown:
			h.closeAllClients()
			return
		}
	}
}

// Shutdown closes every subscription and stops the loop
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.shutdown) })
}

// Register adds a client to its channel
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.shutdown:
		client.closeSend()
	}
}

// Unregister removes a client and closes its send queue. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.shutdown:
	}
}

// SubscriberCount returns the number of clients on a channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := client.Channel()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]*Client)
	}
	h.channels[channel][client.ID] = client
	h.logger.WithFields(logrus.Fields{
		"channel":   channel,
		"client_id": client.ID,
		"user_id":   client.UserID,
	}).Debug("Client subscribed")

	client.SendMessage(&OutgoingMessage{
		Type:    MessageTypeSubscribed,
		Channel: channel,
		Data:    SubscribedData{ClientID: client.ID, Filter: client.Filter.String()},
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := client.Channel()
	clients := h.channels[channel]
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	client.closeSend()
	if len(clients) == 0 {
		delete(h.channels, channel)
	}
	h.logger.WithFields(logrus.Fields{
		"channel":   channel,
		"client_id": client.ID,
	}).Debug("Client unsubscribed")
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.channels {
		for _, client := range clients {
			client.closeSend()
			// Hijacked connections outlive server.Shutdown; closing them ends ReadPump
			if client.Conn != nil {
				client.Conn.Close()
			}
		}
	}
	h.channels = make(map[string]map[string]*Client)
}

// Broadcast delivers an event to every client on the table's channel whose filter matches
func (h *Hub) Broadcast(event *natsclient.ChangeEvent) {
	channel := ChannelName(event.Table)

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.channels[channel]
	if len(clients) == 0 {
		return
	}

	var record map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(event.Record))
	decoder.UseNumber()
	if err := decoder.Decode(&record); err != nil {
		h.logger.WithError(err).WithField("table", event.Table).Warn("Dropping undecodable change event")
		return
	}

	message := &OutgoingMessage{
		Type:    MessageTypeChange,
		Channel: channel,
		Data:    event,
	}
	for _, client := range clients {
		if client.Filter.Matches(record) {
			client.SendMessage(message)
		}
	}
}
