package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one WebSocket connection subscribed to one channel
type Client struct {
	ID     string
	UserID uuid.UUID
	Table  string
	Filter *Filter
	Hub    *Hub
	Conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Entry

	// mu guards closed; send is never written after closed is set
	mu     sync.Mutex
	closed bool
}

// NewClient creates a subscription for table narrowed by filter
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, table string, filter *Filter) *Client {
	id := uuid.New().String()
	return &Client{
		ID:     id,
		UserID: userID,
		Table:  table,
		Filter: filter,
		Hub:    hub,
		Conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger.WithField("client_id", id),
	}
}

// Channel returns the channel the client listens on
func (c *Client) Channel() string {
	return ChannelName(c.Table)
}

// SendMessage queues a message for the client, dropping it when the buffer is full
func (c *Client) SendMessage(msg *OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Error marshaling message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full, skipping message")
	}
}

// closeSend closes the send queue once. Later SendMessage calls are dropped.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads messages from the WebSocket connection until it closes
func (c *Client) ReadPump() {
	unsubscribed := false
	defer func() {
		c.Hub.Unregister(c)
		// WritePump flushes the queue and closes the connection after an unsubscribe
		if !unsubscribed {
			c.Conn.Close()
		}
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
		if !c.handleMessage(message) {
			unsubscribed = true
			return
		}
	}
}

// WritePump writes queued messages and pings to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one client message and reports whether to keep reading
func (c *Client) handleMessage(message []byte) bool {
	var msg IncomingMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("INVALID_JSON", "Failed to parse message")
		return true
	}

	switch msg.Type {
	case "ping":
		c.SendMessage(&OutgoingMessage{
			Type: MessageTypePong,
			Data: map[string]interface{}{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		})
		return true

	case "unsubscribe":
		c.SendMessage(&OutgoingMessage{Type: MessageTypeUnsubscribed, Channel: c.Channel()})
		return false

	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type: "+msg.Type)
		return true
	}
}

func (c *Client) sendError(code, message string) {
	c.SendMessage(&OutgoingMessage{
		Type: MessageTypeError,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
