package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects
const (
	SubjectChangePrefix       = "portal.changes."
	EventInvitationIssued     = "portal.invitation.issued"
	EventInvitationAccepted   = "portal.invitation.accepted"
	EventBusinessOnboarded    = "portal.business.onboarded"
	changeSubjectWildcard     = SubjectChangePrefix + ">"
	streamName                = "PORTAL_EVENTS"
	defaultPublishMaxAttempts = 3
)

// ChangeEvent is a row change fanned out to realtime subscribers
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record"`
	Timestamp time.Time       `json:"timestamp"`
}

// BusinessOnboardedEvent is published when the onboarding workflow finishes
type BusinessOnboardedEvent struct {
	EventType    string    `json:"event_type"`
	BusinessID   string    `json:"business_id"`
	BusinessName string    `json:"business_name"`
	Slug         string    `json:"slug"`
	AgentID      string    `json:"agent_id"`
	Outcome      string    `json:"outcome"`
	Timestamp    time.Time `json:"timestamp"`
}

// InvitationEvent is published when an invitation is issued or accepted
type InvitationEvent struct {
	EventType    string    `json:"event_type"`
	InvitationID string    `json:"invitation_id"`
	BusinessID   string    `json:"business_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Timestamp    time.Time `json:"timestamp"`
}

// Client wraps the NATS connection
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// Config holds NATS connection configuration
type Config struct {
	URL  string
	Name string
}

// NewClient creates a new NATS client
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	log := logger.WithField("component", "nats")
	log.WithField("url", cfg.URL).Info("Connecting to NATS")

	name := cfg.Name
	if name == "" {
		name = "client-portal"
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("Connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:        streamName,
		Description: "Client portal change feed and lifecycle events",
		Subjects:    []string{"portal.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     100000,
		Discard:     nats.DiscardOld,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		log.WithError(err).Warn("Could not create stream (may already exist)")
	}

	log.Info("Connected")
	return &Client{conn: conn, js: js, logger: log}, nil
}

// publish sends data with JetStream, retrying with exponential backoff: 1s, 2s
func (c *Client) publish(ctx context.Context, subject string, data []byte) error {
	var ack *nats.PubAck
	var err error
	for attempt := 1; attempt <= defaultPublishMaxAttempts; attempt++ {
		ack, err = c.js.Publish(subject, data, nats.Context(ctx))
		if err == nil {
			break
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"subject": subject,
			"attempt": attempt,
		}).Warn("Publish failed")
		if attempt < defaultPublishMaxAttempts {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while retrying publish: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s after %d attempts: %w", subject, defaultPublishMaxAttempts, err)
	}
	c.logger.WithFields(logrus.Fields{"subject": subject, "seq": ack.Sequence}).Debug("Published")
	return nil
}

// PublishChange publishes a row change on portal.changes.<table>
func (c *Client) PublishChange(ctx context.Context, event *ChangeEvent) error {
	if c == nil || c.js == nil {
		return fmt.Errorf("NATS client not initialized")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.publish(ctx, SubjectChangePrefix+event.Table, data)
}

// PublishBusinessOnboarded publishes the workflow outcome for downstream consumers
func (c *Client) PublishBusinessOnboarded(ctx context.Context, event *BusinessOnboardedEvent) error {
	if c == nil || c.js == nil {
		return nil
	}
	event.EventType = EventBusinessOnboarded
	event.Timestamp = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.publish(ctx, EventBusinessOnboarded, data)
}

// PublishInvitation publishes an invitation lifecycle event. eventType is one of the Event constants.
func (c *Client) PublishInvitation(ctx context.Context, eventType string, event *InvitationEvent) error {
	if c == nil || c.js == nil {
		return nil
	}
	event.EventType = eventType
	event.Timestamp = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.publish(ctx, eventType, data)
}

// ChangeHandler receives decoded change events
type ChangeHandler func(event *ChangeEvent)

// SubscribeChanges delivers every change event to handler. The caller owns the returned
// subscription and must unsubscribe it.
func (c *Client) SubscribeChanges(handler ChangeHandler) (*nats.Subscription, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("NATS client not initialized")
	}

	sub, err := c.conn.Subscribe(changeSubjectWildcard, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.WithError(err).Warn("Failed to unmarshal change event")
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change events: %w", err)
	}

	c.logger.WithField("subject", changeSubjectWildcard).Info("Subscribed to change feed")
	return sub, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c != nil && c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}
