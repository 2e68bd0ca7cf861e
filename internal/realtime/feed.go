package realtime

import (
	"context"
	"encoding/json"
	"time"

	natsclient "client-portal/internal/nats"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Change types
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// ChangeBus carries change events between instances
type ChangeBus interface {
	PublishChange(ctx context.Context, event *natsclient.ChangeEvent) error
	SubscribeChanges(handler natsclient.ChangeHandler) (*nats.Subscription, error)
	IsConnected() bool
}

// Feed publishes row changes and forwards the shared feed into the local hub
type Feed struct {
	hub    *Hub
	bus    ChangeBus
	sub    *nats.Subscription
	logger *logrus.Entry
}

// NewFeed creates a feed. bus may be nil, in which case events stay on this instance.
func NewFeed(hub *Hub, bus ChangeBus, logger *logrus.Logger) *Feed {
	return &Feed{
		hub:    hub,
		bus:    bus,
		logger: logger.WithField("component", "change_feed"),
	}
}

func (f *Feed) busAvailable() bool {
	return f.bus != nil && f.bus.IsConnected()
}

// Start subscribes the local hub to the shared feed
func (f *Feed) Start() error {
	if !f.busAvailable() {
		f.logger.Info("Change bus unavailable, serving local events only")
		return nil
	}
	sub, err := f.bus.SubscribeChanges(func(event *natsclient.ChangeEvent) {
		f.hub.Broadcast(event)
	})
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

// Stop unsubscribes from the shared feed
func (f *Feed) Stop() {
	if f.sub == nil {
		return
	}
	if err := f.sub.Unsubscribe(); err != nil {
		f.logger.WithError(err).Warn("Failed to unsubscribe from change feed")
	}
	f.sub = nil
}

// PublishChange announces a row change. Publish failures fall back to local delivery and are
// only logged; a change notification never fails the write that caused it.
func (f *Feed) PublishChange(ctx context.Context, table, changeType string, record interface{}) {
	data, err := json.Marshal(record)
	if err != nil {
		f.logger.WithError(err).WithField("table", table).Error("Failed to marshal change record")
		return
	}
	event := &natsclient.ChangeEvent{
		Table:     table,
		Type:      changeType,
		Record:    data,
		Timestamp: time.Now().UTC(),
	}

	// With a live subscription, the bus echoes the event back to this instance
	if f.busAvailable() && f.sub != nil {
		err := f.bus.PublishChange(ctx, event)
		if err == nil {
			return
		}
		f.logger.WithError(err).WithField("table", table).Warn("Change bus publish failed, delivering locally")
	}
	f.hub.Broadcast(event)
}
