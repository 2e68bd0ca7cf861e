package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsclient "client-portal/internal/nats"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func receive(t *testing.T, c *Client) OutgoingMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		var msg OutgoingMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return OutgoingMessage{}
}

func assertClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send queue was not closed")
		}
	}
}

func assertQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func changeEvent(t *testing.T, table string, record map[string]interface{}) *natsclient.ChangeEvent {
	t.Helper()
	data, err := json.Marshal(record)
	require.NoError(t, err)
	return &natsclient.ChangeEvent{Table: table, Type: ChangeUpdate, Record: data}
}

func TestHubDeliversOnlyMatchingRows(t *testing.T) {
	hub := newTestHub(t)
	owner := uuid.New()

	mine := NewClient(hub, nil, owner, "user_business_connections", &Filter{Column: "user_id", Value: owner.String()})
	everything := NewClient(hub, nil, uuid.New(), "user_business_connections", nil)
	otherTable := NewClient(hub, nil, owner, "businesses", nil)

	for _, c := range []*Client{mine, everything, otherTable} {
		hub.Register(c)
		assert.Equal(t, MessageTypeSubscribed, receive(t, c).Type)
	}
	assert.Equal(t, 2, hub.SubscriberCount("user_business_connections-changes"))

	hub.Broadcast(changeEvent(t, "user_business_connections", map[string]interface{}{
		"user_id": uuid.New().String(),
		"status":  "active",
	}))
	assert.Equal(t, MessageTypeChange, receive(t, everything).Type)
	assertQuiet(t, mine)

	hub.Broadcast(changeEvent(t, "user_business_connections", map[string]interface{}{
		"user_id": owner.String(),
		"status":  "active",
	}))
	msg := receive(t, mine)
	assert.Equal(t, MessageTypeChange, msg.Type)
	assert.Equal(t, "user_business_connections-changes", msg.Channel)
	receive(t, everything)
	assertQuiet(t, otherTable)
}

func TestHubUnregisterClosesSubscription(t *testing.T) {
	hub := newTestHub(t)
	c := NewClient(hub, nil, uuid.New(), "businesses", nil)
	hub.Register(c)
	receive(t, c)

	hub.Unregister(c)
	assertClosed(t, c)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("businesses-changes") == 0
	}, time.Second, 10*time.Millisecond)

	// Unregistering twice is harmless
	hub.Unregister(c)
	hub.Broadcast(changeEvent(t, "businesses", map[string]interface{}{"id": "x"}))
}

func TestHubShutdownClosesEverySubscription(t *testing.T) {
	hub := newTestHub(t)
	a := NewClient(hub, nil, uuid.New(), "businesses", nil)
	b := NewClient(hub, nil, uuid.New(), "invitations", nil)
	hub.Register(a)
	hub.Register(b)
	receive(t, a)
	receive(t, b)

	hub.Shutdown()
	assertClosed(t, a)
	assertClosed(t, b)

	// Calls after shutdown do not block
	late := NewClient(hub, nil, uuid.New(), "businesses", nil)
	hub.Register(late)
	assertClosed(t, late)
	hub.Unregister(a)
}

func TestClientMessagesAfterShutdownAreDropped(t *testing.T) {
	hub := newTestHub(t)
	c := NewClient(hub, nil, uuid.New(), "businesses", nil)
	hub.Register(c)
	receive(t, c)

	hub.Shutdown()
	assertClosed(t, c)

	// The read loop may still be handling a frame that arrived before the socket closed
	assert.NotPanics(t, func() { assert.True(t, c.handleMessage([]byte(`{"type":"ping"}`))) })
	assert.NotPanics(t, func() { c.SendMessage(&OutgoingMessage{Type: MessageTypePong}) })
	assert.NotPanics(t, func() { hub.Unregister(c) })
}

func TestFeedWithoutBusDeliversLocally(t *testing.T) {
	hub := newTestHub(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	feed := NewFeed(hub, nil, logger)
	require.NoError(t, feed.Start())
	defer feed.Stop()

	c := NewClient(hub, nil, uuid.New(), "businesses", &Filter{Column: "slug", Value: "acme-co"})
	hub.Register(c)
	receive(t, c)

	feed.PublishChange(context.Background(), "businesses", ChangeInsert, map[string]interface{}{
		"slug": "acme-co",
		"name": "Acme & Co.",
	})

	msg := receive(t, c)
	assert.Equal(t, MessageTypeChange, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ChangeInsert, data["type"])
	assert.Equal(t, "businesses", data["table"])
}
