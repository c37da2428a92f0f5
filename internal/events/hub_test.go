package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(SyncCompleted, map[string]int{"new_orders": 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	require.Equal(t, SyncCompleted, ev.Type)
	require.Equal(t, 3, ev.Payload["new_orders"])
}

func TestClientTopicFilter(t *testing.T) {
	c := &client{topics: map[string]bool{}}
	require.True(t, c.wants(OrderReconciled))

	c.topics[SettingsChanged] = true
	require.True(t, c.wants(SettingsChanged))
	require.False(t, c.wants(OrderReconciled))
}

func TestPublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 300; i++ {
		hub.Publish(SettingsChanged, nil)
	}
}
