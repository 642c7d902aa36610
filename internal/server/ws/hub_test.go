package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "API"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var status map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, "api", status["payload"].(map[string]any)["mode"])
	return hub, conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.clientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub, conn := startHub(t, nil)
	waitForClients(t, hub, 1)

	hub.Broadcast(domain.LedgerEventApplied.Channel(), []byte(`{"kind":"applied","trade_id":"t1"}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"applied","trade_id":"t1"}`, string(msg))
}

func TestHubRelaysSignalBus(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub, conn := startHub(t, bus)
	waitForClients(t, hub, 1)

	// Narrow the subscription to unmatched sells only.
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.LedgerChannelPattern}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"ledger:unmatched_sell"}}))
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast("ledger:applied", []byte(`{"kind":"applied"}`))
	payload, err := json.Marshal(domain.LedgerEvent{Kind: domain.LedgerEventUnmatchedSell, TradeID: "s1"})
	require.NoError(t, err)
	bus.ch <- payload

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got domain.LedgerEvent
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "s1", got.TradeID)
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ledger:*": true, "exact": true}}
	assert.True(t, c.isSubscribed("ledger:applied"))
	assert.True(t, c.isSubscribed("exact"))
	assert.False(t, c.isSubscribed("other"))
}
