package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*WSHub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewWSHub(zerolog.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsPriceAndAlert(t *testing.T) {
	hub, conn := startHub(t)

	b := bus.NewMemoryBus(16, zerolog.Nop())
	defer b.Close()
	require.NoError(t, hub.Subscribe(b))

	ctx := context.Background()
	price, err := events.Encode(events.NewPriceUpdated("a1", "TSLA", "Tesla", decimal.RequireFromString("850"), time.Now().UTC()))
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, events.TopicPriceUpdated, price))

	msg := readMessage(t, conn)
	assert.Equal(t, TypePrice, msg.Type)
	var ev events.PriceUpdated
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "TSLA", ev.Symbol)
	assert.Equal(t, "850", ev.Price)

	alert, err := events.Encode(events.Alert{Message: "Tesla rose above $800!", Symbol: "TSLA"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, events.TopicNotificationAlert, alert))

	msg = readMessage(t, conn)
	assert.Equal(t, TypeAlert, msg.Type)
	assert.Contains(t, string(msg.Data), "Tesla rose above")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, conn := startHub(t)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RunStopsAndClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewWSHub(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Broadcast(WSMessage{Type: TypePrice})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
