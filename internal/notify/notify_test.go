package notify_test

import (
	"context"
	"encoding/json"
	"strings"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/notify"
)

func priceEvent(symbol, price string) events.PriceUpdated {
	return events.NewPriceUpdated("id-"+symbol, symbol, symbol+" Inc", decimal.RequireFromString(price), time.Now().UTC())
}

func TestDefaultRules(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		price  string
		want   []string
	}{
		{"quiet", "AAPL", "150", nil},
		{"any asset above 1000", "NVDA", "1000.01", []string{"price_above_1000"}},
		{"exactly 1000 is not above", "NVDA", "1000", nil},
		{"tesla above 800", "TSLA", "801", []string{"TSLA_above_800"}},
		{"tesla above both", "TSLA", "1200", []string{"price_above_1000", "TSLA_above_800"}},
		{"other symbol above 800", "MSFT", "900", nil},
		{"btc below 50000 is still above 1000", "BINANCE:BTCUSDT", "49999", []string{"price_above_1000", "BINANCE:BTCUSDT_below_50000"}},
		{"cheap coin", "BINANCE:DOGEUSDT", "0.15", nil},
		{"btc high fires generic rule", "BINANCE:BTCUSDT", "65000", []string{"price_above_1000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := priceEvent(tt.symbol, tt.price)
			price, err := ev.PriceDecimal()
			require.NoError(t, err)

			var fired []string
			for _, r := range notify.DefaultRules() {
				if msg, ok := r.Evaluate(ev, price); ok {
					assert.Contains(t, msg, tt.price)
					fired = append(fired, r.Name())
				}
			}
			assert.Equal(t, tt.want, fired)
		})
	}
}

func TestEvaluatorPublishesToFeed(t *testing.T) {
	b := bus.NewMemoryBus(16, zerolog.Nop())
	defer b.Close()

	feed := notify.NewFeed(0)
	require.NoError(t, feed.Subscribe(b))
	require.NoError(t, notify.NewAlertEvaluator(notify.DefaultRules(), b, zerolog.Nop()).Subscribe())

	ctx := context.Background()
	for _, ev := range []events.PriceUpdated{
		priceEvent("AAPL", "150"),
		priceEvent("TSLA", "850"),
		priceEvent("BINANCE:BTCUSDT", "42000"),
	} {
		payload, err := events.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, events.TopicPriceUpdated, payload))
	}

	require.Eventually(t, func() bool { return len(feed.List()) == 3 }, 2*time.Second, 10*time.Millisecond)
	items := feed.List()
	assert.Contains(t, items[0].Message, "Tesla")
	assert.Contains(t, items[1].Message, "exceeded 1000")
	assert.Contains(t, items[2].Message, "Bitcoin")
}

func TestEvaluatorRejectsGarbage(t *testing.T) {
	e := notify.NewAlertEvaluator(notify.DefaultRules(), bus.NewMemoryBus(1, zerolog.Nop()), zerolog.Nop())
	err := e.Handle(context.Background(), bus.Message{Topic: events.TopicPriceUpdated, Payload: []byte{0xc1}})
	assert.Error(t, err)
}

func TestFeedBoundedAndClear(t *testing.T) {
	feed := notify.NewFeed(2)
	feed.Append("a")
	feed.Append("b")
	feed.Append("c")

	items := feed.List()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Message)
	assert.Equal(t, "c", items[1].Message)

	items[0].Message = "mutated"
	assert.Equal(t, "b", feed.List()[0].Message)

	feed.Clear()
	assert.Empty(t, feed.List())
}

func TestFeedHandlers(t *testing.T) {
	feed := notify.NewFeed(0)
	feed.Append("Tesla rose above $800! Current price: $850")

	b := bus.NewMemoryBus(4, zerolog.Nop())
	defer b.Close()

	r := chi.NewRouter()
	r.Route("/api/v1", notify.NewHandler(feed, b, zerolog.Nop()).Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/notifications")
	require.NoError(t, err)
	var got []model.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "Tesla")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/notifications", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, feed.List())
}

func TestSendNotificationReachesFeed(t *testing.T) {
	b := bus.NewMemoryBus(16, zerolog.Nop())
	defer b.Close()
	feed := notify.NewFeed(0)
	require.NoError(t, feed.Subscribe(b))

	r := chi.NewRouter()
	r.Route("/api/v1", notify.NewHandler(feed, b, zerolog.Nop()).Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/notifications", "application/json",
		strings.NewReader(`{"message":"Market closes early today"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return len(feed.List()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Market closes early today", feed.List()[0].Message)

	for _, body := range []string{`{"message":""}`, `{}`, `not json`} {
		resp, err := http.Post(srv.URL+"/api/v1/notifications", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Len(t, feed.List(), 1)
}

func TestSendNotificationBusClosed(t *testing.T) {
	b := bus.NewMemoryBus(1, zerolog.Nop())
	require.NoError(t, b.Close())

	r := chi.NewRouter()
	r.Route("/api/v1", notify.NewHandler(notify.NewFeed(0), b, zerolog.Nop()).Routes)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
