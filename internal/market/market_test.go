package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-sim/internal/model"
)

func newFinnhubServer(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFinnhubClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
}

func TestFinnhubClient_Quote(t *testing.T) {
	c := newFinnhubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "BINANCE:BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":64123.45,"d":12.1,"h":64500,"l":63000,"o":63900,"pc":64111.35,"t":1700000000}`))
	})

	p, err := c.Quote(context.Background(), "BINANCE:BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("64123.45")), "got %s", p)
}

func TestFinnhubClient_Unavailable(t *testing.T) {
	for name, body := range map[string]string{
		"zero":    `{"c":0,"d":null,"dp":null}`,
		"null":    `{"c":null}`,
		"missing": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newFinnhubServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := c.Quote(context.Background(), "NOPE")
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.ErrorIs(t, err, model.ErrExternalSource)
		})
	}
}

func TestFinnhubClient_APIError(t *testing.T) {
	c := newFinnhubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"API limit reached"}`))
	})

	_, err := c.Quote(context.Background(), "AAPL")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.ErrorIs(t, err, model.ErrExternalSource)
}

func TestFinnhubClient_Timeout(t *testing.T) {
	c := newFinnhubServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Quote(ctx, "AAPL")
	assert.ErrorIs(t, err, model.ErrExternalSource)
}

func TestSimulatedSource_WalkStaysPositiveAndBounded(t *testing.T) {
	s := NewSimulatedSource(42, 0.02)
	ctx := context.Background()

	prev, err := s.Quote(ctx, "AAPL")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		next, err := s.Quote(ctx, "AAPL")
		require.NoError(t, err)
		assert.True(t, next.IsPositive())
		ratio, _ := next.Div(prev).Float64()
		assert.InDelta(t, 1.0, ratio, 0.0201)
		prev = next
	}

	unknown, err := s.Quote(ctx, "ZZZ")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, unknown.InexactFloat64(), 2.01)
}

func TestSimulatedSource_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulatedSource(1, 0.01).Quote(ctx, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}
