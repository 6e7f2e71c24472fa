// Package metrics provides Prometheus instrumentation for the trading simulator.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simtrader_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// TradeRejections counts trades refused before anything was persisted.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simtrader_trade_rejections_total",
		Help: "Trades rejected by validation or funds/holdings checks",
	}, []string{"reason"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simtrader_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// IngestionCycles counts price ingestion runs by outcome.
	IngestionCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simtrader_ingestion_cycles_total",
		Help: "Price ingestion cycles by status",
	}, []string{"status"})

	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "simtrader_ingestion_cycle_duration_seconds",
		Help:    "Duration of a full price ingestion cycle",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// QuoteFailures counts per-asset quote fetches that produced no price.
	QuoteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simtrader_quote_failures_total",
		Help: "Quote fetches that failed or returned no usable price",
	})

	// BusDeliveries counts event deliveries by topic and outcome
	// (ok, retried, dropped).
	BusDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simtrader_bus_deliveries_total",
		Help: "Event bus deliveries by topic and outcome",
	}, []string{"topic", "outcome"})

	NotificationFeedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_notification_feed_size",
		Help: "Number of notifications currently in the feed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simtrader_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simtrader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simtrader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
