// Package metrics provides Prometheus instrumentation for the game.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts completed price-update cycles.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "galactic_market_ticks_total",
		Help: "Completed market price-update cycles",
	})

	// TickDuration tracks how long one full price cycle takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "galactic_market_tick_duration_seconds",
		Help:    "Duration of one market price-update cycle",
		Buckets: prometheus.DefBuckets,
	})

	// OrdersTotal counts buy/sell commands by side and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "galactic_orders_total",
		Help: "Buy/sell commands processed",
	}, []string{"side", "outcome"})

	// OrderDuration tracks how long one buy/sell takes end to end, retries
	// included.
	OrderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "galactic_order_duration_seconds",
		Help:    "Duration of one buy/sell order",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// PriceUpdatesTotal counts persisted per-stock price snapshots.
	PriceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "galactic_price_updates_total",
		Help: "Persisted stock price snapshots",
	})

	// WebSocketClients tracks connected price-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "galactic_websocket_clients",
		Help: "Connected WebSocket price-stream clients",
	})

	// HTTPRequestsTotal counts API requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "galactic_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "galactic_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and duration for every API request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through so WebSocket upgrades work on instrumented routes.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
