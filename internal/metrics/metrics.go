// Package metrics registers the Prometheus metrics for the canvas studio.
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
)

var (
	// SavesTotal counts save attempts by outcome: ok, degraded, exceeded, error.
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcanvas_saves_total",
			Help: "Artifact saves by outcome",
		},
		[]string{"status"},
	)

	// TierDemotions counts artifacts moved to a lower fidelity tier.
	TierDemotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcanvas_tier_demotions_total",
			Help: "Artifacts demoted to a lower fidelity tier",
		},
		[]string{"tier"},
	)

	// RasterFallbacks counts placeholders installed because a source couldn't be rendered.
	RasterFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcanvas_raster_fallbacks_total",
			Help: "Placeholders used instead of a rendered source",
		},
		[]string{"source"},
	)

	// StoredBytes is the encoded record size per save, before the quota check.
	StoredBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrcanvas_record_bytes",
			Help:    "Encoded storage record size written per save",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 10),
		},
	)

	// OpenEditors is the number of live editor sessions.
	OpenEditors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrcanvas_open_editors",
			Help: "Editor sessions currently open",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcanvas_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrcanvas_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Middleware records request counts and durations labeled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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

// Unwrap lets http.ResponseController and the websocket upgrader reach the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through to the original writer for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
