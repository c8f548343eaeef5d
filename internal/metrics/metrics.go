// Package metrics provides Prometheus metrics for the aird server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aird_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aird_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aird_auth_attempts_total",
			Help: "Total login attempts",
		},
		[]string{"result"},
	)

	tailSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aird_tail_sessions_active",
			Help: "Number of live tail sessions",
		},
	)

	tailLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aird_tail_lines_total",
			Help: "Total lines streamed to tail clients",
		},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aird_upload_bytes_total",
			Help: "Total bytes accepted via upload",
		},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aird_download_bytes_total",
			Help: "Total bytes served as downloads",
		},
	)

	containmentRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aird_containment_rejections_total",
			Help: "Total requests rejected by path containment",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthAttempt records a login attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// TailSessionOpened increments the live session gauge.
func TailSessionOpened() { tailSessionsActive.Inc() }

// TailSessionClosed decrements the live session gauge.
func TailSessionClosed() { tailSessionsActive.Dec() }

// RecordTailLines counts lines delivered to a tail client.
func RecordTailLines(n int) { tailLinesTotal.Add(float64(n)) }

// RecordUploadBytes counts accepted upload bytes.
func RecordUploadBytes(n int64) { uploadBytesTotal.Add(float64(n)) }

// RecordDownloadBytes counts bytes served for download.
func RecordDownloadBytes(n int64) { downloadBytesTotal.Add(float64(n)) }

// RecordContainmentReject counts a containment rejection.
func RecordContainmentReject() { containmentRejectsTotal.Inc() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel collapses the request path to its leading segment. Browsed
// file paths would otherwise explode the label cardinality.
func routeLabel(p string) string {
	p = strings.TrimPrefix(p, "/")
	switch seg, _, _ := strings.Cut(p, "/"); seg {
	case "login", "stream", "upload", "delete", "rename", "api", "thumb", "dav", "metrics", "healthz":
		return "/" + seg
	default:
		return "/browse"
	}
}

// Middleware records request count and duration per method/route/status.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := routeLabel(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
