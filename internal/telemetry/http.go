package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the observability listener.",
		},
		[]string{"op", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wave",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of observability requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(HTTPRequests, HTTPDuration)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		HTTPRequests.WithLabelValues(op, class).Inc()
		HTTPDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
