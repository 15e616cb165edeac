package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	routeUnmatched = "unmatched"
	// dashboardPrefix is the alias mount for store routes; both mounts share
	// one set of series.
	dashboardPrefix = "/api"
)

// Delete waits for teardown, so durations reach the teardown timeout.
var requestBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 300}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urumi_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urumi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, excluding log streams.",
			Buckets: requestBuckets,
		},
		[]string{"method", "route"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urumi_http_requests_in_flight",
			Help: "Requests currently being served, excluding log streams.",
		},
	)

	logStreamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urumi_log_streams_open",
			Help: "Open server-sent event log streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpInFlight)
	prometheus.MustRegister(logStreamsOpen)
}

// metricsMiddleware counts and times requests by route label. Log streams
// are counted but not timed; they are tracked by logStreamsOpen instead.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream := isLogStream(r.URL.Path)
		if !stream {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if !stream {
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// routeLabel returns the matched chi pattern with the dashboard prefix
// removed, so /api/stores/{id} and /stores/{id} are one route. Store ids
// never become label values.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return routeUnmatched
	}
	pattern := rctx.RoutePattern()
	if rest, ok := strings.CutPrefix(pattern, dashboardPrefix+"/stores"); ok {
		return "/stores" + rest
	}
	return pattern
}

// isLogStream reports whether path addresses a store's log stream.
func isLogStream(path string) bool {
	return strings.HasSuffix(path, "/logs") && strings.Contains(path, "/stores/")
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
