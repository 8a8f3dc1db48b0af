package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/0xReLogic/chaos-backend/internal/chaos"
	"github.com/0xReLogic/chaos-backend/internal/logging"
	"github.com/0xReLogic/chaos-backend/internal/tracing"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_http_requests_total",
			Help: "Total number of HTTP requests handled by the backend",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaos_http_request_latency_seconds",
			Help:    "Latency of HTTP requests handled by the backend",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2, 5, 10, 15, 20},
		},
		[]string{"method", "path"},
	)
)

// HTTPServer serves the version, health and chaos control endpoints.
type HTTPServer struct {
	ListenAddr string
	Pool       string
	Release    string

	State    *chaos.State
	Injector *chaos.Injector

	server *http.Server
}

// New creates a server over a shared chaos state.
func New(listenAddr, pool, release string, state *chaos.State, injector *chaos.Injector) *HTTPServer {
	s := &HTTPServer{
		ListenAddr: listenAddr,
		Pool:       pool,
		Release:    release,
		State:      state,
		Injector:   injector,
	}
	s.server = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Handler builds the full routing tree. Control-plane routes are registered on
// the outer mux and never see chaos; everything else goes through the
// injector first.
func (s *HTTPServer) Handler() http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("GET /version", s.handleVersion)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /chaos/start", s.handleChaosStart)
	mux.HandleFunc("POST /chaos/stop", s.handleChaosStop)
	mux.HandleFunc("GET /chaos/status", s.handleChaosStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", s.Injector.Middleware(app))

	return instrument(mux)
}

// instrument wraps every request in a span, a log line and metrics.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracing.StartSpan(ctx, "http_request", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)

		r = r.WithContext(ctx)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)
		latency := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response.size", int64(rec.size)),
			attribute.Float64("http.duration_ms", float64(latency.Milliseconds())),
		)
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		logging.LogHTTPRequest(ctx, r.Method, r.URL.Path, rec.status, latency, int64(rec.size))

		path := routeLabel(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpRequestLatency.WithLabelValues(r.Method, path).Observe(latency.Seconds())
	})
}

// routeLabel keeps metric cardinality bounded on unknown paths.
func routeLabel(path string) string {
	switch path {
	case "/version", "/healthz", "/chaos/start", "/chaos/stop", "/chaos/status", "/metrics":
		return path
	default:
		return "other"
	}
}

// Start binds ListenAddr and serves until Shutdown.
func (s *HTTPServer) Start() error {
	logging.LogHTTPServerStart(s.ListenAddr, s.Pool, s.Release)

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including held-open timeout responses, until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
