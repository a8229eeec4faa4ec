// ABOUTME: HTTP server struct, constructor, and handler wiring for the queuectl status surface.
// ABOUTME: Serves /healthz, /metrics, and read-only huma endpoints under /api/v1.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/scarson/queuectl/internal/store"
	"github.com/scarson/queuectl/internal/worker"
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// RateLimitPerMin is the sustained per-IP request rate on /api/v1.
	// Defaults to 120.
	RateLimitPerMin int
	// RateLimitEvictTTL is how long an idle IP keeps its bucket. Defaults to 15m.
	RateLimitEvictTTL time.Duration
}

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	manager     *worker.Manager // nil when no workers run in this process
	gatherer    prometheus.Gatherer
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server. m may be nil; /api/v1/status then reports no
// workers.
func NewServer(s *store.Store, m *worker.Manager, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 120
	}
	if opts.RateLimitEvictTTL <= 0 {
		opts.RateLimitEvictTTL = 15 * time.Minute
	}
	return &Server{
		store:       s,
		manager:     m,
		gatherer:    opts.Gatherer,
		rateLimiter: newIPRateLimiter(rate.Limit(float64(opts.RateLimitPerMin)/60), opts.RateLimitPerMin, opts.RateLimitEvictTTL),
	}
}

// Close releases background resources held by the server.
func (srv *Server) Close() {
	if srv.rateLimiter != nil {
		srv.rateLimiter.Close()
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// ── Security headers ─────────────────────────────────────────────────────
	// Must be first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	// ── Standard chi middleware ───────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Read-only surface; no request carries a meaningful body.
	r.Use(middleware.RequestSize(1 << 16))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(srv.store))
	r.Handle("/metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.rateLimit())
	humaConfig := huma.DefaultConfig("queuectl status API", "1.0.0")
	humaConfig.Info.Description = "Read-only view of the job queue, dead letter queue, and local workers"
	api := humachi.New(apiRouter, humaConfig)
	registerQueueRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if s == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := s.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
