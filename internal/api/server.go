package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/provision"
	"github.com/seantiz/urumi/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router     *chi.Mux
	svc        *provision.Service
	catalog    *catalog.Catalog
	broker     *worker.LogBroker
	logger     *slog.Logger
	addr       string
	trustProxy bool
}

// Option configures a Server.
type Option func(*Server)

// WithTrustedProxy takes the client address from X-Forwarded-For or
// X-Real-IP. Only enable it behind a proxy that sets these headers.
func WithTrustedProxy() Option {
	return func(s *Server) { s.trustProxy = true }
}

// NewServer creates and configures a new HTTP server. broker may be nil when
// no worker runs in this process; log streams are then always empty.
func NewServer(addr string, svc *provision.Service, cat *catalog.Catalog, broker *worker.LogBroker, logger *slog.Logger, opts ...Option) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		svc:     svc,
		catalog: cat,
		broker:  broker,
		logger:  logger,
		addr:    addr,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router.Use(middleware.RequestID)
	if srv.trustProxy {
		srv.router.Use(middleware.RealIP)
	}
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/engines", s.handleListEngines)
	s.router.Get("/stats", s.handleGetStats)

	// The dashboard reaches the same routes under /api.
	s.router.Route("/stores", s.storeRoutes)
	s.router.Route("/api/stores", s.storeRoutes)
}

func (s *Server) storeRoutes(r chi.Router) {
	r.Get("/", s.handleListStores)
	r.Post("/", s.handleCreateStore)
	r.Get("/{id}", s.handleGetStore)
	r.Get("/{id}/logs", s.handleStreamLogs)
	r.Delete("/{id}", s.handleDeleteStore)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// clientOrigin returns the requester's IP address for admission control.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
