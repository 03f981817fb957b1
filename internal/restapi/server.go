// Package restapi implements the read-only REST surface of §6: candles,
// funding, open interest, series enumeration, and health. Grounded on the
// teacher's interfaces/http server (mux.Router, a middleware chain,
// request-scoped logging) generalized from its candidate-scoring routes to
// this system's time-series routes.
package restapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// Config controls the server's listener and timeouts.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig matches §5's default request timeout.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// CollectorStatus reports one collector's current state for /health.
type CollectorStatus func() map[string]string

// Server is the REST API over the storage gateway and reference resolver.
type Server struct {
	router    *mux.Router
	server    *http.Server
	handlers  *Handlers
	cfg       Config
	startedAt time.Time
}

// New builds a Server. collectorStatus may be nil if /health should omit
// collector state (e.g. a backfill-only deployment).
func New(cfg Config, gateway storage.Gateway, resolver *reference.Resolver, collectorStatus CollectorStatus, dbPing func(ctx context.Context) error) *Server {
	router := mux.NewRouter()
	h := &Handlers{gateway: gateway, resolver: resolver, collectorStatus: collectorStatus, dbPing: dbPing}

	s := &Server{router: router, handlers: h, cfg: cfg, startedAt: time.Now()}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/starlistings", s.handlers.StarListings).Methods(http.MethodGet)
	s.router.HandleFunc("/candles/{exchange}/{coin}/{quote}/{market_type}/{interval}", s.handlers.Candles).Methods(http.MethodGet)
	s.router.HandleFunc("/funding/{exchange}/{coin}/{quote}/{market_type}", s.handlers.Funding).Methods(http.MethodGet)
	s.router.HandleFunc("/open-interest/{exchange}/{coin}/{quote}/{market_type}", s.handlers.OpenInterest).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(notFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Router exposes the underlying mux.Router, e.g. to mount /ws alongside.
func (s *Server) Router() *mux.Router { return s.router }

// ListenAndServe starts the server; the caller reports the startup error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("restapi: listen %s: %w", s.server.Addr, err)
	}
	log.Info().Str("addr", s.server.Addr).Msg("restapi: listening")
	return s.server.Serve(ln)
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
