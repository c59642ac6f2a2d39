// Package server is an in-memory JSON resource server that speaks the
// conventions restpipe pipes and auth modules consume: collection and record
// routes, three paging styles and token sessions. It backs the CLI's serve
// command and the integration tests.
//
// Routes:
//
//	POST   /auth/enroll          register {"username", "password", ...}
//	POST   /auth/login           issue a token for {"username", "password"}
//	POST   /auth/logout          revoke the token in the token header
//	GET    /envelope/{collection} page wrapped as {"data", "next", "previous"}
//	GET    /{collection}         page as a bare array with Link and AG-Links-* headers
//	POST   /{collection}         create
//	GET    /{collection}/{id}    read one
//	PUT    /{collection}/{id}    create or replace
//	DELETE /{collection}/{id}    remove
//
// Pages are selected with offset (a zero-based page index) and limit.
// Other query parameters filter the collection by equality.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/store"
)

// Defaults applied by New.
const (
	DefaultPageSize    = 5
	DefaultTokenHeader = "Auth-Token"
)

// Config configures the server.
type Config struct {
	// PageSize is the page length when a request sends no limit.
	PageSize int

	// TokenHeader carries session tokens in both directions.
	TokenHeader string

	// TokenInBody returns the login token as the "access_token" body
	// field instead of the token header.
	TokenInBody bool

	// Users are accepted credentials in addition to enrolled users. With
	// no users at all, any non-empty username logs in.
	Users map[string]string

	// Protected collections require a live session token.
	Protected []string

	// Latency delays every response.
	Latency time.Duration
}

// Server is the resource server. Its Router is ready to serve.
type Server struct {
	Router *chi.Mux

	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]store.Store
	users       store.Store
	sessions    map[string]string
	requests    []RecordedRequest
}

// New creates a server with no data.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = DefaultTokenHeader
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		collections: make(map[string]store.Store),
		users:       store.NewMemory("username"),
		sessions:    make(map[string]string),
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(s.recordingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LatencyMiddleware(cfg.Latency))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "restpipe-server")
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/enroll", s.handleEnroll)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})
	r.Get("/envelope/{collection}", s.handleEnvelope)
	r.Route("/{collection}", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	s.Router = r
	return s
}

// ServeHTTP serves requests through the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Seed adds records to a collection, creating it if needed.
func (s *Server) Seed(collection string, records ...domain.Record) error {
	_, err := s.collection(collection).Save(context.Background(), records)
	return err
}

// Requests returns the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// ResetRequests forgets the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Sessions returns the number of live session tokens.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) collection(name string) store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = store.NewMemory(store.DefaultRecordID)
		s.collections[name] = c
	}
	return c
}

func (s *Server) protected(collection string) bool {
	return slices.Contains(s.cfg.Protected, collection)
}

func (s *Server) session(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.sessions[token]
	return user, ok
}
