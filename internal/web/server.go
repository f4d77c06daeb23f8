// Package web provides the HTTP server and handlers for the sheet session API.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orenccl/jsonsheet/internal/config"
	"github.com/orenccl/jsonsheet/internal/session"
	appmiddleware "github.com/orenccl/jsonsheet/internal/web/middleware"
)

// Server is the HTTP server fronting one sheet session.
type Server struct {
	cfg     *config.Config
	service *session.Service
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, service *session.Service) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmiddleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmiddleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	// Security hardening
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(appmiddleware.APIKeyAuth(&s.cfg.Security))

		// Tab lifecycle
		r.Get("/tabs", s.handleListTabs)
		r.Post("/tabs", s.handleNewTab)
		r.Post("/tabs/open", s.handleOpenTab)
		r.Post("/tabs/{tabID}/activate", s.handleActivateTab)
		r.Delete("/tabs/{tabID}", s.handleCloseTab)

		// Grid reads
		r.Get("/tabs/{tabID}/grid", s.handleGrid)
		r.Get("/tabs/{tabID}/history", s.handleHistory)

		// Cell and structural edits
		r.Post("/tabs/{tabID}/cells", s.handleSetCell)
		r.Post("/tabs/{tabID}/rows", s.handleInsertRow)
		r.Delete("/tabs/{tabID}/rows/{rowID}", s.handleDeleteRow)
		r.Post("/tabs/{tabID}/columns", s.handleAddColumn)
		r.Delete("/tabs/{tabID}/columns/{column}", s.handleDeleteColumn)
		r.Post("/tabs/{tabID}/formula", s.handleApplyFormula)
		r.Post("/tabs/{tabID}/fill", s.handleFill)

		// View state
		r.Post("/tabs/{tabID}/sort", s.handleSort)
		r.Delete("/tabs/{tabID}/sort", s.handleClearSort)
		r.Post("/tabs/{tabID}/filter", s.handleFilter)
		r.Delete("/tabs/{tabID}/filter", s.handleClearFilter)
		r.Post("/tabs/{tabID}/search", s.handleSearch)

		// Metadata overlay
		r.Post("/tabs/{tabID}/style", s.handleStyle)
		r.Post("/tabs/{tabID}/comment-columns", s.handleCommentColumn)
		r.Post("/tabs/{tabID}/column-spec", s.handleColumnSpec)
		r.Post("/tabs/{tabID}/summary", s.handleSummary)
		r.Put("/tabs/{tabID}/conditional-formats", s.handleConditionalFormats)
		r.Post("/tabs/{tabID}/frozen", s.handleFrozenColumns)

		// History navigation
		r.Post("/tabs/{tabID}/undo", s.handleUndo)
		r.Post("/tabs/{tabID}/redo", s.handleRedo)

		// Persistence
		r.Post("/tabs/{tabID}/save", s.handleSave)
		r.Post("/tabs/{tabID}/export", s.handleExport)
		r.Post("/save-all", s.handleSaveAll)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Start cleanup goroutine
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	// Check if we have tokens left
	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
			return
		}

		next.ServeHTTP(w, r)
	})
}
