package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mgmtsuite/mailsync/internal/attachstore"
	"github.com/mgmtsuite/mailsync/internal/config"
	"github.com/mgmtsuite/mailsync/internal/credential"
	"github.com/mgmtsuite/mailsync/internal/database"
	"github.com/mgmtsuite/mailsync/internal/drafts"
	"github.com/mgmtsuite/mailsync/internal/links"
	"github.com/mgmtsuite/mailsync/internal/state"
	"github.com/mgmtsuite/mailsync/internal/store"
	"github.com/mgmtsuite/mailsync/internal/syncer"
)

// Server holds the API server dependencies
type Server struct {
	cfg         *config.Config
	db          *database.DB
	store       *store.Store
	engine      *syncer.Engine
	machine     *state.Machine
	drafts      *drafts.Coordinator
	creds       *credential.Resolver
	links       *links.Registry
	attachments *attachstore.Store

	// Global rate limiter: 10 req/s, burst 30
	limiter *ipRateLimiter
	// Login rate limiter: 1 req/s, burst 5 (stricter for auth endpoints)
	loginLimiter *ipRateLimiter
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, db *database.DB, st *store.Store, engine *syncer.Engine,
	machine *state.Machine, draftCoord *drafts.Coordinator, creds *credential.Resolver,
	linkReg *links.Registry, attachments *attachstore.Store) *Server {
	s := &Server{
		cfg:          cfg,
		db:           db,
		store:        st,
		engine:       engine,
		machine:      machine,
		drafts:       draftCoord,
		creds:        creds,
		links:        linkReg,
		attachments:  attachments,
		limiter:      newIPRateLimiter(10, 30),
		loginLimiter: newIPRateLimiter(1, 5),
	}

	// Periodic limiter cleanup prevents memory growth from many unique IPs
	go func() {
		for {
			time.Sleep(time.Hour)
			s.limiter.cleanup()
			s.loginLimiter.cleanup()
		}
	}()

	return s
}

// Router creates and configures the HTTP router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.rateLimitMiddleware)
	r.Use(s.securityHeadersMiddleware)

	// CORS - configure from environment in production
	allowedOrigins := s.getAllowedOrigins()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (no auth required)
		r.With(s.loginRateLimitMiddleware).Post("/auth/login", s.login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Auth
			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.me)

			// Record link kinds known to this deployment
			r.Get("/links/kinds", s.getLinkKinds)

			// Accounts and everything scoped under one account
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", s.listAccounts)
				r.Post("/", s.createAccount)

				r.Route("/{accountID}", func(r chi.Router) {
					r.Get("/", s.getAccount)
					r.Put("/", s.updateAccount)

					// Sync
					r.Post("/sync", s.runSync)
					r.Get("/sync/errors", s.listSyncErrors)

					// Folders
					r.Get("/folders", s.listFolders)
					r.Get("/remote-folders", s.listRemoteFolders)

					// Messages
					r.Route("/messages", func(r chi.Router) {
						r.Get("/", s.listMessages)
						r.Post("/actions", s.applyAction)

						r.Route("/{messageID}", func(r chi.Router) {
							r.Get("/", s.getMessage)
							r.Delete("/", s.purgeMessage)
							r.Get("/attachments/{attachmentID}", s.downloadAttachment)
							r.Get("/links", s.listLinks)
							r.Post("/links", s.createLink)
						})
					})

					// Labels
					r.Route("/labels", func(r chi.Router) {
						r.Get("/", s.listLabels)
						r.Post("/", s.createLabel)
						r.Put("/{labelID}", s.updateLabel)
						r.Delete("/{labelID}", s.deleteLabel)
					})

					// Drafts
					r.Post("/drafts", s.saveDraft)
					r.Put("/drafts/{draftID}", s.saveDraft)
				})
			})
		})
	})

	return r
}

// respondJSON writes v as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// Health check handlers
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Check database connection
	if err := s.db.Ping(); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// getAllowedOrigins returns CORS allowed origins from environment or defaults
func (s *Server) getAllowedOrigins() []string {
	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if origins != "" {
		return strings.Split(origins, ",")
	}

	// Default to localhost for development
	if os.Getenv("ENV") != "production" {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// In production without CORS_ALLOWED_ORIGINS, log warning
	log.Warn().Msg("CORS_ALLOWED_ORIGINS not set in production - using restrictive default")
	return []string{}
}

// Rate limiter implementation
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

func (l *ipRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}

	return limiter
}

// cleanup clears all limiters. Called hourly from a goroutine.
func (l *ipRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

// rateLimitMiddleware applies global rate limiting
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		// Extract IP without port if present
		if idx := strings.LastIndex(ip, ":"); idx != -1 {
			ip = ip[:idx]
		}

		limiter := s.limiter.getLimiter(ip)
		if !limiter.Allow() {
			log.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loginRateLimitMiddleware applies stricter rate limiting for auth endpoints
func (s *Server) loginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if idx := strings.LastIndex(ip, ":"); idx != -1 {
			ip = ip[:idx]
		}

		limiter := s.loginLimiter.getLimiter(ip)
		if !limiter.Allow() {
			log.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("Login rate limit exceeded")
			http.Error(w, "too many login attempts, please try again later", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers to all responses
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")
		// Prevent MIME sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// Referrer policy
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
