// Package http exposes the JSON API consumed by the mobile app: auth,
// friends, expenses, balances, payment links and recurring rules.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"romana/internal/auth"
	"romana/internal/backend"
	"romana/internal/cache"
	"romana/internal/config"
	"romana/internal/core"
	authmw "romana/internal/middleware/auth"
	"romana/internal/middleware/ratelimit"
	"romana/internal/middleware/security"
	"romana/internal/middleware/trace"
	"romana/internal/services"
)

const cacheCleanupInterval = 10 * time.Minute

// Server hosts the API plus its caches and per-request middleware. Create
// with NewServer, run with Start, tear down with Shutdown.
type Server struct {
	http.Server

	backend  backend.Backend
	expenses *services.ExpenseService
	authn    auth.Authenticator
	jwt      *auth.JWTManager

	metrics  *Metrics
	balances *cache.LRUCache[core.BalanceSheet]
	caches   *cache.Manager
	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer wires routes, middleware and caches into a ready-to-run server.
func NewServer(cfg *config.Config, be backend.Backend, expenses *services.ExpenseService) *Server {
	s := &Server{
		backend:  be,
		expenses: expenses,
		authn:    auth.NewPasswordAuthenticator(be, cfg.BcryptCost),
		jwt:      auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL),
		metrics:  NewMetrics(),
		balances: cache.NewLRUCache[core.BalanceSheet](cfg.CacheSize, cfg.CacheTTL),
		caches:   cache.NewManager(),
		detector: security.NewDetector(),
	}

	s.caches.Register(s.balances)
	s.caches.StartCleanup(cacheCleanupInterval)

	// Writes go through the service; it tells us when a user's sheet is
	// stale and how event publishing went.
	expenses.OnChange(s.balances.Delete)
	expenses.OnEvent(s.metrics.EventPublished)

	if cfg.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			CleanupInterval:   5 * time.Minute,
		})
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = trace.NewMiddleware(s.detector.ExtractClientIP).Middleware(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited)(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.recoverer(handler)

	s.Server = http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	requireAuth := authmw.RequireAuth(s.jwt, s.authFailed)

	s.public(mux, "GET /healthz", s.handleHealth)
	s.public(mux, "GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.public(mux, "POST /api/auth/register", s.handleRegister)
	s.public(mux, "POST /api/auth/login", s.handleLogin)

	s.protected(mux, requireAuth, "GET /api/friends", s.handleListFriends)
	s.protected(mux, requireAuth, "POST /api/friends", s.handleCreateFriend)
	s.protected(mux, requireAuth, "DELETE /api/friends/{id}", s.handleDeleteFriend)
	s.protected(mux, requireAuth, "GET /api/friends/{name}/paylink", s.handlePaylink)
	s.protected(mux, requireAuth, "GET /api/friends/{name}/paylink/qr", s.handlePaylinkQR)

	s.protected(mux, requireAuth, "POST /api/expenses", s.handleCreateExpense)
	s.protected(mux, requireAuth, "GET /api/expenses", s.handleListExpenses)
	s.protected(mux, requireAuth, "GET /api/expenses/{id}", s.handleGetExpense)
	s.protected(mux, requireAuth, "DELETE /api/expenses/{id}", s.handleDeleteExpense)

	s.protected(mux, requireAuth, "GET /api/balances", s.handleBalances)

	s.protected(mux, requireAuth, "POST /api/recurring", s.handleCreateRecurring)
	s.protected(mux, requireAuth, "GET /api/recurring", s.handleListRecurring)
	s.protected(mux, requireAuth, "DELETE /api/recurring/{id}", s.handleDeleteRecurring)
}

func (s *Server) public(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) protected(mux *http.ServeMux, guard func(http.Handler) http.Handler, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, guard(h)))
}

// instrument records request count and latency under the route pattern,
// keeping metric label cardinality bounded regardless of what clients send.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	path := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		path = pattern[i+1:]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "Handler panicked",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				writeError(r.Context(), w, http.StatusInternalServerError, codeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeError(r.Context(), w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded, try again later")
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), w, http.StatusUnauthorized, codeUnauthorized, err.Error())
}

// Start serves until Shutdown is called. A closed server returns nil.
func (s *Server) Start() error {
	err := s.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then stops the cache cleanup and
// rate limiter goroutines. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)

		if s.caches != nil {
			s.caches.Stop()
		}
		if s.limiter != nil {
			s.limiter.Stop()
		}
	})

	return shutdownErr
}
