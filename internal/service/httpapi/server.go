// Package httpapi implements the HTTP Surface (C7): the public inspect
// endpoints, the stats/status/pending-auth views, and the basic-auth
// gated settings admin pair.
package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"inspectfleet/internal/cache"
	"inspectfleet/internal/core/fleet"
	"inspectfleet/internal/core/queue"
	"inspectfleet/internal/ratelimit"
	"inspectfleet/internal/shared/logger"
	"inspectfleet/internal/shared/settings"
	"inspectfleet/proxypool"
)

// Server is the HTTP Surface.
type Server struct {
	cfg       Config
	fleet     *fleet.Supervisor
	pool      *proxypool.Pool
	queue     *queue.Queue
	settings  *settings.Manager
	cache     cache.Cache
	limiter   *ratelimit.Limiter
	log       zerolog.Logger
	startedAt time.Time
}

// Config holds the fixed (non-hot-reloadable) server knobs.
type Config struct {
	AdminUser   string
	AdminPass   string
	MaxAttempts int
}

// New constructs a Server.
func New(cfg Config, sup *fleet.Supervisor, pool *proxypool.Pool, q *queue.Queue, mgr *settings.Manager, c cache.Cache) *Server {
	return &Server{
		cfg:       cfg,
		fleet:     sup,
		pool:      pool,
		queue:     q,
		settings:  mgr,
		cache:     c,
		limiter:   ratelimit.New(),
		log:       logger.WithComponent("httpapi.Server"),
		startedAt: time.Now(),
	}
}

// Mux builds the routed, middleware-wrapped handler.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/bulk", s.handleBulk)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/auth", s.handleAuth)
	mux.HandleFunc("/pending-auth", s.handlePendingAuth)
	mux.HandleFunc("/status", s.handleStatus)

	mux.Handle("/settings", s.basicAuth(http.HandlerFunc(s.handleSettings)))

	return s.withMiddleware(mux)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.corsMiddleware(s.rateLimitMiddleware(next))
}

// basicAuth gates the wrapped handler the way the corpus's web admin API
// gates /api/*: no-op when no credentials are configured.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	if s.cfg.AdminUser == "" || s.cfg.AdminPass == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != s.cfg.AdminUser || p != s.cfg.AdminPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="inspectfleet"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	admission := s.settings.Get().Admission
	if admission == nil {
		return false
	}
	for _, allowed := range admission.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	for _, re := range admission.CompiledOrigins() {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admission := s.settings.Get().Admission
		if admission == nil || !admission.RateLimitEnabled {
			next.ServeHTTP(w, r)
			return
		}

		window := time.Duration(admission.RateLimitWindowSeconds) * time.Second
		if !s.limiter.Allow(clientIP(r), window, admission.RateLimitMaxRequests) {
			writeError(w, apierrRateLimit())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http surface listening")
	return http.ListenAndServe(addr, s.Mux())
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
