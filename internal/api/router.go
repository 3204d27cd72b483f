// Package api provides the HTTP API for vodgate.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/api/handler"
	"github.com/vodgate/vodgate/internal/api/middleware"
	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/proxy"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/selector"
	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Registry *source.Registry
	Prober   *health.Prober
	Clients  *maccms.ClientSet
	Selector *selector.Selector
	Resolver *resolver.Resolver
	Relay    *proxy.Relay

	// PlayerBaseURL is the externally visible base for player URLs.
	PlayerBaseURL string

	// PlayerURLLimit is the inline transport ceiling. Zero means the
	// resolver default.
	PlayerURLLimit int

	// StaticDir serves the bundled player page under /static when set.
	StaticDir string
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "vodgate-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime)
	searchHandler := handler.NewSearchHandler(cfg.Selector, cfg.Logger)
	playbackHandler := handler.NewPlaybackHandler(handler.PlaybackHandlerConfig{
		Selector:      cfg.Selector,
		PlayerBaseURL: cfg.PlayerBaseURL,
		URLLimit:      cfg.PlayerURLLimit,
		Logger:        cfg.Logger,
	})
	episodesHandler := handler.NewEpisodesHandler(cfg.Registry, cfg.Resolver, cfg.Selector, cfg.Logger)
	proxyHandler := handler.NewProxyHandler(cfg.Relay, cfg.Logger)
	debugHandler := handler.NewDebugHandler(cfg.Registry, cfg.Prober, cfg.Clients)

	// Create rate limit middleware for different endpoint categories
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min
	proxyRateLimit := middleware.RateLimitByIP(middleware.ProxyRateLimit)         // 600 req/min

	// Liveness (public, unlimited)
	r.With(middleware.ContentTypeJSON).Get("/health", opsHandler.HealthCheck)

	// Tool endpoints - standard rate limiting
	r.Route("/tools", func(r chi.Router) {
		r.Use(standardRateLimit)
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireJSON)
		r.Post("/search_movie", searchHandler.SearchMovie)
		r.Post("/get_playback_info", playbackHandler.GetPlaybackInfo)
	})

	// Deferred-mode episode hydration
	r.Route("/api", func(r chi.Router) {
		r.Use(standardRateLimit)
		r.Use(middleware.ContentTypeJSON)
		r.Get("/episodes/{videoId}", episodesHandler.GetEpisodes)
	})

	// Streaming relay - generous limits, no JSON defaults
	r.Route("/proxy", func(r chi.Router) {
		r.Use(proxyRateLimit)
		r.Get("/", proxyHandler.Stream)
		r.Options("/", proxyHandler.Preflight)
	})

	// Debug endpoints - probe rounds are expensive upstream
	r.Route("/debug", func(r chi.Router) {
		r.Use(expensiveRateLimit)
		r.Use(middleware.ContentTypeJSON)
		r.Get("/source", debugHandler.Sources)
	})

	// Bundled web player
	if cfg.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
