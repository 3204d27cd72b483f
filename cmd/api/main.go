// Package main provides the entrypoint for the vodgate API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/api"
	"github.com/vodgate/vodgate/internal/api/middleware"
	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/proxy"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/selector"
	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
	"github.com/vodgate/vodgate/internal/telemetry"
	"github.com/vodgate/vodgate/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "vodgate-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting vodgate API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	sourcesFile := os.Getenv("SOURCES_FILE")
	if sourcesFile == "" {
		sourcesFile = "config/sources.json"
	}

	// PublicBaseURL is what clients can actually reach. Player URLs and
	// rewritten playlist entries point back at it.
	publicBaseURL := os.Getenv("PUBLIC_BASE_URL")
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:" + port
	}

	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "static"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	providerMetrics, err := middleware.NewProviderMetrics("maccms")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	// Load the source registry
	registry, err := source.LoadFile(sourcesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", sourcesFile).Msg("failed to load sources")
	}
	log.Info().
		Str("file", sourcesFile).
		Int("sources", registry.Count()).
		Msg("source registry loaded")

	// Wire the resolution pipeline
	clients := maccms.NewClientSet(registry, maccms.ClientConfig{})
	prober := health.NewProber(health.ProberConfig{
		Registry: registry,
		Logger:   log,
	})
	bundleResolver := resolver.New(resolver.Config{
		Catalog: clients,
		Logger:  log,
		Metrics: providerMetrics,
	})
	sel := selector.New(selector.Config{
		Registry: registry,
		Health:   prober,
		Searcher: clients,
		Resolver: bundleResolver,
		Logger:   log,
	})

	// The relay is open by default; PROXY_RESTRICT_HOSTS pins it to the
	// configured source hosts plus whatever rewritten playlists reference.
	var allowedHosts []string
	if os.Getenv("PROXY_RESTRICT_HOSTS") == "true" {
		allowedHosts = registry.Hosts()
		log.Info().Strs("hosts", allowedHosts).Msg("relay restricted to source hosts")
	}
	relay := proxy.New(proxy.Config{
		Logger:        log,
		AllowedHosts:  allowedHosts,
		PublicBaseURL: publicBaseURL,
	})

	// Background health refresh keeps the selector's view current
	refreshJob := worker.NewRefreshJob(worker.RefreshJobConfig{
		Prober: prober,
		Logger: log,
	})
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go refreshJob.Run(refreshCtx)

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		Registry:      registry,
		Prober:        prober,
		Clients:       clients,
		Selector:      sel,
		Resolver:      bundleResolver,
		Relay:         relay,
		PlayerBaseURL: publicBaseURL,
		StaticDir:     staticDir,
	})

	// Create HTTP server. WriteTimeout stays unset because the relay
	// streams media bodies that outlive any fixed deadline.
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stopRefresh()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
