// ABOUTME: Gateway orchestrator wiring store, router, enrichment, and the HTTP server
// ABOUTME: Owns startup order, health endpoints, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wirechat/wirechat/internal/client"
	"github.com/wirechat/wirechat/internal/config"
	"github.com/wirechat/wirechat/internal/enrich"
	"github.com/wirechat/wirechat/internal/router"
	"github.com/wirechat/wirechat/internal/store"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the wirechat server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *client.Registry
	rooms      *client.Rooms
	router     *router.Router
	gemini     *enrich.GeminiBackend
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store from config, honoring the WIRECHAT_DB_PATH
// override used in container deployments.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WIRECHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// initEnrichment builds the coordinator, with a Gemini backend when an
// API key is configured and fallback-only mode otherwise.
func initEnrichment(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*enrich.Coordinator, *enrich.GeminiBackend, error) {
	opts := enrich.Options{
		Timeout:            cfg.Enrichment.Timeout,
		RetryBaseDelay:     cfg.Enrichment.RetryBaseDelay,
		MaxAttempts:        cfg.Enrichment.MaxAttempts,
		SummaryMinMessages: cfg.Enrichment.SummaryMinMessages,
		SummaryMinWords:    cfg.Enrichment.SummaryMinWords,
	}

	if cfg.Enrichment.GeminiAPIKey == "" {
		logger.Warn("no Gemini API key configured, enrichment runs in fallback-only mode")
		return enrich.NewCoordinator(nil, opts), nil, nil
	}

	backend, err := enrich.NewGeminiBackend(ctx, cfg.Enrichment.GeminiAPIKey, cfg.Enrichment.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing enrichment backend: %w", err)
	}
	logger.Info("enrichment backend ready", "model", cfg.Enrichment.Model)
	return enrich.NewCoordinator(backend, opts), backend, nil
}

// New creates a Gateway from config. Components are wired bottom-up:
// store, presence, enrichment, router, then the HTTP surface.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	st, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	coordinator, gemini, err := initEnrichment(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := client.NewRegistry(logger)
	rooms := client.NewRooms(logger)
	rt := router.New(st, registry, rooms, coordinator, cfg.Cache.HistoryWindow, logger)

	g := &Gateway{
		config:   cfg,
		store:    st,
		registry: registry,
		rooms:    rooms,
		router:   rt,
		gemini:   gemini,
		logger:   logger,
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.buildRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// buildRoutes assembles the HTTP surface: websocket endpoint, REST API,
// health probes, and metrics.
func (g *Gateway) buildRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	ws := newSocketHandler(
		g.router,
		g.store,
		g.config.Server.AllowedOrigins,
		g.config.Limits.EventsPerSecond,
		g.config.Limits.EventBurst,
		g.logger,
	)
	r.Handle("/ws", ws)

	api := newAPIHandler(g.store, g.router, g.logger)
	r.Mount("/api", api.Routes())

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	return r
}

func (g *Gateway) allowedOrigins() []string {
	if len(g.config.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return g.config.Server.AllowedOrigins
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := g.store.ListUsers(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store not ready: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.registry.Count())
}

// Run starts the HTTP server and blocks until the context is canceled
// or the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is
// already canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []string
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("HTTP shutdown: %v", err))
	}
	if g.gemini != nil {
		if err := g.gemini.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("enrichment backend close: %v", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("store close: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	g.logger.Info("gateway shutdown complete")
	return nil
}
