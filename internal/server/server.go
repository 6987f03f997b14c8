// Package server is the composition root: it opens the stores, builds the
// services and handlers, and maps them onto routes.
//
// DEPENDENCY CHAIN:
//
//	config → storage.Stores → LedgerService / UsageAuditor → AccessGateway
//	       → CreditHandler / AuthHandler → chi routes
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/docmeter/internal/auth"
	"github.com/sakif/docmeter/internal/config"
	"github.com/sakif/docmeter/internal/handler"
	"github.com/sakif/docmeter/internal/metrics"
	"github.com/sakif/docmeter/internal/middleware"
	"github.com/sakif/docmeter/internal/service"
	"github.com/sakif/docmeter/internal/storage"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the stores and the auditor. Start closes both during
// graceful shutdown, after in-flight requests have finished.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	stores  *storage.Stores
	auditor *service.UsageAuditor
	metrics *metrics.Metrics
	tokens  *auth.TokenService
}

// New opens the configured stores and wires every route. The auditor's
// workers are running when New returns.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}

	var tokens *auth.TokenService
	if cfg.AuthEnabled() {
		tokens, err = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("JWT_SECRET not set; every request is anonymous and gated routes will deny")
	}
	if cfg.AdminEmail == "" {
		logger.Warn("ADMIN_EMAIL not set; admin routes will deny everyone")
	}

	m := metrics.New()
	auditor := service.NewUsageAuditor(stores.Usage, service.AuditorConfig{
		Workers:   cfg.AuditWorkers,
		QueueSize: cfg.AuditQueueSize,
	}, logger, m)
	auditor.Start()

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		stores:  stores,
		auditor: auditor,
		metrics: m,
		tokens:  tokens,
	}
	s.setupRoutes()

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
//
//	GET  /healthz                            → liveness
//	GET  /metrics                            → Prometheus exposition
//	GET  /auth/github/login, /callback       → sign-in (only when auth is configured)
//	POST /auth/logout                        → clear the session cookie
//	GET  /api/me                             → signed-in principal
//	GET  /api/credits                        → own balance
//	POST /api/credits/debit                  → credit gate "credits.debit"
//	POST /api/documents/extract              → credit gate "documents.extract"
//	GET  /api/admin/credits/{userID}         → admin: any balance
//	POST /api/admin/credits/{userID}/grant   → admin: add credits
//
// MIDDLEWARE ORDER:
// OptionalAuth runs before Logger so the log line carries the user id, and
// Recoverer runs inside Logger so a panic is still logged as a 500.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(auth.OptionalAuth(s.tokens))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Handle("/metrics", s.metrics.Handler())

	admin := auth.NewAdminPredicate(s.config.AdminEmail)
	ledger := service.NewLedgerService(s.stores.Ledger, s.config.StorageTimeout, s.logger, s.metrics)
	gateway := service.NewAccessGateway(auth.ContextResolver{}, admin, ledger, s.auditor, s.logger, s.metrics)
	credits := handler.NewCreditHandler(gateway, ledger, s.logger)

	if s.tokens != nil {
		authService := service.NewAuthService(s.tokens, admin, s.logger)
		github := auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
		authHandler := handler.NewAuthHandler(github, authService, s.logger)

		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		s.router.Post("/auth/logout", authHandler.HandleLogout)
		s.router.With(auth.RequireAuth(s.tokens)).Get("/api/me", authHandler.HandleMe)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.With(auth.RequireAuth(s.tokens)).Get("/credits", credits.HandleBalance)
		r.With(credits.CreditGate("credits.debit")).Post("/credits/debit", credits.HandleDebit)
		r.With(credits.CreditGate("documents.extract")).Post("/documents/extract", credits.HandleExtract)

		r.Route("/admin", func(r chi.Router) {
			r.Use(credits.AdminOnly)
			r.Get("/credits/{userID}", credits.HandleAdminBalance)
			r.Post("/credits/{userID}/grant", credits.HandleAdminGrant)
		})
	})
}

// Start serves until SIGINT/SIGTERM, then shuts down in order:
//  1. stop accepting connections and wait for in-flight requests (30s)
//  2. drain the usage auditor so queued events are written
//  3. close the stores
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("ledger", s.config.LedgerDriver),
			slog.String("audit", s.config.AuditDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close drains the auditor and closes the stores.
func (s *Server) Close() {
	s.auditor.Stop()
	if err := s.stores.Close(); err != nil {
		s.logger.Error("closing stores", slog.String("error", err.Error()))
	}
}
