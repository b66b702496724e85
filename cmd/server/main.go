/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the deal desk server: the backend that holds one
  draft per open deal modal and talks to the calculation service.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Initialize logging
  3. Initialize SQLite audit store
  4. Create the calculation service client
  5. Create the draft manager and dashboard registry
  6. Configure HTTP router and start the idle draft reaper
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: deal-desk.db)
           Use ":memory:" for in-memory database
  -config  YAML config file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reaper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run against a local calculation service
  DEAL_DESK_JWT_SECRET=dev ./server -db="./data/deal-desk.db"

  # Run with in-memory database
  DEAL_DESK_JWT_SECRET=dev ./server -db=":memory:"

ENVIRONMENT:
  DEAL_DESK_* variables, see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - session/manager.go: Draft lifecycle
  - store/sqlite/sqlite.go: Audit log
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/deal-desk/api"
	"github.com/warp/deal-desk/auth"
	"github.com/warp/deal-desk/config"
	"github.com/warp/deal-desk/dashboard"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/logger"
	"github.com/warp/deal-desk/remote"
	"github.com/warp/deal-desk/session"
	"github.com/warp/deal-desk/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	client, err := remote.New(remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		Timeout:       cfg.Remote.Timeout,
		RatePerSecond: cfg.Remote.RatePerSecond,
		Burst:         cfg.Remote.Burst,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	creds := func(ctx context.Context, a session.Actor) context.Context {
		return remote.WithToken(ctx, a.Token)
	}
	logout := func(a session.Actor) {
		logger.L.Warn("calculation service rejected credentials, ending session", "actor", a.ID)
		verifier.Revoke(a.Token)
	}

	boards := dashboard.NewRegistry(client, dashboard.Config{
		PageSize:    cfg.PageSize,
		Location:    loc,
		Credentials: creds,
		OnLogout:    logout,
	})
	drafts := session.NewManager(client, store, session.Options{
		Rates:       cfg.EstimateRates(),
		Credentials: creds,
		OnLogout:    logout,
		OnSettled:   func(string, deal.Status) { boards.InvalidateAll() },
	})

	handler := api.NewHandler(drafts, boards, store)
	handler.Runs = store
	handler.DB = store

	reaper := api.NewDraftReaper(drafts, store, cfg.DraftIdleTTL, cfg.ReaperSchedule)
	reaper.Location = loc
	if err := reaper.Start(); err != nil {
		return err
	}
	defer reaper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, verifier, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Remote.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("server starting", "addr", server.Addr, "calculation_service", cfg.Remote.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.L.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.L.Info("server stopped")
	return nil
}
