/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, BILLING_* env, flags)
  2. Build the zap logger
  3. Open the store (SQLite with migrations, or memory)
  4. Optionally reset and load the demo fixture
  5. Start the cancellation sweep scheduler
  6. Start the HTTP server

COMMAND-LINE FLAGS:
  --port         HTTP server port (default: 8080)
  --db           SQLite database path (default: billing.db)
                 Use ":memory:" for a private in-memory SQLite database
  --driver       sqlite or memory
  --seed         Reset the store and load the demo fixture
  --sweep        Run the scheduled cancellation sweep (default: true)
  --auto-cancel  Cancel policies found cancelable for nonpayment
  --config       Path to a config file

  See config/config.go for the matching environment variables.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  ./server --db=./data/billing.db --seed
  ./server --driver=memory --seed --auto-cancel
  BILLING_LOG_FORMAT=json ./server --port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Cron sweep
  - store/sqlite/sqlite.go: Database implementation
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

	"go.uber.org/zap"

	"github.com/warp/policy-billing/api"
	"github.com/warp/policy-billing/config"
	"github.com/warp/policy-billing/logging"
	"github.com/warp/policy-billing/store/memory"
	"github.com/warp/policy-billing/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := api.NewHandler(store, logger)
	handler.AutoCancel = cfg.Scheduler.AutoCancel

	if cfg.Seed.OnStart {
		if _, err := handler.Seed(context.Background()); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	scheduler := api.NewCancellationScheduler(handler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Spec = cfg.Scheduler.Cron
	scheduler.AutoCancel = cfg.Scheduler.AutoCancel
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig) (api.Store, func(), error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), func() {}, nil
	}
	store, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, func() { store.Close() }, nil
}
