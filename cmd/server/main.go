/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, LEAVE_* environment, defaults)
  2. Build the zap logger
  3. Open the store selected by database.driver
  4. Seed the leave catalog (built-in presets or catalog.path)
  5. Wire directory, calendar, notifier and engine
  6. Start the accrual scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Stop the scheduler
  4. Drain in-flight notifications
  5. Close the store

EXAMPLES:
  LEAVE_JWT_SECRET=dev ./server
  LEAVE_JWT_SECRET=dev LEAVE_DATABASE_DRIVER=memory ./server
  DATABASE_URL=postgres://... LEAVE_DATABASE_DRIVER=postgres ./server -config=leave.yaml

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logger.Logging())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	catalog := factory.DefaultCatalog()
	if cfg.Catalog.Path != "" {
		if catalog, err = factory.LoadCatalogFile(cfg.Catalog.Path); err != nil {
			return err
		}
	}
	seeded, err := catalog.Apply(ctx, store)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info("catalog seeded",
		zap.Int("leave_types_created", seeded.LeaveTypesCreated),
		zap.Int("policies_saved", seeded.PoliciesSaved))

	engine := leave.NewEngine(leave.Deps{
		Store:     store,
		Directory: leave.NewDirectory(store),
		Calendar:  leave.NewWorkCalendar(store),
		Notifier:  notify.Multi{notify.NewLog(logger)},
		Logger:    logger,
	})
	engine.SetNotifyTimeout(cfg.Notifications.Timeout)

	handler := api.NewHandler(engine, store, logger)
	scheduler := api.NewAccrualScheduler(engine, store, logger)
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Workers = cfg.Scheduler.Workers
	handler.Scheduler = scheduler
	if cfg.Scheduler.Enabled {
		scheduler.Start(ctx)
	}

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, auth, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	scheduler.Stop()
	engine.WaitNotifications()
	logger.Info("server stopped")
	return nil
}

// openStore returns the configured backend and its close func.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (api.Backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.URL, cfg.MaxOpenConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
