/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the retail back-office server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL) and run migrations
  4. Seed the admin user when the user table is empty
  5. Wire the ledger, auth service, metrics and HTTP handler
  6. Start the debt audit scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -driver  Store driver: sqlite or postgres (overrides DB_DRIVER)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/retail.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://localhost/retail ./server -driver=postgres

ENVIRONMENT:
  See config/config.go for the full list.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Store implementations
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
	"syscall"
	"time"

	"github.com/warp/retail-engine/api"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/config"
	"github.com/warp/retail-engine/logger"
	"github.com/warp/retail-engine/metrics"
	"github.com/warp/retail-engine/sales"
	"github.com/warp/retail-engine/store/postgres"
	"github.com/warp/retail-engine/store/sqlite"
	"go.uber.org/zap"
)

// appStore is what the server needs from either backend.
type appStore interface {
	api.Store
	auth.UserStore
	Close() error
}

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	driver := flag.String("driver", cfg.DB.Driver, "Store driver (sqlite or postgres)")
	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	flag.Parse()
	cfg.Server.Port = *port
	cfg.DB.Driver = *driver
	cfg.DB.Path = *dbPath

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: "retail-engine",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize database", zap.String("driver", cfg.DB.Driver), zap.Error(err))
	}
	defer store.Close()

	// Initialize services
	m := metrics.New(cfg.Metrics.Prefix)
	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Expiration, "retail-engine")
	authSvc := auth.NewService(store, tokens, log)
	if err := authSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		log.Fatal("failed to seed admin user", zap.Error(err))
	}
	ledger := sales.NewLedger(store, sales.WithLogger(log))

	handler := api.NewHandler(store, ledger, authSvc, m, log)
	handler.SecureCookies = cfg.IsProduction()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.CORS.Origins})

	// Start audit scheduler
	scheduler := api.NewAuditScheduler(store, ledger, m, log)
	scheduler.CheckInterval = cfg.Audit.Interval
	scheduler.Fix = cfg.Audit.Fix
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.String("driver", cfg.DB.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (appStore, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, postgres.Config{
			URL:          cfg.DB.URL,
			MaxOpenConns: cfg.DB.MaxOpenConns,
		})
	default:
		return sqlite.New(cfg.DB.Path)
	}
}
