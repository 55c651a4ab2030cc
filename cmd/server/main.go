/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the registration and disbursement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment) and build the logger
  2. Parse command-line flags (override config)
  3. Initialize SQLite store
  4. Load the price list and build the registration ledger
  5. Connect the optional Redis report cache
  6. Build the notification ledger and async dispatcher
  7. Build services, handler and router
  8. Start the failure digest job and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT, 8080)
  -db      SQLite database path (default: DB_PATH, ./regengine.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the digest job and drain the notification queue
  4. Close cache and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/regengine.db"

  # Run with in-memory database and a custom price list
  PRICING_FILE=./prices.json ./server -db=":memory:"

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/api"
	"github.com/rayalaseema/regengine/cache"
	"github.com/rayalaseema/regengine/config"
	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/factory"
	"github.com/rayalaseema/regengine/logger"
	"github.com/rayalaseema/regengine/metrics"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/registration"
	"github.com/rayalaseema/regengine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	// Price list
	ledger := registration.NewLedger(nil)
	if cfg.Pricing.File != "" {
		table, err := factory.LoadPriceList(cfg.Pricing.File)
		if err != nil {
			log.Fatal("failed to load price list", zap.String("file", cfg.Pricing.File), zap.Error(err))
		}
		ledger = registration.NewLedger(table)
		log.Info("price list loaded", zap.String("file", cfg.Pricing.File))
	}
	ledger.MinimumRatio = decimal.NewFromFloat(cfg.Pricing.MinPaymentRatio)

	// Report cache
	reports := cache.Disabled()
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Warn("redis unavailable, report cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			reports = cache.NewReportCache(client, cfg.Redis.TTL, log)
			log.Info("report cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
		}
	}
	defer reports.Close()

	m := metrics.New()

	// Notifications
	notes := notification.NewLedger(store, notification.NewLogSender(log),
		notification.WithAuditLog(store),
		notification.WithLogger(log),
		notification.WithMetrics(m),
		notification.WithConcurrency(cfg.Notification.ResendConcurrency),
	)
	dispatcher := notification.NewAsyncDispatcher(notes, notification.DispatcherConfig{
		Workers: cfg.Notification.QueueWorkers,
		Logger:  log,
	})
	dispatcher.Start(context.Background())

	// Services
	registrations := registration.NewService(store, ledger,
		registration.WithAuditLog(store),
		registration.WithNotifier(dispatcher),
		registration.WithReportCache(reports),
		registration.WithLogger(log),
		registration.WithMetrics(m),
	)
	disbursements := disbursement.NewService(store,
		disbursement.WithAuditLog(store),
		disbursement.WithNotifier(dispatcher, cfg.Disbursement.NotifyTo...),
		disbursement.WithLogger(log),
		disbursement.WithMetrics(m),
	)

	handler := api.NewHandler(store, api.Services{
		Registrations: registrations,
		Disbursements: disbursements,
		Notifications: notes,
		Metrics:       m,
		Logger:        log,
	})
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	digest := api.NewFailureDigestScheduler(notes, m, log, cfg.Notification.DigestCron)
	if err := digest.Start(); err != nil {
		log.Fatal("failed to start failure digest", zap.Error(err))
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", zap.Int("port", *port), zap.String("env", cfg.Env), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	digest.Stop()
	dispatcher.Stop()

	log.Info("server stopped")
}
