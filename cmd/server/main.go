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

	"github.com/mescon/desup/internal/api"
	"github.com/mescon/desup/internal/auth"
	"github.com/mescon/desup/internal/clock"
	"github.com/mescon/desup/internal/config"
	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/integration"
	"github.com/mescon/desup/internal/logger"
	"github.com/mescon/desup/internal/metrics"
	"github.com/mescon/desup/internal/notifier"
	"github.com/mescon/desup/internal/services"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("desup %s\n", config.Version)
		os.Exit(0)
	}

	// Load configuration from environment variables (DESUP_*)
	cfg := config.Load()

	// Initialize logger with configured log directory
	logger.Init(cfg.LogDir)
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting desup %s...", config.Version)
	logger.Infof("Duplicate-file scan orchestration service")
	logger.Infof("========================================")

	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Base Path: %s", cfg.BasePath)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s", cfg.DatabasePath)
	logger.Infof("  Log Directory: %s", cfg.LogDir)
	logger.Infof("  Authority: %s", cfg.AuthorityBase)
	logger.Infof("  Drive API: %s", cfg.DriveBaseURL)
	logger.Infof("  Drive Scope: %s", cfg.DriveScope)
	if cfg.RetentionDays > 0 {
		logger.Infof("  Data Retention: %d days (schedule: %s)", cfg.RetentionDays, cfg.MaintenanceSchedule)
	} else {
		logger.Infof("  Data Retention: disabled (no automatic pruning)")
	}

	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		logger.Errorf("DESUP_TENANT_ID, DESUP_CLIENT_ID and DESUP_CLIENT_SECRET are required for the on-behalf-of exchange")
		os.Exit(1)
	}
	if cfg.EventGridEndpoint == "" || cfg.EventGridKey == "" {
		logger.Errorf("DESUP_EVENTGRID_ENDPOINT and DESUP_EVENTGRID_KEY are required to notify scan workers")
		os.Exit(1)
	}

	// Initialize Database
	logger.Infof("Initializing database: %s", cfg.DatabasePath)
	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Database initialized successfully")

	// Initialize Event Bus
	logger.Infof("Initializing Event Bus...")
	eb := eventbus.NewEventBus(repo.DB)
	logger.Infof("✓ Event Bus initialized")

	// Initialize upstream/downstream integrations
	logger.Infof("Initializing integrations...")
	delegator := integration.NewOBODelegator(cfg.AuthorityBase, cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.RequestTimeout)
	logger.Infof("✓ Token Delegator (on-behalf-of exchange via %s)", cfg.AuthorityBase)

	busPublisher := integration.NewGridPublisher(cfg.EventGridEndpoint, cfg.EventGridKey, cfg.RequestTimeout)
	logger.Infof("✓ Event Grid Publisher (scan worker notifications)")

	driveClient := integration.NewGraphDriveClient(cfg.DriveBaseURL, cfg.RequestTimeout)
	logger.Infof("✓ Drive Client (duplicate deletion via %s)", cfg.DriveBaseURL)

	// Initialize Services
	logger.Infof("Initializing core services...")
	store := db.NewScanStore(repo.DB)
	authenticator := auth.NewClaimsAuthenticator(cfg.Audience)

	workflow := services.NewWorkflowService(store, delegator, busPublisher, eb, clock.NewRealClock(), cfg.DriveScope)
	logger.Infof("✓ Workflow Service (scan lifecycle)")

	reconciler := services.NewReconciler(store, delegator, driveClient, eb, cfg.DriveScope)
	logger.Infof("✓ Reconciler (duplicate resolution and deletion)")

	maintenance := services.NewMaintenanceService(repo, eb, cfg.MaintenanceSchedule, cfg.RetentionDays)
	if err := maintenance.Start(); err != nil {
		logger.Errorf("Failed to start maintenance service: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Maintenance Service (retention pruning)")

	// Initialize Notifier Service
	notifierService := notifier.NewNotifier(eb, cfg.NotifyURLs)
	notifierService.Start()
	if len(cfg.NotifyURLs) > 0 {
		logger.Infof("✓ Notification Service (%d targets)", len(cfg.NotifyURLs))
	} else {
		logger.Infof("  Notification Service: no targets configured")
	}

	// Initialize Metrics Service (Prometheus metrics)
	metricsService := metrics.NewMetricsService(eb)
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	// Start API Server
	logger.Infof("Initializing REST API server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		Repo:          repo,
		EventBus:      eb,
		Authenticator: authenticator,
		Workflow:      workflow,
		Reconciler:    reconciler,
		Metrics:       metricsService,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("========================================")
	logger.Infof("✓ desup %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	logger.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("========================================")
	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	logger.Infof("========================================")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	logger.Infof("Stopping Maintenance Service...")
	maintenance.Stop()
	logger.Infof("✓ Maintenance Service stopped")

	logger.Infof("Stopping Event Bus...")
	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	logger.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	logger.Infof("Closing database connection...")
	if err := repo.GracefulClose(); err != nil {
		logger.Errorf("Failed to close database connection: %v", err)
	} else {
		logger.Infof("✓ Database connection closed")
	}

	logger.Infof("========================================")
	logger.Infof("✓ desup shutdown complete")
	logger.Infof("========================================")
}
