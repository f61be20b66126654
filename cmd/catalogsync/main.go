// File: cmd/catalogsync/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/internal/notification"
	"github.com/homehub-io/catalog-sync/internal/server"
	"github.com/homehub-io/catalog-sync/internal/source"
	"github.com/homehub-io/catalog-sync/internal/storage"
	syncengine "github.com/homehub-io/catalog-sync/internal/sync"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	storage   storage.Storage
	fetcher   *source.SourceFetcher
	engine    *syncengine.Engine
	scheduler *syncengine.Scheduler
	server    *server.HTTPServer
	metrics   *metrics.Manager
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.fetcher = source.NewSourceFetcher(&app.config.Source, app.metrics)

	app.engine = syncengine.NewEngine(&app.config.Sync, app.fetcher, app.storage, app.metrics)

	if app.config.Notifications.Enabled {
		notifier := notification.NewWebhookNotifier(&app.config.Notifications, app.metrics)
		app.engine.SetNotifier(notifier)
	}

	app.scheduler = syncengine.NewScheduler(app.engine, app.config.Sync.ScheduleInterval,
		models.SyncType(app.config.Sync.DefaultType))

	app.server = server.NewHTTPServer(&app.config.Server, AppVersion, app.storage, app.engine, app.metrics)

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}

	store, err := storage.NewStorage(storageCfg, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = store
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting catalog sync service")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.scheduler.Start()

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"source_repo":    app.config.Source.CoreRepo,
		"authenticated":  app.config.Source.Token != "",
	}).Info("Catalog sync service started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping catalog sync service")

	app.cancel()

	// Stop components in reverse order
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	// Let an in-flight run reach its terminal state
	if app.engine != nil {
		app.engine.Wait()
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Catalog sync service stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "catalogsync",
	Short:   "Integration catalog reconciliation service",
	Long:    `A service that keeps a local canonical catalog of upstream integrations up to date and records an auditable history of every change.`,
	Version: AppVersion,
	RunE:    runService,
}

// runService is the main command to run the service
func runService(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("catalogsync %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Source: %s (branch %s)\n", cfg.Source.CoreRepo, cfg.Source.Branch)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Authenticated: %t\n", cfg.Source.Token != "")

		return nil
	},
}

// syncCmd runs a single reconciliation and exits
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot catalog sync and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		syncTypeStr, _ := cmd.Flags().GetString("type")
		syncType := models.SyncType(syncTypeStr)
		switch syncType {
		case models.SyncTypeFull, models.SyncTypeIncremental, models.SyncTypeManual:
		default:
			return fmt.Errorf("sync type must be full, incremental or manual")
		}

		storageCfg := &storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		}
		store, err := storage.NewStorage(storageCfg, nil)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("failed to run storage migrations: %w", err)
		}

		fetcher := source.NewSourceFetcher(&cfg.Source, nil)
		engine := syncengine.NewEngine(&cfg.Sync, fetcher, store, nil)

		fmt.Printf("Starting %s sync against %s...\n", syncType, cfg.Source.CoreRepo)
		start := time.Now()

		run, err := engine.TriggerSync(context.Background(), syncType, false)
		if err != nil {
			return fmt.Errorf("failed to start sync: %w", err)
		}
		engine.Wait()

		final, err := store.GetSyncRun(context.Background(), run.ID)
		if err != nil {
			return fmt.Errorf("failed to read sync result: %w", err)
		}

		fmt.Printf("Sync %s finished with status %s in %s\n", final.ID, final.Status, time.Since(start).Round(time.Second))
		fmt.Printf("Total: %d  New: %d  Updated: %d  Deprecated: %d  Errors: %d\n",
			final.TotalCount, final.NewCount, final.UpdatedCount, final.DeletedCount, final.ErrorCount)

		if final.Status != models.RunStatusCompleted {
			return fmt.Errorf("sync run did not complete")
		}
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	syncCmd.Flags().StringP("type", "t", "incremental", "sync type (full, incremental, manual)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(syncCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
