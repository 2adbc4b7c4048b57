package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/crawler"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/export"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	EventService     interfaces.EventService
	CrawlerService   interfaces.CrawlerService
	ExportService    interfaces.ExportService
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	JobHandler    *handlers.JobHandler
	StreamHandler *handlers.StreamHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
	LogStreamer   *handlers.LogStreamer
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The event service must exist before the crawler; every publish goes
	// through the durable log it owns.
	app.EventService = events.NewService(app.StorageManager.EventStorage(), app.Logger)

	// WebSocket mirror and log streamer come next so service startup logs
	// already reach connected clients.
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)
	app.LogStreamer = handlers.NewLogStreamer(app.WSHandler, &app.Config.WebSocket)
	app.LogStreamer.Start()
	app.Logger.SetChannel("context", app.LogStreamer.GetChannel())

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage_path", cfg.Storage.Badger.Path).
		Bool("retention_enabled", cfg.Retention.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the crawler, export and retention services.
func (a *App) initServices() error {
	a.CrawlerService = crawler.NewService(a.Config, a.StorageManager, a.EventService, a.Logger)
	a.ExportService = export.NewService(a.Logger)

	a.SchedulerService = scheduler.NewService(a.Config, a.StorageManager, a.Logger)
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	return nil
}

// initHandlers wires the HTTP handlers.
func (a *App) initHandlers() {
	a.JobHandler = handlers.NewJobHandler(a.CrawlerService, a.ExportService, a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.CrawlerService, a.EventService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Config, a.Logger)
}

// Close closes all application resources. Shutdown order matters: the
// scheduler stops sweeping first, running crawls are cancelled while the
// event service is still accepting their final events, then the event feed
// and storage close.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.CrawlerService != nil {
		if err := a.CrawlerService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close crawler service")
		}
	}

	if a.LogStreamer != nil {
		a.LogStreamer.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
