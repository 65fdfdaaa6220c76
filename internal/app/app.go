package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/handlers"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/services/automation"
	"github.com/ternarybob/sheetporter/internal/services/events"
	"github.com/ternarybob/sheetporter/internal/services/history"
	"github.com/ternarybob/sheetporter/internal/services/mapping"
	"github.com/ternarybob/sheetporter/internal/services/orchestrator"
	"github.com/ternarybob/sheetporter/internal/services/reporter"
	"github.com/ternarybob/sheetporter/internal/services/sources"
	"github.com/ternarybob/sheetporter/internal/services/status"
	"github.com/ternarybob/sheetporter/internal/storage/badger"
)

const shutdownTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService   *events.Service
	StatusService  *status.Service
	HistoryService *history.Service // nil when history is disabled

	// Job pipeline
	Source         interfaces.RowSource
	Mappings       *mapping.Registry
	Reporter       interfaces.StatusReporter
	SessionFactory interfaces.SessionFactory
	Orchestrator   *orchestrator.Orchestrator

	// HTTP handlers
	JobHandler    *handlers.JobHandler
	HealthHandler *handlers.HealthHandler
	WSHandler     *handlers.WebSocketHandler // nil when websocket.enabled is false
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

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("source_provider", cfg.Source.Provider).
		Str("target", cfg.Automation.BaseURL).
		Bool("callbacks", cfg.Callback.BaseURL != "").
		Bool("history", app.HistoryService != nil).
		Int("mappings", len(app.Mappings.List())).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
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

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.StatusService = status.NewService(a.EventService, a.Logger)
	if err := a.StatusService.SubscribeToJobEvents(); err != nil {
		return fmt.Errorf("failed to subscribe status service: %w", err)
	}

	if err := a.initHistory(); err != nil {
		return err
	}

	a.Source = a.initSources()

	a.Mappings = mapping.NewRegistry(a.Logger)
	if n, err := a.Mappings.LoadFromDir(a.Config.Mappings.Dir); err != nil {
		a.Logger.Warn().Err(err).Str("dir", a.Config.Mappings.Dir).Msg("Failed to load mapping files")
	} else if n > 0 {
		a.Logger.Info().Int("count", n).Msg("Loaded mapping rules from files")
	}

	a.Reporter = a.initReporter()
	a.SessionFactory = automation.NewFactory(automation.NewConfig(&a.Config.Automation), a.Logger)

	a.Orchestrator = orchestrator.New(
		a.Source,
		a.Mappings,
		a.Reporter,
		a.SessionFactory,
		a.EventService,
		orchestrator.Config{
			TargetBaseURL: a.Config.Automation.BaseURL,
			Credentials: interfaces.Credentials{
				Username: a.Config.Automation.Username,
				Password: a.Config.Automation.Password,
			},
		},
		a.Logger,
	)
	return nil
}

func (a *App) initHistory() error {
	if !a.Config.History.Enabled {
		a.Logger.Debug().Msg("Job history disabled")
		return nil
	}

	retention := common.ParseDuration(a.Config.History.Retention, 0)
	a.HistoryService = history.NewService(a.StorageManager, retention, a.Logger)
	if err := a.HistoryService.SubscribeToJobEvents(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe history service: %w", err)
	}
	if err := a.HistoryService.Start(a.Config.History.PruneSchedule); err != nil {
		a.Logger.Warn().Err(err).Str("schedule", a.Config.History.PruneSchedule).Msg("History pruning not scheduled")
	}
	return nil
}

// initSources builds the row source router. The Google backend is left out when
// no service account is configured; workbook ids still resolve.
func (a *App) initSources() interfaces.RowSource {
	cfg := a.Config.Source
	timeout := common.ParseDuration(cfg.Timeout, sources.DefaultTimeout)

	var google interfaces.RowSource
	httpClient, err := sources.NewServiceAccountHTTPClient(context.Background(), sources.ServiceAccount{
		Email:           cfg.ServiceAccountEmail,
		PrivateKey:      cfg.PrivateKey,
		PrivateKeyID:    cfg.PrivateKeyID,
		CredentialsFile: cfg.CredentialsFile,
	}, timeout)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Google Sheets source unavailable")
	} else {
		opts := []sources.ClientOption{
			sources.WithHTTPClient(httpClient),
			sources.WithLogger(a.Logger),
			sources.WithRateLimit(cfg.RateLimit),
		}
		if cfg.APIBaseURL != "" {
			opts = append(opts, sources.WithBaseURL(cfg.APIBaseURL))
		}
		google = sources.NewGoogleSheetsClient(opts...)
	}

	workbook := sources.NewWorkbookSource(cfg.WorkbookDir, a.Logger)
	return sources.NewRouter(cfg.Provider, google, workbook)
}

func (a *App) initReporter() interfaces.StatusReporter {
	cfg := a.Config.Callback
	if cfg.BaseURL == "" {
		a.Logger.Warn().Msg("callback.base_url not set, job reports will be dropped")
		return reporter.Noop{Logger: a.Logger}
	}

	return reporter.NewClient(cfg.BaseURL, a.Config.Security.HMACSecret,
		reporter.WithPathPrefix(cfg.PathPrefix),
		reporter.WithTimeout(common.ParseDuration(cfg.Timeout, 10*time.Second)),
		reporter.WithRetryPolicy(reporter.NewRetryPolicy(cfg.MaxAttempts, common.ParseDuration(cfg.InitialBackoff, 500*time.Millisecond))),
		reporter.WithLogger(a.Logger),
	)
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	var jobHistory handlers.JobHistory
	if a.HistoryService != nil {
		jobHistory = a.HistoryService
	}

	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.Source, a.Mappings, jobHistory, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(a.Config, a.Orchestrator, a.Reporter, a.Logger)

	if a.Config.WebSocket.Enabled {
		a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
		a.WSHandler.SetStatusProvider(a.StatusService)
	}
}

// Close stops the active job before its next row, then releases all resources
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Active job did not finish before shutdown")
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.HistoryService != nil {
		a.HistoryService.Stop()
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
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
