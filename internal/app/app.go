package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/connectors/github"
	"github.com/repolens/repolens/internal/handlers"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/orchestrator"
	"github.com/repolens/repolens/internal/services/auth"
	"github.com/repolens/repolens/internal/services/events"
	"github.com/repolens/repolens/internal/services/llm"
	"github.com/repolens/repolens/internal/services/scheduler"
	"github.com/repolens/repolens/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB         *badger.BadgerDB
	JobStorage interfaces.JobStorage

	// External service clients
	HostingClient interfaces.HostingClient
	Analyzer      interfaces.Analyzer

	// Core services
	EventService     interfaces.EventService
	Orchestrator     *orchestrator.Orchestrator
	SchedulerService *scheduler.Service
	AuthService      *auth.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	JobHandler    *handlers.JobHandler
	ReportHandler *handlers.ReportHandler
	IssueHandler  *handlers.IssueHandler
	WSHandler     *handlers.WebSocketHandler
}

// New wires the application together from configuration
func New(config *common.Config) (*App, error) {
	logger := common.GetLogger()

	a := &App{
		Config: config,
		Logger: logger,
	}

	if config.Storage.Badger.ResetOnStartup {
		logger.Warn().Str("path", config.Storage.Badger.Path).Msg("Resetting storage on startup")
		if err := os.RemoveAll(config.Storage.Badger.Path); err != nil {
			return nil, fmt.Errorf("failed to reset storage: %w", err)
		}
	}

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.DB = db
	a.JobStorage = badger.NewJobStorage(db, logger)

	hosting, err := github.NewConnector(&config.GitHub, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create hosting client: %w", err)
	}
	a.HostingClient = hosting

	analyzer, err := llm.NewAnalyzer(config, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}
	a.Analyzer = analyzer

	a.EventService = events.NewService(logger)

	policy, err := orchestrator.RetryPolicyFromConfig(&config.Orchestrator)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}
	a.Orchestrator = orchestrator.New(a.HostingClient, a.Analyzer, a.JobStorage, a.EventService, policy, logger)

	if config.Scheduler.Enabled {
		sweeper, err := scheduler.NewService(&config.Scheduler, a.JobStorage, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		a.SchedulerService = sweeper
	}

	a.AuthService = auth.NewService(&config.Auth, logger)

	a.APIHandler = handlers.NewAPIHandler()
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.JobStorage, logger)
	a.ReportHandler = handlers.NewReportHandler(a.JobStorage, logger)
	a.IssueHandler = handlers.NewIssueHandler(a.JobStorage, a.HostingClient, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger)

	logger.Info().
		Str("llm_provider", config.LLM.Provider).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("Application initialized")

	return a, nil
}

// Start begins background services
func (a *App) Start() error {
	if a.SchedulerService != nil {
		// Reclaim jobs orphaned by the previous process before accepting work
		a.SchedulerService.Sweep()
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Close shuts down background services and releases resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.Orchestrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Orchestrator shutdown incomplete")
		}
	}

	if a.Analyzer != nil {
		if err := a.Analyzer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close analyzer")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	return nil
}
