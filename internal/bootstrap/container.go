package bootstrap

import (
	"context"
	"sync"

	"fintelli/internal/adapters/ai"
	chclient "fintelli/internal/adapters/clickhouse"
	"fintelli/internal/adapters/config"
	"fintelli/internal/adapters/embeddings"
	"fintelli/internal/adapters/kafka"
	pgclient "fintelli/internal/adapters/postgres"
	redisclient "fintelli/internal/adapters/redis"
	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/api"
	"fintelli/internal/api/health"
	"fintelli/internal/cache"
	"fintelli/internal/consumers"
	"fintelli/internal/coordinator"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/post"
	"fintelli/internal/domain/run"
	chrepo "fintelli/internal/repository/clickhouse"
	redisrepo "fintelli/internal/repository/redis"
	"fintelli/internal/vectorindex"
	"fintelli/internal/workers"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure layer. CH and Redis are nil when not configured.
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Business    *Business
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Posts      post.Repository
	Insights   insight.Repository
	Runs       run.Repository
	Executions *chrepo.ExecutionRepository // nil without ClickHouse
	CacheStore *redisrepo.CacheStore       // nil without Redis
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer      *kafka.Producer
	WorkflowEventsFeed *kafka.Consumer
	Completion         ai.CompletionService
	Briefing           ai.CompletionService // unconstrained by the agent result schema
	Embeddings         embeddings.Provider
}

// Business groups the analysis pipeline
type Business struct {
	VectorIndex  *vectorindex.Index
	Searcher     *vectorindex.Searcher
	Agents       *agents.Registry
	Coordinator  *coordinator.Coordinator
	Orchestrator *workflow.Orchestrator
	Reports      *cache.Layer[schemas.CompiledReport]
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler   *workers.Scheduler
	ReportInvalidator *consumers.ReportInvalidator // nil without Kafka
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Business:    &Business{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitBusiness()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start starts the HTTP server, workers and consumers
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Repos.Executions != nil {
		c.Repos.Executions.Start(c.Context)
	}

	if c.Background.ReportInvalidator != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Background.ReportInvalidator.Start(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Errorw("Report invalidator failed", "error", err)
			}
		}()
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // trigger shutdown on fatal HTTP error
		}
	}()

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")
	c.Cancel()
	c.Lifecycle.Shutdown(c)
}
