package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"fintelli/internal/adapters/ai"
	chclient "fintelli/internal/adapters/clickhouse"
	"fintelli/internal/adapters/config"
	"fintelli/internal/adapters/embeddings"
	errnoop "fintelli/internal/adapters/errors/noop"
	"fintelli/internal/adapters/errors/sentry"
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
	"fintelli/internal/events"
	"fintelli/internal/metrics"
	chrepo "fintelli/internal/repository/clickhouse"
	pgrepo "fintelli/internal/repository/postgres"
	redisrepo "fintelli/internal/repository/redis"
	"fintelli/internal/vectorindex"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
	"fintelli/pkg/retry"
	"fintelli/pkg/templates"
)

const startupTimeout = 30 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects data stores. Postgres is required;
// ClickHouse and Redis are optional and their absence degrades features
// instead of failing startup.
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, startupTimeout)
	defer cancel()

	var err error

	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	if err := c.PG.EnsureVectorExtension(ctx); err != nil {
		c.Log.Fatalf("failed to enable pgvector: %v", err)
	}
	if err := pgrepo.EnsureSchema(ctx, c.PG.DB(), c.Config.Embeddings.Dimensions); err != nil {
		c.Log.Fatalf("failed to apply schema: %v", err)
	}
	metrics.RegisterStoreCollector(metrics.NewStoreCollector(c.Log.With("component", "store_collector"), c.PG.DB()))
	c.Log.Info("✓ PostgreSQL connected")

	if c.Config.ClickHouse.Enabled() {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
		if err != nil {
			c.Log.Warnw("ClickHouse unavailable, agent telemetry disabled", "error", err)
			c.CH = nil
		} else {
			c.Log.Info("✓ ClickHouse connected")
		}
	}

	if c.Config.Redis.Enabled() {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(ctx, c.Config.Redis)
		if err != nil {
			c.Log.Warnw("Redis unavailable, caches stay process-local", "error", err)
			c.Redis = nil
		} else {
			c.Log.Info("✓ Redis connected")
		}
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes all domain repositories
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()
	c.Repos.Posts = pgrepo.NewPostRepository(db)
	c.Repos.Insights = pgrepo.NewInsightRepository(db)
	c.Repos.Runs = pgrepo.NewWorkflowRunRepository(db)

	if c.CH != nil {
		ctx, cancel := context.WithTimeout(c.Context, startupTimeout)
		defer cancel()

		executions := chrepo.NewExecutionRepository(c.CH.Conn())
		if err := executions.EnsureSchema(ctx); err != nil {
			c.Log.Warnw("Failed to create executions table, agent telemetry disabled", "error", err)
		} else {
			c.Repos.Executions = executions
		}
	}

	if c.Redis != nil {
		c.Repos.CacheStore = redisrepo.NewCacheStore(c.Redis, c.Config.Redis.KeyPrefix)
	}

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka, the completion driver and embeddings
func (c *Container) MustInitAdapters() {
	var err error

	if c.Config.Kafka.Enabled() {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{Brokers: c.Config.Kafka.Brokers})
		// every instance needs every event, so each joins its own group
		c.Adapters.WorkflowEventsFeed = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: c.Config.Kafka.Brokers,
			GroupID: c.Config.App.Name + "-reports-" + uuid.NewString()[:8],
			Topic:   kafka.TopicWorkflowCompleted,
		})
		c.Log.Info("✓ Kafka configured")
	}

	ctx, cancel := context.WithTimeout(c.Context, startupTimeout)
	defer cancel()

	c.Adapters.Completion, err = ai.NewCompletionService(ctx, c.Config.AI, c.redisClient(), c.Config.Redis.KeyPrefix, schemas.AgentResultSchema)
	if err != nil {
		c.Log.Fatalf("failed to init completion service: %v", err)
	}

	c.Adapters.Briefing, err = ai.NewCompletionService(ctx, c.Config.AI, c.redisClient(), c.Config.Redis.KeyPrefix, coordinator.BriefingSchema)
	if err != nil {
		c.Log.Fatalf("failed to init briefing completion service: %v", err)
	}

	c.Adapters.Embeddings, err = embeddings.NewProvider(c.Config.Embeddings, c.Config.AI.OpenAIKey)
	if err != nil {
		c.Log.Fatalf("failed to init embeddings: %v", err)
	}
	if dims := c.Adapters.Embeddings.Dimensions(); dims != c.Config.Embeddings.Dimensions {
		c.Log.Fatalf("embedding provider %s produces %d dimensions, EMBEDDINGS_DIMENSIONS is %d",
			c.Adapters.Embeddings.Name(), dims, c.Config.Embeddings.Dimensions)
	}

	c.Log.Infow("✓ Adapters initialized",
		"ai_provider", c.Config.AI.Provider,
		"embeddings", c.Adapters.Embeddings.Name(),
	)
}

// ========================================
// Phase 5: Analysis pipeline
// ========================================

// MustInitBusiness wires the vector index, agents, coordinator and
// workflow orchestrator
func (c *Container) MustInitBusiness() {
	var store vectorindex.Store
	switch c.Config.Vector.Driver {
	case "memory":
		store = vectorindex.NewMemoryStore()
	default:
		store = pgrepo.NewEmbeddingRepository(c.PG.DB())
	}
	c.Business.VectorIndex = vectorindex.NewIndex(store, c.Config.Vector.MaxK)
	c.Business.Searcher = vectorindex.NewSearcher(c.Business.VectorIndex, c.Adapters.Embeddings)

	cacheStore := c.cacheStore()
	cacheOpts := cache.Options{
		ComputeTimeout: c.Config.Cache.ComputeTimeout,
		LockWait:       c.Config.Cache.LockWait,
	}

	agentDeps := agents.Deps{
		Completion: c.Adapters.Completion,
		Evidence:   c.Business.Searcher,
		Posts:      c.Repos.Posts,
		Store:      cacheStore,
		Templates:  templates.Get(),
		CacheOpts:  cacheOpts,
		Region:     c.Config.Market.Region,
		EvidenceK:  c.Config.Vector.MaxK,
	}
	c.Business.Agents = agents.NewRegistry(
		agents.NewSocialIntelligence(agentDeps, c.Config.Cache.SocialTTL),
		agents.NewMarketSentiment(agentDeps, c.Config.Cache.MarketTTL),
		agents.NewCompetitorAnalysis(agentDeps, c.Config.Cache.CompetitorTTL, c.Config.Market.Competitors),
	)

	c.Business.Coordinator = coordinator.New(c.Config.Coordinator, c.ErrorTracker)

	deps := workflow.Deps{
		Posts:       c.Repos.Posts,
		Agents:      c.Business.Agents,
		Coordinator: c.Business.Coordinator,
		Briefer:     coordinator.NewBriefer(c.Adapters.Briefing, c.Config.Market.Region, c.Config.Coordinator.BriefingTimeout),
		Retry:       retry.New(retry.DefaultConfig()),
		Indexer:     c.Business.Searcher,
		Insights:    c.Repos.Insights,
		Runs:        c.Repos.Runs,
	}
	if c.Repos.Executions != nil {
		deps.Recorder = c.Repos.Executions
	}
	if c.Adapters.KafkaProducer != nil {
		deps.Events = events.NewPublisher(c.Adapters.KafkaProducer)
	}
	c.Business.Orchestrator = workflow.New(c.Config.Workflow, c.Config.Market.Competitors, deps)

	reportOpts := cacheOpts
	reportOpts.Namespace = "report"
	c.Business.Reports = cache.New[schemas.CompiledReport](reportOpts, cacheStore)

	c.Log.Infow("✓ Analysis pipeline initialized",
		"agents", c.Business.Agents.List(),
		"vector_driver", c.Config.Vector.Driver,
		"shared_cache", cacheStore != nil,
	)
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication initializes the HTTP API and health probes
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, c.healthChecks()...)

	deps := api.Deps{
		Workflows:     c.Business.Orchestrator,
		Agents:        c.Business.Agents,
		Search:        c.Business.Searcher,
		Runs:          c.Repos.Runs,
		Insights:      c.Repos.Insights,
		Reports:       c.Business.Reports,
		ReportTTL:     c.Config.Cache.ReportTTL,
		DefaultWindow: c.Config.Workflow.DefaultWindow,
		MaxK:          c.Config.Vector.MaxK,
	}
	if c.Repos.Executions != nil {
		deps.Stats = c.Repos.Executions
	}

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:         c.Config.Server.Port,
		ServiceName:  c.Config.App.Name,
		Version:      c.Config.App.Version,
		ReadTimeout:  c.Config.Server.ReadTimeout,
		WriteTimeout: c.Config.Server.WriteTimeout,
	}, c.Application.HealthHandler, api.NewHandler(deps), c.Log)

	c.Log.Info("✓ Application layer initialized")
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground initializes workers and event consumers
func (c *Container) MustInitBackground() {
	c.Background.WorkerScheduler = c.provideScheduler()

	if c.Adapters.WorkflowEventsFeed != nil {
		c.Background.ReportInvalidator = consumers.NewReportInvalidator(
			c.Adapters.WorkflowEventsFeed,
			c.Business.Reports,
			c.Business.Orchestrator.Instance(),
			c.Log,
		)
	}

	c.Log.Info("✓ Background processing initialized")
}

// healthChecks lists dependency probes. Only Postgres gates readiness.
func (c *Container) healthChecks() []health.Check {
	checks := []health.Check{{Name: "postgres", Ping: c.PG.Health, Required: true}}
	if c.CH != nil {
		checks = append(checks, health.Check{Name: "clickhouse", Ping: c.CH.Health})
	}
	if c.Redis != nil {
		checks = append(checks, health.Check{Name: "redis", Ping: c.Redis.Health})
	}
	checks = append(checks, health.Check{
		Name: "workers",
		Ping: func(ctx context.Context) error { return c.Background.WorkerScheduler.Ping(ctx) },
	})
	return checks
}

// cacheStore returns the shared store or nil so layers stay local. A typed
// nil must not leak into the cache.Store interface.
func (c *Container) cacheStore() cache.Store {
	if c.Repos.CacheStore == nil {
		return nil
	}
	return c.Repos.CacheStore
}

// redisClient returns the raw client for the shared rate limiter, or nil
func (c *Container) redisClient() *goredis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// provideErrorTracker initializes Sentry or falls back to a no-op tracker
func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}
