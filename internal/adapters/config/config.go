package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"fintelli/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	Embeddings    EmbeddingsConfig
	Cache         CacheConfig
	Vector        VectorConfig
	Workflow      WorkflowConfig
	Coordinator   CoordinatorConfig
	Market        MarketConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"fintelli"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type ServerConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ClickHouseConfig is optional: agent execution telemetry is skipped when Host is empty
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"fintelli"`
}

func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig is optional: the cache layer stays process-local when Host is empty
type RedisConfig struct {
	Host      string `envconfig:"REDIS_HOST"`
	Port      int    `envconfig:"REDIS_PORT" default:"6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"fintelli:cache:"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// KafkaConfig is optional: domain events are dropped when no brokers are set
type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type AIConfig struct {
	Provider       string        `envconfig:"AI_PROVIDER" default:"openai"` // openai|gemini
	OpenAIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel    string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiKey      string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	Temperature    float64       `envconfig:"AI_TEMPERATURE" default:"0.2"`
	RequestsPerMin int           `envconfig:"AI_REQUESTS_PER_MINUTE" default:"60"`
	Timeout        time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
}

type EmbeddingsConfig struct {
	Provider   string        `envconfig:"EMBEDDINGS_PROVIDER" default:"openai"` // openai|hashing
	Model      string        `envconfig:"EMBEDDINGS_MODEL" default:"text-embedding-3-small"`
	Dimensions int           `envconfig:"EMBEDDINGS_DIMENSIONS" default:"1536"`
	Timeout    time.Duration `envconfig:"EMBEDDINGS_TIMEOUT" default:"30s"`
}

// CacheConfig holds per-agent freshness windows
type CacheConfig struct {
	SocialTTL      time.Duration `envconfig:"CACHE_SOCIAL_TTL" default:"30m"`
	MarketTTL      time.Duration `envconfig:"CACHE_MARKET_TTL" default:"1h"`
	CompetitorTTL  time.Duration `envconfig:"CACHE_COMPETITOR_TTL" default:"1h"`
	ReportTTL      time.Duration `envconfig:"CACHE_REPORT_TTL" default:"10m"`
	ComputeTimeout time.Duration `envconfig:"CACHE_COMPUTE_TIMEOUT" default:"2m"`
	LockWait       time.Duration `envconfig:"CACHE_LOCK_WAIT" default:"30s"`
}

type VectorConfig struct {
	Driver string `envconfig:"VECTOR_DRIVER" default:"pgvector"` // pgvector|memory
	MaxK   int    `envconfig:"VECTOR_MAX_K" default:"5"`
}

// WorkflowConfig holds per-agent deadlines and ingestion sizing
type WorkflowConfig struct {
	SocialTimeout     time.Duration `envconfig:"WORKFLOW_SOCIAL_TIMEOUT" default:"45s"`
	MarketTimeout     time.Duration `envconfig:"WORKFLOW_MARKET_TIMEOUT" default:"30s"`
	CompetitorTimeout time.Duration `envconfig:"WORKFLOW_COMPETITOR_TIMEOUT" default:"45s"`
	MaxConcurrency    int           `envconfig:"WORKFLOW_MAX_CONCURRENCY" default:"3"`
	BatchSize         int           `envconfig:"WORKFLOW_BATCH_SIZE" default:"50"`
	DefaultQuery      string        `envconfig:"WORKFLOW_DEFAULT_QUERY" default:"mobile money"`
	DefaultWindow     time.Duration `envconfig:"WORKFLOW_DEFAULT_WINDOW" default:"24h"`
}

// CoordinatorConfig holds cross-validation policy
type CoordinatorConfig struct {
	DivergenceThreshold float64       `envconfig:"COORDINATOR_DIVERGENCE_THRESHOLD" default:"0.6"`
	PolarityThreshold   float64       `envconfig:"COORDINATOR_POLARITY_THRESHOLD" default:"0.3"`
	DisagreementPenalty float64       `envconfig:"COORDINATOR_DISAGREEMENT_PENALTY" default:"0.5"`
	MaxTopInsights      int           `envconfig:"COORDINATOR_MAX_TOP_INSIGHTS" default:"10"`
	BriefingTimeout     time.Duration `envconfig:"COORDINATOR_BRIEFING_TIMEOUT" default:"30s"`
}

// MarketConfig describes the monitored market
type MarketConfig struct {
	Region      string   `envconfig:"MARKET_REGION" default:"Uganda"`
	Competitors []string `envconfig:"MARKET_COMPETITORS" default:"MTN MoMo,Airtel Money,Chipper Cash,Stanbic Bank,Centenary Bank,Equity Bank,DFCU Bank"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	WorkflowEnabled  bool          `envconfig:"WORKER_WORKFLOW_ENABLED" default:"true"`
	WorkflowInterval time.Duration `envconfig:"WORKER_WORKFLOW_INTERVAL" default:"1h"`
	JanitorInterval  time.Duration `envconfig:"WORKER_CACHE_JANITOR_INTERVAL" default:"5m"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects policy values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Vector.MaxK <= 0 {
		return errors.NewValidationError("VECTOR_MAX_K", "must be positive", c.Vector.MaxK)
	}
	if c.Coordinator.DisagreementPenalty < 0 || c.Coordinator.DisagreementPenalty > 1 {
		return errors.NewValidationError("COORDINATOR_DISAGREEMENT_PENALTY", "must be within [0,1]", c.Coordinator.DisagreementPenalty)
	}
	if c.Coordinator.MaxTopInsights <= 0 {
		return errors.NewValidationError("COORDINATOR_MAX_TOP_INSIGHTS", "must be positive", c.Coordinator.MaxTopInsights)
	}
	if c.Workflow.MaxConcurrency <= 0 {
		return errors.NewValidationError("WORKFLOW_MAX_CONCURRENCY", "must be positive", c.Workflow.MaxConcurrency)
	}
	switch c.Vector.Driver {
	case "pgvector", "memory":
	default:
		return errors.NewValidationError("VECTOR_DRIVER", "must be pgvector or memory", c.Vector.Driver)
	}
	return nil
}
