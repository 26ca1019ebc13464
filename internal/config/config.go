package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"edusocial"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"edusocial"`

	// Embedding microservice endpoints, one per model.
	E5ServerURL  string `envconfig:"E5_EMBEDDING_SERVER_URL" default:"http://e5-embedding:8000"`
	BGEServerURL string `envconfig:"BGE_EMBEDDING_SERVER_URL" default:"http://bge-embedding:8000"`

	// Embedding credentials: either a comma-separated list or numbered
	// EMBED_CREDENTIAL_1..20 variables (the list wins when both are set).
	EmbedCredentials string `envconfig:"EMBED_CREDENTIALS"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI       bool `envconfig:"ENABLE_API" default:"true"`
	EnableProcessor bool `envconfig:"ENABLE_PROCESSOR" default:"true"`
	EnableConsumer  bool `envconfig:"ENABLE_CONSUMER" default:"true"`

	// Ingestion processor tuning.
	ProcessorBatchSize       int `envconfig:"PROCESSOR_BATCH_SIZE" default:"10"`
	ProcessorIntervalSeconds int `envconfig:"PROCESSOR_INTERVAL_SECONDS" default:"5"`
	ProcessorMaxBatches      int `envconfig:"PROCESSOR_MAX_BATCHES" default:"3"`
	StaleClaimMinutes        int `envconfig:"STALE_CLAIM_MINUTES" default:"10"`
	FailedRequeueHours       int `envconfig:"FAILED_REQUEUE_HOURS" default:"24"`
	QueueRetentionDays       int `envconfig:"QUEUE_RETENTION_DAYS" default:"7"`

	// Chunker sizing, in characters.
	MaxChunkSize int `envconfig:"MAX_CHUNK_SIZE" default:"1000"`
	MinChunkSize int `envconfig:"MIN_CHUNK_SIZE" default:"100"`
	OverlapSize  int `envconfig:"OVERLAP_SIZE" default:"50"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort     int     `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath   string  `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"20"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.E5ServerURL == "" {
		return fmt.Errorf("%w: E5_EMBEDDING_SERVER_URL", ErrMissingRequired)
	}
	if c.BGEServerURL == "" {
		return fmt.Errorf("%w: BGE_EMBEDDING_SERVER_URL", ErrMissingRequired)
	}
	if c.MinChunkSize <= 0 || c.MaxChunkSize <= c.MinChunkSize {
		return fmt.Errorf("%w: chunk sizes (MIN_CHUNK_SIZE < MAX_CHUNK_SIZE required)", ErrMissingRequired)
	}
	return nil
}
