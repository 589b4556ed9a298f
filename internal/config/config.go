package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Provider    ProviderConfig
	HuggingFace HuggingFaceConfig
	Webhook     WebhookConfig
	Internal    InternalConfig
	RateLimit   RateLimitConfig
	WarmPool    WarmPoolConfig
	LogStream   LogStreamConfig
	Cleanup     CleanupConfig
	S3          S3Config
	LogLevel    string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the deployment store backend.
type StoreConfig struct {
	Backend  string // "postgres" or "memory"
	Postgres PostgresConfig
}

// PostgresConfig holds database configuration.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration. Redis is optional: it backs the
// GPU registry override and the VRAM estimate cache.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// ProviderConfig holds GPU-serverless provider configuration.
type ProviderConfig struct {
	Default        string
	RunpodURL      string
	TemplateID     string
	DockerImage    string
	WorkersMin     int
	WorkersMax     int
	IdleTimeout    int
	ScalerType     string
	ScalerValue    int
	VolumeSizeGb   int
	Locations      string
	MaxRetries     int
	RequestTimeout time.Duration
	EnableVastAI   bool
}

// HuggingFaceConfig holds HF Hub client configuration.
type HuggingFaceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// WebhookConfig tunes user webhook delivery.
type WebhookConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// InternalConfig covers worker callbacks and the task-queue trampoline.
type InternalConfig struct {
	Secret   string
	BaseURL  string // public base URL of this service, for VISGATE_WEBHOOK
	QueueURL string // outbound task queue; empty means in-process dispatch
}

// RateLimitConfig tunes the per-subject sliding windows.
type RateLimitConfig struct {
	RequestsPerMinute int
	Window            time.Duration
}

// WarmPoolConfig controls warm endpoint reuse and the shared pool.
type WarmPoolConfig struct {
	Enabled         bool
	AlwaysOnModels  string // CSV of HF model IDs kept always warm
	ScheduledModels string // CSV of HF model IDs warm during ScheduleHours
	ScheduleHours   string // e.g. "8-20" or "8-12,14-18"; hours in Timezone
	Timezone        string
}

// LogStreamConfig bounds the live log ring.
type LogStreamConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// CleanupConfig is passed to workers as self-teardown tuning.
type CleanupConfig struct {
	IdleSeconds        int
	MaxLifetimeSeconds int
}

// S3Config holds optional default S3 credentials for model caches.
type S3Config struct {
	ModelURL        string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "memory"),
			Postgres: PostgresConfig{
				Host:            getEnv("DB_HOST", "localhost"),
				Port:            getEnvAsInt("DB_PORT", 5432),
				User:            getEnv("DB_USER", "visgate"),
				Password:        getEnv("DB_PASSWORD", ""),
				Database:        getEnv("DB_NAME", "visgate"),
				SSLMode:         getEnv("DB_SSL_MODE", "disable"),
				MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
				MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
			},
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Provider: ProviderConfig{
			Default:        getEnv("PROVIDER_DEFAULT", "runpod"),
			RunpodURL:      getEnv("RUNPOD_GRAPHQL_URL", "https://api.runpod.io/graphql"),
			TemplateID:     getEnv("RUNPOD_TEMPLATE_ID", ""),
			DockerImage:    getEnv("DOCKER_IMAGE", "visgate/inference:latest"),
			WorkersMin:     getEnvAsInt("RUNPOD_WORKERS_MIN", 0),
			WorkersMax:     getEnvAsInt("RUNPOD_WORKERS_MAX", 1),
			IdleTimeout:    getEnvAsInt("RUNPOD_IDLE_TIMEOUT", 5),
			ScalerType:     getEnv("RUNPOD_SCALER_TYPE", "QUEUE_DELAY"),
			ScalerValue:    getEnvAsInt("RUNPOD_SCALER_VALUE", 4),
			VolumeSizeGb:   getEnvAsInt("RUNPOD_VOLUME_SIZE_GB", 0),
			Locations:      getEnv("RUNPOD_LOCATIONS", "US"),
			MaxRetries:     getEnvAsInt("RUNPOD_MAX_RETRIES", 3),
			RequestTimeout: getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", "30s"),
			EnableVastAI:   getEnvAsBool("ENABLE_VASTAI", false),
		},
		HuggingFace: HuggingFaceConfig{
			BaseURL: getEnv("HF_API_BASE_URL", "https://huggingface.co"),
			Timeout: getEnvAsDuration("HF_TIMEOUT", "10s"),
		},
		Webhook: WebhookConfig{
			Timeout:    getEnvAsDuration("WEBHOOK_TIMEOUT", "10s"),
			MaxRetries: getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		},
		Internal: InternalConfig{
			Secret:   getEnv("INTERNAL_WEBHOOK_SECRET", ""),
			BaseURL:  getEnv("INTERNAL_WEBHOOK_BASE_URL", ""),
			QueueURL: getEnv("TASK_QUEUE_URL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 100),
			Window:            getEnvAsDuration("RATE_LIMIT_WINDOW", "60s"),
		},
		WarmPool: WarmPoolConfig{
			Enabled:         getEnvAsBool("WARM_POOL_ENABLED", true),
			AlwaysOnModels:  getEnv("WARM_POOL_ALWAYS_ON_MODELS", ""),
			ScheduledModels: getEnv("WARM_POOL_SCHEDULED_MODELS", ""),
			ScheduleHours:   getEnv("WARM_POOL_SCHEDULE_HOURS", "8-20"),
			Timezone:        getEnv("WARM_POOL_SCHEDULE_TIMEZONE", "UTC"),
		},
		LogStream: LogStreamConfig{
			MaxEntries: getEnvAsInt("LOG_STREAM_MAX_ENTRIES", 500),
			TTL:        getEnvAsDuration("LOG_STREAM_TTL", "30m"),
		},
		Cleanup: CleanupConfig{
			IdleSeconds:        getEnvAsInt("CLEANUP_IDLE_SECONDS", 600),
			MaxLifetimeSeconds: getEnvAsInt("CLEANUP_MAX_LIFETIME_SECONDS", 14400),
		},
		S3: S3Config{
			ModelURL:        getEnv("S3_MODEL_URL", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			EndpointURL:     getEnv("AWS_ENDPOINT_URL", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "postgres" {
		return nil, fmt.Errorf("STORE_BACKEND must be memory or postgres, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.Postgres.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required with STORE_BACKEND=postgres")
	}
	if cfg.Internal.BaseURL == "" {
		return nil, fmt.Errorf("INTERNAL_WEBHOOK_BASE_URL is required; worker callback URLs are built from it")
	}
	if cfg.RateLimit.RequestsPerMinute < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive")
	}

	return cfg, nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}
