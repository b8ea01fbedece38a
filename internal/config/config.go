// Package config loads service configuration from environment variables
// using github.com/caarlos0/env, with optional .env bootstrap via godotenv.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the root configuration for both binaries.
type Config struct {
	Log      LogConfig      `envPrefix:"LOG_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
	Postgres DBConfig
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Queue    QueueConfig    `envPrefix:"QUEUE_"`
	Worker   WorkerConfig   `envPrefix:"WORKER_"`
	Renderer RendererConfig `envPrefix:"RENDERER_"`
	Notifier NotifierConfig `envPrefix:"NOTIFIER_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	URL string `env:"DATABASE_URL,required,notEmpty"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"ADDR,required,notEmpty"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// QueueConfig names the job queue.
type QueueConfig struct {
	// Name is the Redis list carrying pending job ids. In-flight ids live
	// on Name + ":processing" until acknowledged.
	Name string `env:"NAME" envDefault:"vidforge:jobs"`
}

// WorkerConfig bounds the execution loop.
type WorkerConfig struct {
	Concurrency  int           `env:"CONCURRENCY" envDefault:"4"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Lease        time.Duration `env:"LEASE" envDefault:"10m"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT" envDefault:"5s"`
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
}

// RendererConfig points at the external render engine.
type RendererConfig struct {
	BaseURL string        `env:"HTTP_BASEURL,required,notEmpty"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10m"`
}

// NotifierConfig bounds webhook delivery retries.
type NotifierConfig struct {
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseBackoff    time.Duration `env:"BASE_BACKOFF" envDefault:"2s"`
	AttemptTimeout time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"15s"`
	BufferSize     int           `env:"BUFFER_SIZE" envDefault:"256"`
}

// StorageConfig selects the output storage provider.
type StorageConfig struct {
	Provider  string `env:"PROVIDER" envDefault:"localfs"`
	LocalRoot string `env:"LOCAL_ROOT" envDefault:"/data"`
	// ScratchRoot is the directory shared with the render engine, where it
	// writes outputs before the worker uploads them.
	ScratchRoot string `env:"SCRATCH_ROOT" envDefault:"/data"`

	GDrive GDriveConfig `envPrefix:"GDRIVE_"`
}

// GDriveConfig holds Google Drive OAuth credentials. Required only when
// Provider is "gdrive".
type GDriveConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RefreshToken string `env:"REFRESH_TOKEN"`
	FolderID     string `env:"FOLDER_ID"`
}

// ProcessingName is the in-flight companion list for the queue.
func (q QueueConfig) ProcessingName() string {
	return q.Name + ":processing"
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.MaxAttempts < 1 {
		c.Worker.MaxAttempts = 1
	}
	if c.Worker.Lease <= 0 {
		c.Worker.Lease = 10 * time.Minute
	}
	if c.Worker.PollTimeout <= 0 {
		c.Worker.PollTimeout = 5 * time.Second
	}
	if c.Worker.ReapInterval <= 0 {
		c.Worker.ReapInterval = time.Minute
	}
	if c.Notifier.MaxAttempts < 1 {
		c.Notifier.MaxAttempts = 1
	}
	if c.Notifier.BaseBackoff <= 0 {
		c.Notifier.BaseBackoff = time.Second
	}
	if c.Notifier.BufferSize < 1 {
		c.Notifier.BufferSize = 1
	}
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}
