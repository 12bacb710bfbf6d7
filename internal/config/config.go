package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix  = "IMAGEUTILS_"
	EnvConfig  = "IMAGEUTILS_CONFIG"
	envNesting = "__"
)

type Config struct {
	// Platform pins the capability row; empty detects it from the runtime.
	Platform  string          `koanf:"platform"`
	Log       LogConfig       `koanf:"log"`
	API       APIConfig       `koanf:"api"`
	Queue     QueueConfig     `koanf:"queue"`
	Worker    WorkerConfig    `koanf:"worker"`
	Engine    EngineConfig    `koanf:"engine"`
	Storage   StorageConfig   `koanf:"storage"`
	Database  DatabaseConfig  `koanf:"database"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Events    EventsConfig    `koanf:"events"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type APIConfig struct {
	Addr       string        `koanf:"addr"`
	PresignTTL time.Duration `koanf:"presign_ttl"`
	// SourceRoots lists the directories local sources may be read from. Empty allows none.
	SourceRoots []string `koanf:"source_roots"`
	// RemoteHosts lists the hosts http(s) sources may be fetched from. Empty disables remote sources.
	RemoteHosts []string `koanf:"remote_hosts"`
}

type QueueConfig struct {
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	Name          string        `koanf:"name"`
	MaxRetry      int           `koanf:"max_retry"`
	TaskTimeout   time.Duration `koanf:"task_timeout"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int    `koanf:"concurrency"`
	MaxActiveJobs int    `koanf:"max_active_jobs"`
	MetricsAddr   string `koanf:"metrics_addr"`
}

type EngineConfig struct {
	CacheDir       string        `koanf:"cache_dir"`
	SourceTimeout  time.Duration `koanf:"source_timeout"`
	MaxSourceBytes int64         `koanf:"max_source_bytes"`
}

type StorageConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
	Prefix    string `koanf:"prefix"`
}

type DatabaseConfig struct {
	// DSN selects the postgres job store; empty keeps jobs in memory.
	DSN string `koanf:"dsn"`
}

type WebhookConfig struct {
	SigningSecret  string        `koanf:"signing_secret"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

type EventsConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type RateLimitConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Capacity     int           `koanf:"capacity"`
	Window       time.Duration `koanf:"window"`
	UserIDHeader string        `koanf:"user_id_header"`
}

type TracingConfig struct {
	Exporter     string `koanf:"exporter"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func Defaults() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		Log: LogConfig{Level: "info"},
		API: APIConfig{
			Addr:       ":8080",
			PresignTTL: 15 * time.Minute,
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Name:        "default",
			MaxRetry:    3,
			TaskTimeout: 3 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:   max(2, runtime.NumCPU()),
			MaxActiveJobs: defaultWorkerSlots,
			MetricsAddr:   ":9091",
		},
		Engine: EngineConfig{
			CacheDir:       os.TempDir(),
			SourceTimeout:  30 * time.Second,
			MaxSourceBytes: 64 << 20,
		},
		Storage: StorageConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "imageutils-outputs",
			Prefix:    "outputs",
		},
		Webhook: WebhookConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Events: EventsConfig{
			Topic: "imageutils.jobs",
		},
		RateLimit: RateLimitConfig{
			Capacity:     60,
			Window:       time.Minute,
			UserIDHeader: "X-User-ID",
		},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// Load layers an optional YAML file and IMAGEUTILS_* environment variables over Defaults.
// path falls back to $IMAGEUTILS_CONFIG; a missing file is not an error. Nested keys use a
// double underscore: IMAGEUTILS_QUEUE__REDIS_ADDR sets queue.redis_addr.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, envNesting, envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func envKey(key string) string {
	if key == EnvConfig {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}
