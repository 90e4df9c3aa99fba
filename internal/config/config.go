package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 50
)

// Config holds all configuration for the VidQueue daemon.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	API         APIConfig
	Download    DownloadConfig
	Scheduler   SchedulerConfig
	Persistence PersistenceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	APIToken        string
	RateLimitPerMin int
}

type LogConfig struct {
	Level  string
	Format string
}

// APIConfig describes the remote generation endpoint.
type APIConfig struct {
	BaseURL string
	APIKey  string
}

type DownloadConfig struct {
	SavePath   string
	Prefix     string
	DefaultExt string
}

type SchedulerConfig struct {
	Concurrency      int
	LogFlushInterval time.Duration
	MaxLogBytes      int
}

type PersistenceConfig struct {
	Backend       string
	DataDir       string
	MaxValueBytes int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

var validBackends = map[string]bool{
	"file":     true,
	"postgres": true,
	"redis":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads an optional .env file, then environment variables, and returns
// a validated Config. Variables already set in the environment win over the
// file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("VIDQUEUE_PORT", 8090),
			Env:             envString("VIDQUEUE_ENV", "development"),
			APIToken:        os.Getenv("VIDQUEUE_API_TOKEN"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(envString("API_BASE_URL", "http://localhost:8082"), "/"),
			APIKey:  os.Getenv("API_KEY"),
		},
		Download: DownloadConfig{
			SavePath:   envString("SAVE_PATH", "./downloads"),
			Prefix:     envString("DOWNLOAD_PREFIX", "sora"),
			DefaultExt: strings.TrimPrefix(envString("DOWNLOAD_EXT", "mp4"), "."),
		},
		Scheduler: SchedulerConfig{
			Concurrency:      envInt("CONCURRENCY", 2),
			LogFlushInterval: envDuration("LOG_FLUSH_INTERVAL", 300*time.Millisecond),
			MaxLogBytes:      envInt("MAX_LOG_BYTES", 1<<20),
		},
		Persistence: PersistenceConfig{
			Backend:       strings.ToLower(envString("PERSIST_BACKEND", "file")),
			DataDir:       envString("DATA_DIR", "./.vidqueue"),
			MaxValueBytes: envInt("REDIS_MAX_VALUE_BYTES", 5<<20),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("VIDQUEUE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must start with http:// or https://, got %q", c.API.BaseURL)
	}

	if c.Download.SavePath == "" {
		return fmt.Errorf("SAVE_PATH is required")
	}
	if c.Download.DefaultExt == "" {
		return fmt.Errorf("DOWNLOAD_EXT is required")
	}

	if c.Scheduler.Concurrency < MinConcurrency || c.Scheduler.Concurrency > MaxConcurrency {
		return fmt.Errorf("CONCURRENCY must be between %d and %d, got %d",
			MinConcurrency, MaxConcurrency, c.Scheduler.Concurrency)
	}
	if c.Scheduler.LogFlushInterval <= 0 {
		return fmt.Errorf("LOG_FLUSH_INTERVAL must be positive")
	}
	if c.Scheduler.MaxLogBytes < 0 {
		return fmt.Errorf("MAX_LOG_BYTES must not be negative")
	}

	if !validBackends[c.Persistence.Backend] {
		return fmt.Errorf("PERSIST_BACKEND must be one of file, postgres, redis; got %q", c.Persistence.Backend)
	}
	if c.Persistence.Backend == "file" && c.Persistence.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required when PERSIST_BACKEND is file")
	}
	if c.Persistence.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when PERSIST_BACKEND is postgres")
	}
	if c.Persistence.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when PERSIST_BACKEND is redis")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
