// Package config loads application settings from defaults, an optional YAML
// file, a .env file and the process environment (in that order of precedence,
// later sources win).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConcurrency is the number of upload workers per run.
	DefaultConcurrency = 3
	// DefaultMaxFileSize matches the indexing service's own upload limit.
	DefaultMaxFileSize int64 = 20 * 1024 * 1024
	// DefaultGraceDelay is how long a finished queue stays visible before it is cleared.
	DefaultGraceDelay = 2 * time.Second
	// DefaultDirBatchSize is the directory listing page size.
	DefaultDirBatchSize = 100
)

// Config holds all runtime settings
type Config struct {
	APIBaseURL   string        `yaml:"api_base_url"`
	APIToken     string        `yaml:"api_token"`
	Concurrency  int           `yaml:"concurrency"`
	MaxFileSize  int64         `yaml:"max_file_size"` // bytes
	GraceDelay   time.Duration `yaml:"grace_delay"`
	DirBatchSize int           `yaml:"dir_batch_size"`
	ListenAddr   string        `yaml:"listen_addr"`
	DatabaseURL  string        `yaml:"database_url"`
	LogLevel     string        `yaml:"log_level"`

	DB DBPoolConfig `yaml:"db_pool"`
}

// DBPoolConfig tunes the sql.DB connection pool
type DBPoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		APIBaseURL:   "http://localhost:8000/api/v1",
		Concurrency:  DefaultConcurrency,
		MaxFileSize:  DefaultMaxFileSize,
		GraceDelay:   DefaultGraceDelay,
		DirBatchSize: DefaultDirBatchSize,
		ListenAddr:   "127.0.0.1:8085",
		DatabaseURL:  "sqlite://./docrag.db",
		LogLevel:     "INFO",
		DB: DBPoolConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty, in which case DOCRAG_CONFIG
// is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: failed to read .env: %v", err)
	}

	if path == "" {
		path = os.Getenv("DOCRAG_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DOCRAG_API_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("DOCRAG_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("DOCRAG_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToUpper(v)
	}

	c.Concurrency = getEnvInt("DOCRAG_CONCURRENCY", c.Concurrency)
	if mb := getEnvInt("DOCRAG_MAX_FILE_SIZE_MB", -1); mb >= 0 {
		c.MaxFileSize = int64(mb) << 20
	}
	c.GraceDelay = getEnvDuration("DOCRAG_GRACE_DELAY", c.GraceDelay)
	c.DirBatchSize = getEnvInt("DOCRAG_DIR_BATCH_SIZE", c.DirBatchSize)

	c.DB.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.DB.MaxOpenConns)
	c.DB.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.DB.MaxIdleConns)
	c.DB.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.DB.ConnMaxLifetime)
}

// Validate checks the settings the ingest pipeline depends on
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSize)
	}
	if c.DirBatchSize <= 0 {
		return fmt.Errorf("directory batch size must be positive, got %d", c.DirBatchSize)
	}
	if c.GraceDelay < 0 {
		return fmt.Errorf("grace delay must not be negative, got %v", c.GraceDelay)
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errors.New("api base url is required")
	}
	return nil
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
