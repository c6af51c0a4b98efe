// Package config loads worker configuration from YAML with environment
// overrides for deployment secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueStream   string `yaml:"queueStream"`
	QueueGroup    string `yaml:"queueGroup"`
	Concurrency   int    `yaml:"concurrency"`
	MaxRetries    int    `yaml:"maxRetries"`

	GeminiAPIKey      string `yaml:"geminiAPIKey"`
	GeminiModel       string `yaml:"geminiModel"`
	EmbeddingProvider string `yaml:"embeddingProvider"` // gemini, ollama or none
	EmbeddingModel    string `yaml:"embeddingModel"`
	EmbeddingDim      int    `yaml:"embeddingDim"`
	OllamaBaseURL     string `yaml:"ollamaBaseURL"`
	MemoryRecallLimit int    `yaml:"memoryRecallLimit"`

	AnnotationURL      string `yaml:"annotationURL"`
	ExampleURL         string `yaml:"exampleURL"`
	ExampleCallbackURL string `yaml:"exampleCallbackURL"`

	InternalJWTPrivateKeyPath string `yaml:"internalJWTPrivateKeyPath"`
	InternalJWTKeyID          string `yaml:"internalJWTKeyID"`
	ServiceIssuer             string `yaml:"serviceIssuer"`

	AmqpURL      string `yaml:"amqpURL"`
	AmqpExchange string `yaml:"amqpExchange"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AmqpURL = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueStream == "" {
		cfg.QueueStream = "dessin:reviews"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "review-workers"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "none"
	}
	if cfg.MemoryRecallLimit <= 0 {
		cfg.MemoryRecallLimit = 5
	}
	if cfg.ServiceIssuer == "" {
		cfg.ServiceIssuer = "dessin-worker"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "gemini", "ollama", "none":
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q", cfg.EmbeddingProvider)
	}
	if strings.ToLower(cfg.EmbeddingProvider) != "none" && cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required when embeddingProvider is set")
	}
	enrichmentConfigured := cfg.AnnotationURL != "" || cfg.ExampleURL != ""
	if enrichmentConfigured && cfg.InternalJWTPrivateKeyPath == "" {
		return errors.New("config: internalJWTPrivateKeyPath is required when enrichment services are configured")
	}
	if cfg.ExampleURL != "" && cfg.ExampleCallbackURL == "" {
		return errors.New("config: exampleCallbackURL is required when exampleURL is set")
	}
	return nil
}
