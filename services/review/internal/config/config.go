// Package config loads review API configuration from YAML with environment
// overrides for deployment secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

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

	AllowedImageHosts []string `yaml:"allowedImageHosts"`

	AuthJWKSURL string `yaml:"authJWKSURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	InternalJWTPublicKeyPath string   `yaml:"internalJWTPublicKeyPath"`
	InternalJWTKeyID         string   `yaml:"internalJWTKeyID"`
	InternalAudience         string   `yaml:"internalAudience"`
	InternalIssuers          []string `yaml:"internalIssuers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioPublicURL string `yaml:"minioPublicURL"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SubmitLimit           int `yaml:"submitLimit"`
	SubmitLimitWindowSecs int `yaml:"submitLimitWindowSecs"`

	TrustedProxies []string `yaml:"trustedProxies"`
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
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("SUBMIT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitLimit = n
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
	if cfg.InternalAudience == "" {
		cfg.InternalAudience = "dessin-review"
	}
	if len(cfg.InternalIssuers) == 0 {
		cfg.InternalIssuers = []string{"dessin-worker", "dessin-exampler"}
	}
	if cfg.SubmitLimit <= 0 {
		cfg.SubmitLimit = 10
	}
	if cfg.SubmitLimitWindowSecs <= 0 {
		cfg.SubmitLimitWindowSecs = 60
	}
}

// SubmitLimitWindow returns the rate-limit window as a duration.
func (c FileConfig) SubmitLimitWindow() time.Duration {
	return time.Duration(c.SubmitLimitWindowSecs) * time.Second
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
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJWKSURL is required (set in config.yaml or AUTH_JWKS_URL)")
	}
	minioConfigured := cfg.MinioEndpoint != "" || cfg.MinioBucket != ""
	if minioConfigured && (cfg.MinioEndpoint == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioEndpoint and minioBucket must both be set to enable uploads")
	}
	if minioConfigured && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minio credentials are required (set MINIO_ACCESS_KEY and MINIO_SECRET_KEY)")
	}
	return nil
}
