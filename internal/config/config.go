// Package config loads and validates the JSON configuration file, with
// environment variable overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatcourier/internal/constants"
	"chatcourier/internal/models"
	"chatcourier/internal/security"
)

// Environment overrides.
const (
	EnvDBPath   = "CHATCOURIER_DB_PATH"
	EnvPort     = "CHATCOURIER_PORT"
	EnvLockPath = "CHATCOURIER_LOCK_PATH"
	EnvLogLevel = "CHATCOURIER_LOG_LEVEL"
)

// LoadConfig reads, overrides and validates the configuration at path.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("invalid config path: %v", err)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("failed to read config file: %v", err)}
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("failed to parse config file: %v", err)}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *models.Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvLockPath); v != "" {
		cfg.Queue.LockPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *models.Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = constants.DefaultServerPort
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		cfg.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if cfg.Server.IdleTimeoutSec == 0 {
		cfg.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if cfg.Database.PoolSize == 0 {
		cfg.Database.PoolSize = constants.DefaultPoolSize
	}
	if cfg.Database.PoolPrewarm == 0 {
		cfg.Database.PoolPrewarm = constants.DefaultPoolPrewarm
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = constants.DefaultQueueBatchSize
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if cfg.Queue.DedupWindowSec == 0 {
		cfg.Queue.DedupWindowSec = constants.DefaultDedupWindowSec
	}
	if cfg.Retry.InitialBackoffMs == 0 {
		cfg.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = constants.DefaultRetentionDays
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks the configuration for values that cannot work.
func Validate(cfg *models.Config) error {
	if cfg.Database.Path == "" {
		return models.ConfigError{Message: "database path is required"}
	}
	if err := security.ValidateFilePath(cfg.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if cfg.Queue.LockPath == "" {
		return models.ConfigError{Message: "queue lock path is required"}
	}
	if err := security.ValidateFilePath(cfg.Queue.LockPath); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid lock path: %v", err)}
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", cfg.Server.Port)}
	}
	if cfg.Database.PoolSize < 1 {
		return models.ConfigError{Message: "database pool size must be at least 1"}
	}
	if cfg.Database.PoolPrewarm > cfg.Database.PoolSize {
		return models.ConfigError{Message: "pool prewarm cannot exceed pool size"}
	}
	if cfg.Queue.BatchSize < 1 {
		return models.ConfigError{Message: "queue batch size must be at least 1"}
	}
	if cfg.Queue.MaxAttempts < 1 {
		return models.ConfigError{Message: "queue max attempts must be at least 1"}
	}
	if cfg.Responder.BaseURL == "" {
		return models.ConfigError{Message: "responder base URL is required"}
	}
	if cfg.Notifier.BaseURL == "" {
		return models.ConfigError{Message: "notifier base URL is required"}
	}
	return nil
}
