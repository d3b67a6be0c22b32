package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatwire/internal/constants"
	"chatwire/internal/errors"
	"chatwire/internal/models"
)

var (
	ErrMissingBrokerURL = models.ConfigError{Message: "missing broker URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads the JSON config file, applies defaults and environment
// overrides, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Broker.URL == "" {
		return ErrMissingBrokerURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Broker.ReconnectDelaySec <= 0 {
		c.Broker.ReconnectDelaySec = constants.DefaultReconnectDelaySec
	}
	if c.Broker.MaxReconnectAttempts <= 0 {
		c.Broker.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempt
	}
	if c.Broker.Prefetch < 0 {
		return errors.NewConfigError("broker.prefetch", "broker prefetch must not be negative")
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultBackoffMaxSec * 1000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatwire"
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = 1
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHATWIRE_AMQP_URL"); url != "" {
		c.Broker.URL = url
	}
	if path := os.Getenv("CHATWIRE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("CHATWIRE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if endpoint := os.Getenv("CHATWIRE_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}
}

// validatePath rejects config paths with directory traversal components.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	return nil
}
