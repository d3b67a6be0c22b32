package models

// Config holds the application configuration
type Config struct {
	Broker   BrokerConfig   `json:"broker"`
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Tracing  TracingConfig  `json:"tracing"`
	Retry    RetryConfig    `json:"retry"`
	Auth     AuthConfig     `json:"auth"`
	LogLevel string         `json:"log_level"`
}

// BrokerConfig holds AMQP broker related configuration
type BrokerConfig struct {
	URL                  string `json:"url"`
	ReconnectDelaySec    int    `json:"reconnectDelaySec"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts"`
	Prefetch             int    `json:"prefetch"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// TracingConfig holds OpenTelemetry related configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// AuthConfig holds the static token table used by the development verifier.
// Production deployments inject their own TokenVerifier and leave this empty.
type AuthConfig struct {
	StaticTokens map[string]StaticIdentity `json:"staticTokens"`
}

// StaticIdentity is the identity a static token resolves to.
type StaticIdentity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
