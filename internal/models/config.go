package models

// Config holds the application configuration
type Config struct {
	Server        ServerConfig    `json:"server"`
	Database      DatabaseConfig  `json:"database"`
	Queue         QueueConfig     `json:"queue"`
	RateLimit     RateLimitConfig `json:"rateLimit"`
	Reminders     ReminderConfig  `json:"reminders"`
	Tracing       TracingConfig   `json:"tracing"`
	Responder     EndpointConfig  `json:"responder"`
	Notifier      EndpointConfig  `json:"notifier"`
	Retry         RetryConfig     `json:"retry"`
	LogLevel      string          `json:"log_level"`
	RetentionDays int             `json:"retentionDays"`
}

// ServerConfig holds the HTTP intake/admin server configuration
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds database and connection pool configuration
type DatabaseConfig struct {
	Path        string `json:"path"`
	PoolSize    int    `json:"poolSize"`
	PoolPrewarm int    `json:"poolPrewarm"`
}

// QueueConfig holds delivery queue and processor configuration
type QueueConfig struct {
	LockPath       string `json:"lock_path"`
	BatchSize      int    `json:"batchSize"`
	MaxAttempts    int    `json:"maxAttempts"`
	DedupWindowSec int    `json:"dedupWindowSec"`
}

// RateLimitConfig holds admission thresholds. Zero values take the defaults.
type RateLimitConfig struct {
	WindowSec        int `json:"windowSec"`
	MaxRequests      int `json:"maxRequests"`
	BurstWindowSec   int `json:"burstWindowSec"`
	BurstLimit       int `json:"burstLimit"`
	BlockDurationSec int `json:"blockDurationSec"`
}

// ReminderConfig holds reminder scheduler wait intervals
type ReminderConfig struct {
	IdleWaitSec int `json:"idleWaitSec"`
	BusyWaitSec int `json:"busyWaitSec"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// EndpointConfig points at one external HTTP contract
type EndpointConfig struct {
	BaseURL    string `json:"baseUrl"`
	AuthToken  string `json:"authToken,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`
}

// RetryConfig holds startup retry configuration (database open, etc.)
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
