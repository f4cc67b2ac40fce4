package config

import "time"

// Config is the root configuration for an rtlink client.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig identifies the backend.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"` // HTTP(S) base address, e.g. https://api.example.com/api
}

// AuthConfig selects where the bearer token comes from. Exactly one source is used.
type AuthConfig struct {
	Token     string `yaml:"token"`      // Static token (usually ${VAR} expanded)
	TokenEnv  string `yaml:"token_env"`  // Environment variable read on every connect
	TokenFile string `yaml:"token_file"` // File read on every connect
}

// ReconnectConfig holds the automatic reconnection policy.
type ReconnectConfig struct {
	// MaxAttempts is a pointer because 0 is a valid value (never reconnect).
	MaxAttempts *int          `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Attempts returns the configured attempt ceiling, or the default when unset.
func (r ReconnectConfig) Attempts() int {
	if r.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *r.MaxAttempts
}

// TransportConfig holds WebSocket transport settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	BufferSize       int           `yaml:"buffer_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ArchiveConfig holds settings for the PostgreSQL message archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
