package config

// Config represents the stateshim configuration
type Config struct {
	// Server holds the HTTP frontend configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Engine holds the downstream model-server configuration
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Sessions holds the stateful-session subsystem configuration
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging holds logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing holds tracing configuration
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// EngineConfig holds the downstream inference engine configuration
type EngineConfig struct {
	// URL is the base URL of the stateless model server behind the shim
	URL string `json:"url" mapstructure:"url"`
	// TimeoutSeconds bounds a single proxied request
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// SessionsConfig holds stateful-session configuration
type SessionsConfig struct {
	// Enabled turns the whole subsystem on. When false, any request that
	// carries session fields or headers is rejected.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Path overrides the session storage root. Empty selects the default
	// shared-memory mount with a temp-directory fallback.
	Path string `json:"path" mapstructure:"path"`

	// Expiration is the session TTL in seconds
	Expiration int `json:"expiration" mapstructure:"expiration"`

	// SessionIDPath is an optional dot-path in the forwarded request body
	// where the session id header value is injected. Empty disables injection.
	SessionIDPath string `json:"session_id_path" mapstructure:"session_id_path"`

	// SweepInterval is the background sweep period in seconds. Zero keeps
	// expiration purely lazy.
	SweepInterval int `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	// SampleRatio is the fraction of requests that get traced, 0 to 1.
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Engine: EngineConfig{
			URL:            "http://127.0.0.1:8000",
			TimeoutSeconds: 60,
		},
		Sessions: SessionsConfig{
			Enabled:    false,
			Expiration: 1200,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}
