package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for configuration environment variables. It follows
// the hosting-container convention where per-container options arrive as
// OPTION_* variables.
const envPrefix = "OPTION"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment variables.
// Environment variables take precedence over file values.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The enabled flag keeps its historical variable name.
	if err := v.BindEnv("sessions.enabled", "OPTION_ENABLE_STATEFUL_SESSIONS"); err != nil {
		return nil, fmt.Errorf("failed to bind environment variable: %w", err)
	}

	// Viper only applies environment overrides to keys it knows about, so
	// register every key with its default first.
	defaults := DefaultConfig()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("engine.url", defaults.Engine.URL)
	v.SetDefault("engine.timeout_seconds", defaults.Engine.TimeoutSeconds)
	v.SetDefault("sessions.enabled", defaults.Sessions.Enabled)
	v.SetDefault("sessions.path", defaults.Sessions.Path)
	v.SetDefault("sessions.expiration", defaults.Sessions.Expiration)
	v.SetDefault("sessions.session_id_path", defaults.Sessions.SessionIDPath)
	v.SetDefault("sessions.sweep_interval", defaults.Sessions.SweepInterval)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.console", defaults.Logging.Console)
	v.SetDefault("logging.pretty", defaults.Logging.Pretty)
	v.SetDefault("tracing.sample_ratio", defaults.Tracing.SampleRatio)

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", l.configPath)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
