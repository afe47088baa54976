package config

import (
	"fmt"
	"net/url"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateServer(&cfg.Server); err != nil {
		return err
	}
	if err := v.ValidateEngine(&cfg.Engine); err != nil {
		return err
	}
	return v.ValidateSessions(&cfg.Sessions)
}

// ValidateServer validates the HTTP server configuration
func (v *Validator) ValidateServer(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Port)
	}
	return nil
}

// ValidateEngine validates the downstream engine configuration
func (v *Validator) ValidateEngine(cfg *EngineConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("engine URL cannot be empty")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid engine URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("engine URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("engine URL must include a host")
	}

	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("engine timeout cannot be negative: %d", cfg.TimeoutSeconds)
	}

	return nil
}

// ValidateSessions validates the stateful-session configuration
func (v *Validator) ValidateSessions(cfg *SessionsConfig) error {
	if cfg.Expiration <= 0 {
		return fmt.Errorf("sessions expiration must be positive, got %d", cfg.Expiration)
	}
	if cfg.SweepInterval < 0 {
		return fmt.Errorf("sessions sweep interval cannot be negative: %d", cfg.SweepInterval)
	}
	return nil
}
