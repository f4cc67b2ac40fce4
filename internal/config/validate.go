package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Reconnect.Attempts() < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0, got %d", c.Reconnect.Attempts())
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}

	if c.Transport.HandshakeTimeout <= 0 {
		return errors.New("transport.handshake_timeout must be > 0")
	}
	if c.Transport.WriteTimeout <= 0 {
		return errors.New("transport.write_timeout must be > 0")
	}
	if c.Transport.PingInterval <= 0 {
		return errors.New("transport.ping_interval must be > 0")
	}
	if c.Transport.PongTimeout < c.Transport.PingInterval {
		return fmt.Errorf("transport.pong_timeout (%s) cannot be shorter than ping_interval (%s)",
			c.Transport.PongTimeout, c.Transport.PingInterval)
	}
	if c.Transport.BufferSize < 1 {
		return errors.New("transport.buffer_size must be >= 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Archive.Enabled {
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
	}

	return nil
}

func (a *AuthConfig) validate() error {
	sources := 0
	for _, s := range []string{a.Token, a.TokenEnv, a.TokenFile} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		return errors.New("auth: one of token, token_env or token_file is required")
	case sources > 1:
		return errors.New("auth: token, token_env and token_file are mutually exclusive")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
