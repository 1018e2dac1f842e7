// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package config loads the passkeyd server configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/passkeyd/passkeyd/pkg/ceremony"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	WebAuthn  ceremony.Config `yaml:"webauthn"`
	Session   SessionConfig   `yaml:"session"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Metadata  MetadataConfig  `yaml:"metadata"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	TLS  TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SessionConfig controls the tokens issued after a successful
// authentication ceremony.
type SessionConfig struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// ChallengeConfig controls pending ceremony challenges.
type ChallengeConfig struct {
	// TTL is how long a begin-phase challenge stays redeemable.
	// Defaults to 5 minutes.
	TTL time.Duration `yaml:"ttl"`

	// CleanupInterval controls how often expired challenges are swept.
	// Defaults to 1 minute.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig selects the credential repository backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `yaml:"path"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetadataConfig selects how authenticator AAGUIDs are resolved to
// descriptions during registration.
type MetadataConfig struct {
	// Backend is "none" or "mds". The mds backend downloads the FIDO
	// Metadata Service blob at startup.
	Backend string `yaml:"backend"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration suitable for local development.
// The session secret is still required from the environment.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
		WebAuthn: ceremony.Config{
			RPID:          "localhost",
			RPDisplayName: "passkeyd",
			RPOrigins:     []string{"http://localhost:8080"},
		},
		Storage: StorageConfig{Backend: "memory"},
	}
	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEYD_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PASSKEYD_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Printf("Warning: invalid PASSKEYD_PORT value %q, using default %d: %v",
				port, cfg.Server.Port, err)
		} else if p < 1 || p > 65535 {
			log.Printf("Warning: invalid PASSKEYD_PORT value %q (out of range 1-65535), using default %d",
				port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}

	if level := os.Getenv("PASSKEYD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if secret := os.Getenv("PASSKEYD_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	if rpid := os.Getenv("PASSKEYD_RP_ID"); rpid != "" {
		cfg.WebAuthn.RPID = rpid
	}
	if origins := os.Getenv("PASSKEYD_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.WebAuthn.RPOrigins = cfg.WebAuthn.RPOrigins[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.WebAuthn.RPOrigins = append(cfg.WebAuthn.RPOrigins, p)
			}
		}
	}

	if backend := os.Getenv("PASSKEYD_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("PASSKEYD_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "passkeyd"
	}
	if c.Session.ExpiresIn == 0 {
		c.Session.ExpiresIn = time.Hour
	}
	if c.Challenge.TTL == 0 {
		c.Challenge.TTL = 5 * time.Minute
	}
	if c.Challenge.CleanupInterval == 0 {
		c.Challenge.CleanupInterval = time.Minute
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metadata.Backend == "" {
		c.Metadata.Backend = "none"
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 60
	}
	c.WebAuthn.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if err := c.Server.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret must be specified (set PASSKEYD_SESSION_SECRET)")
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	switch c.Metadata.Backend {
	case "none", "mds":
	default:
		return fmt.Errorf("invalid metadata backend: %s (must be none or mds)", c.Metadata.Backend)
	}

	return nil
}

// DebugLogging reports whether debug level logging is requested.
func (c *Config) DebugLogging() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
