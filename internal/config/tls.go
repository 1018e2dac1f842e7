// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package config

import (
	"crypto/tls"
	"fmt"
)

// TLSConfig controls TLS for the HTTP listener. WebAuthn requires a
// secure context in browsers, so production deployments terminate TLS
// either here or at a fronting proxy.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// Validate checks that the TLS settings are usable.
func (cfg *TLSConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}
	if cfg.MinVersion != "" {
		if _, err := parseTLSVersion(cfg.MinVersion); err != nil {
			return err
		}
	}
	return nil
}

// LoadTLSConfig builds a tls.Config from the settings. Returns nil
// when TLS is disabled.
func (cfg *TLSConfig) LoadTLSConfig() (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	minVersion := uint16(tls.VersionTLS12)
	if cfg.MinVersion != "" {
		minVersion, err = parseTLSVersion(cfg.MinVersion)
		if err != nil {
			return nil, err
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}, nil
}

// parseTLSVersion converts a string to a tls version constant
func parseTLSVersion(version string) (uint16, error) {
	switch version {
	case "TLS1.2":
		return tls.VersionTLS12, nil
	case "TLS1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version: %s (must be TLS1.2 or TLS1.3)", version)
	}
}
