// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCert writes a self-signed certificate and key into dir and
// returns their paths.
func writeTestCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return certFile, keyFile
}

func TestLoadTLSConfig_Disabled(t *testing.T) {
	cfg := &TLSConfig{Enabled: false}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if tlsConfig != nil {
		t.Errorf("LoadTLSConfig() = %v, want nil for disabled TLS", tlsConfig)
	}
}

func TestLoadTLSConfig_ValidConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t, t.TempDir())

	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if tlsConfig == nil {
		t.Fatal("LoadTLSConfig() returned nil config")
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("min version = %x, want TLS 1.2", tlsConfig.MinVersion)
	}
}

func TestLoadTLSConfig_MinVersion(t *testing.T) {
	certFile, keyFile := writeTestCert(t, t.TempDir())

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		MinVersion: "TLS1.3",
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if tlsConfig.MinVersion != tls.VersionTLS13 {
		t.Errorf("min version = %x, want TLS 1.3", tlsConfig.MinVersion)
	}
}

func TestLoadTLSConfig_MissingFiles(t *testing.T) {
	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}

	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Error("LoadTLSConfig() error = nil, want error for missing files")
	}
}

func TestTLSConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TLSConfig
		wantErr bool
	}{
		{"disabled", TLSConfig{}, false},
		{"enabled without files", TLSConfig{Enabled: true}, true},
		{"enabled with files", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"}, false},
		{"bad min version", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "SSL3"}, true},
		{"good min version", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "TLS1.2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() error = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}
