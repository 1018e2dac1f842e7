// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mds "github.com/go-webauthn/webauthn/metadata"
	"github.com/go-webauthn/webauthn/metadata/providers/memory"
	"github.com/spf13/cobra"

	"github.com/passkeyd/passkeyd/internal/config"
	"github.com/passkeyd/passkeyd/internal/rest"
	"github.com/passkeyd/passkeyd/pkg/ceremony"
	"github.com/passkeyd/passkeyd/pkg/challenge"
	"github.com/passkeyd/passkeyd/pkg/health"
	"github.com/passkeyd/passkeyd/pkg/logging"
	"github.com/passkeyd/passkeyd/pkg/metadata"
	"github.com/passkeyd/passkeyd/pkg/metrics"
	"github.com/passkeyd/passkeyd/pkg/ratelimit"
	"github.com/passkeyd/passkeyd/pkg/session"
	"github.com/passkeyd/passkeyd/pkg/storage"
	"github.com/passkeyd/passkeyd/pkg/storage/sqlite"
)

// serveCmd runs the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the passkeyd HTTP server",
	Long: `Run the passkeyd HTTP server with the WebAuthn ceremony endpoints,
the user and credential API, health probes, and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.DebugLogging())

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("failed to close repository", "error", err)
		}
	}()

	engine, err := ceremony.NewWebAuthnEngine(&cfg.WebAuthn)
	if err != nil {
		return fmt.Errorf("failed to create verification engine: %w", err)
	}

	tokens, err := session.NewTokenIssuer(&session.TokenIssuerConfig{
		Secret:    []byte(cfg.Session.Secret),
		Issuer:    cfg.Session.Issuer,
		ExpiresIn: cfg.Session.ExpiresIn,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	challenges := challenge.NewMemoryStoreWithTTL(cfg.Challenge.TTL)
	challenges.StartCleanupRoutine(ctx, cfg.Challenge.CleanupInterval)

	if cfg.Metrics.Enabled {
		metrics.StartResourceCollector(ctx, 15*time.Second)
		go trackPendingChallenges(ctx, challenges)
	} else {
		metrics.Disable()
	}

	checker := health.NewChecker()
	checker.RegisterCheck("repository", health.PingCheck("repository", func(ctx context.Context) error {
		_, err := repo.HasCredentialID(ctx, []byte{0})
		return err
	}))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.Burst,
		})
		defer limiter.Stop()
	}

	tlsConfig, err := cfg.Server.TLS.LoadTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	meta, err := openMetadataService(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata service: %w", err)
	}

	server, err := rest.NewServer(&rest.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		TLS:            tlsConfig,
		Registration:   ceremony.NewRegistration(engine, repo, challenges, meta),
		Authentication: ceremony.NewAuthentication(engine, repo, challenges),
		Repository:     repo,
		Tokens:         tokens,
		Health:         checker,
		Logger:         logger,
		RateLimiter:    limiter,
		Metrics: rest.MetricsConfig{
			Enabled: cfg.Metrics.Enabled,
			Path:    cfg.Metrics.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()
	checker.MarkStarted()

	logger.Info("passkeyd started",
		"addr", server.Addr(),
		"rp_id", cfg.WebAuthn.RPID,
		"storage", cfg.Storage.Backend)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	checker.MarkStopping()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	return server.Stop(shutdownCtx)
}

// openMetadataService builds the configured AAGUID description backend.
// The mds backend downloads the FIDO Metadata Service blob once at
// startup and serves lookups from memory.
func openMetadataService(cfg *config.Config, logger *logging.Logger) (metadata.Service, error) {
	switch cfg.Metadata.Backend {
	case "mds":
		blob, err := mds.Fetch()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch FIDO metadata blob: %w", err)
		}
		entries := blob.ToMap()
		provider, err := memory.New(memory.WithMetadata(entries))
		if err != nil {
			return nil, err
		}
		logger.Info("FIDO metadata loaded", "entries", len(entries))
		return metadata.NewProviderService(provider), nil
	default:
		return metadata.Noop{}, nil
	}
}

// openRepository creates the configured credential repository backend.
func openRepository(cfg *config.Config) (storage.Repository, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Storage.Path)
	default:
		return storage.NewMemoryRepository(), nil
	}
}

// trackPendingChallenges keeps the pending-challenge gauge current.
func trackPendingChallenges(ctx context.Context, challenges *challenge.MemoryStore) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChallengesPending(float64(challenges.Count()))
		}
	}
}
