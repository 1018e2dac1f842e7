// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package ceremony

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config configures the WebAuthn verification engine.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	RPDisplayName string `yaml:"display_name" json:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn operations.
	RPOrigins []string `yaml:"origins" json:"origins"`

	// Timeout is the client-side ceremony timeout.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged"
	// Default: "required"
	UserVerification string `yaml:"user_verification" json:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "direct"
	AttestationPreference string `yaml:"attestation" json:"attestation"`

	// ResidentKeyRequirement specifies whether to require discoverable
	// credentials. Authentication runs the discoverable flow, so the
	// default is "required".
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key"`

	// Debug enables the verification library's debug output.
	Debug bool `yaml:"debug" json:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one RPOrigin is required")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	switch c.ResidentKeyRequirement {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "required"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "direct"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "required"
	}
}

// toWebAuthnConfig converts the Config to the go-webauthn configuration.
func (c *Config) toWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          c.RPID,
		RPDisplayName: c.RPDisplayName,
		RPOrigins:     c.RPOrigins,
		Debug:         c.Debug,
	}

	if c.Timeout > 0 {
		cfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.Timeout,
				TimeoutUVD: c.Timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.Timeout,
				TimeoutUVD: c.Timeout,
			},
		}
	}

	switch c.AttestationPreference {
	case "none":
		cfg.AttestationPreference = protocol.PreferNoAttestation
	case "indirect":
		cfg.AttestationPreference = protocol.PreferIndirectAttestation
	case "direct":
		cfg.AttestationPreference = protocol.PreferDirectAttestation
	case "enterprise":
		cfg.AttestationPreference = protocol.PreferEnterpriseAttestation
	}

	cfg.AuthenticatorSelection = c.authenticatorSelection()

	return cfg
}

// authenticatorSelection builds the authenticator selection criteria
// the configured policy calls for.
func (c *Config) authenticatorSelection() protocol.AuthenticatorSelection {
	selection := protocol.AuthenticatorSelection{}

	switch c.UserVerification {
	case "required":
		selection.UserVerification = protocol.VerificationRequired
	case "preferred":
		selection.UserVerification = protocol.VerificationPreferred
	case "discouraged":
		selection.UserVerification = protocol.VerificationDiscouraged
	}

	switch c.ResidentKeyRequirement {
	case "required":
		selection.ResidentKey = protocol.ResidentKeyRequirementRequired
		requireResidentKey := true
		selection.RequireResidentKey = &requireResidentKey
	case "preferred":
		selection.ResidentKey = protocol.ResidentKeyRequirementPreferred
	case "discouraged":
		selection.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	}

	return selection
}
