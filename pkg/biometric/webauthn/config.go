// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package webauthn

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-biokey/pkg/ratelimit"
)

// Config configures the relying party that verifies biometric assertions.
type Config struct {
	// RPID is the Relying Party identifier, typically a domain name.
	RPID string `yaml:"rp_id" json:"rp_id" mapstructure:"rp_id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	RPDisplayName string `yaml:"rp_display_name" json:"rp_display_name" mapstructure:"rp_display_name"`

	// RPOrigin is the origin assertions must be bound to.
	RPOrigin string `yaml:"rp_origin" json:"rp_origin" mapstructure:"rp_origin"`

	// UserName identifies the local user the credential is enrolled for.
	UserName string `yaml:"user_name" json:"user_name" mapstructure:"user_name"`

	// UserDisplayName is shown by authenticators that display account names.
	UserDisplayName string `yaml:"user_display_name" json:"user_display_name" mapstructure:"user_display_name"`

	// Timeout bounds one challenge. Default: 60s.
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// MaxAttempts is the number of consecutive unrecognized biometrics
	// allowed before the sensor locks out. Zero disables lockout.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`

	// LockoutDuration is the time it takes to regain one attempt after a
	// lockout. Default: 30s.
	LockoutDuration time.Duration `yaml:"lockout" json:"lockout" mapstructure:"lockout"`
}

// DefaultConfig returns a local relying party for the configured user.
func DefaultConfig() *Config {
	c := &Config{MaxAttempts: ratelimit.DefaultMaxAttempts}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if c.RPDisplayName == "" {
		c.RPDisplayName = "go-biokey"
	}
	if c.RPOrigin == "" {
		c.RPOrigin = "https://" + c.RPID
	}
	if c.UserName == "" {
		c.UserName = "biokey"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = ratelimit.DefaultCooldown
	}
}

// Validate returns an error for an unusable configuration.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("webauthn: rp_id is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("webauthn: rp_display_name is required")
	}
	if c.RPOrigin == "" {
		return fmt.Errorf("webauthn: rp_origin is required")
	}
	if c.UserName == "" {
		return fmt.Errorf("webauthn: user_name is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("webauthn: invalid timeout %s", c.Timeout)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("webauthn: invalid max_attempts %d", c.MaxAttempts)
	}
	if c.LockoutDuration < 0 {
		return fmt.Errorf("webauthn: invalid lockout %s", c.LockoutDuration)
	}
	return nil
}

// toWebAuthnConfig converts c to the go-webauthn configuration. User
// verification is always required; a touch without a biometric match must
// not unlock a key.
func (c *Config) toWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:                  c.RPID,
		RPDisplayName:         c.RPDisplayName,
		RPOrigins:             []string{c.RPOrigin},
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementDiscouraged,
			UserVerification:        protocol.VerificationRequired,
		},
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
	return cfg
}
