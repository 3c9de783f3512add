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

// Package rand provides the random source used for IVs and key material,
// with hardware-backed sources from a TPM 2.0 or a PKCS#11 token and a
// crypto/rand software source.
//
// A Resolver is an io.Reader, so it can be handed to anything that accepts
// crypto/rand.Reader:
//
//	rng, _ := rand.NewResolver(&rand.Config{Mode: rand.ModeAuto})
//	defer rng.Close()
//	iv, _ := rng.Rand(16)
//
// Hardware sources are compiled in with the tpm2 and pkcs11 build tags.
package rand

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Mode specifies which RNG source to use.
type Mode string

const (
	// ModeAuto picks the best available source: PKCS#11, then TPM2, then software.
	ModeAuto Mode = "auto"

	// ModeSoftware uses crypto/rand.
	ModeSoftware Mode = "software"

	// ModeTPM2 uses the TPM2_GetRandom command.
	ModeTPM2 Mode = "tpm2"

	// ModePKCS11 uses C_GenerateRandom.
	ModePKCS11 Mode = "pkcs11"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSoftware, ModeTPM2, ModePKCS11:
		return m, nil
	default:
		return "", fmt.Errorf("rand: unknown mode %q", s)
	}
}

// Config contains RNG configuration.
type Config struct {
	// Mode specifies the primary source. Defaults to ModeAuto.
	Mode Mode `yaml:"mode"`

	// FallbackMode is used when the primary source fails at read time.
	FallbackMode Mode `yaml:"fallback_mode"`

	TPM2   *TPM2Config   `yaml:"tpm2"`
	PKCS11 *PKCS11Config `yaml:"pkcs11"`
}

// TPM2Config configures the TPM source.
type TPM2Config struct {
	// Device is the TPM character device. Ignored with UseSimulator.
	Device string `yaml:"device"`

	// MaxRequestSize caps the bytes requested per TPM2_GetRandom call.
	MaxRequestSize int `yaml:"max_request_size"`

	UseSimulator  bool   `yaml:"use_simulator"`
	SimulatorType string `yaml:"simulator_type"` // "embedded" or "swtpm"
	SimulatorHost string `yaml:"simulator_host"`
	SimulatorPort int    `yaml:"simulator_port"`
}

// PKCS11Config configures the PKCS#11 source.
type PKCS11Config struct {
	Module      string `yaml:"module"`
	SlotID      uint   `yaml:"slot_id"`
	PINRequired bool   `yaml:"pin_required"`
	PIN         string `yaml:"pin"`
}

// Resolver generates random bytes. Implementations are safe for
// concurrent use.
type Resolver interface {
	// Rand returns n random bytes.
	Rand(n int) ([]byte, error)

	// Read fills p, making the resolver a drop-in for crypto/rand.Reader.
	Read(p []byte) (n int, err error)

	// Mode reports the source actually in use.
	Mode() Mode

	// Available reports whether the source can currently produce bytes.
	Available() bool

	// Close releases the source.
	Close() error
}

// NewResolver creates a resolver for cfg. A nil cfg selects ModeAuto.
func NewResolver(cfg *Config) (Resolver, error) {
	if cfg == nil {
		cfg = &Config{Mode: ModeAuto}
	}
	switch cfg.Mode {
	case "", ModeAuto:
		return newAutoResolver(cfg)
	case ModeSoftware:
		return NewSoftware(), nil
	case ModeTPM2:
		return newTPM2Resolver(cfg.TPM2)
	case ModePKCS11:
		return newPKCS11Resolver(cfg.PKCS11)
	default:
		return nil, fmt.Errorf("rand: unknown mode %q", cfg.Mode)
	}
}

// SoftwareResolver reads from crypto/rand.
type SoftwareResolver struct{}

// NewSoftware returns the crypto/rand resolver.
func NewSoftware() *SoftwareResolver {
	return &SoftwareResolver{}
}

func (s *SoftwareResolver) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *SoftwareResolver) Read(p []byte) (int, error) {
	return rand.Read(p)
}

func (s *SoftwareResolver) Mode() Mode      { return ModeSoftware }
func (s *SoftwareResolver) Available() bool { return true }
func (s *SoftwareResolver) Close() error    { return nil }

// readInto adapts a Rand function to io.Reader semantics.
func readInto(r Resolver, p []byte) (int, error) {
	data, err := r.Rand(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

var _ Resolver = (*SoftwareResolver)(nil)
