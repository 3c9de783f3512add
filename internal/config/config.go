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

// Package config loads the biokey YAML configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/pkcs11"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/tpm2"
	"github.com/jeremyhahn/go-biokey/pkg/session"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Config is the complete biokey configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	TPM2      tpm2.Config     `yaml:"tpm2"`
	PKCS11    pkcs11.Config   `yaml:"pkcs11"`
	Random    RandomConfig    `yaml:"random"`
	Biometric BiometricConfig `yaml:"biometric"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls metrics collection and exposition
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig controls the optional health and metrics listener
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// StorageConfig selects where key records and payloads are kept
type StorageConfig struct {
	Backend string `yaml:"backend"` // file, memory
	Path    string `yaml:"path"`
}

// KeystoreConfig selects the keystore backend and the key it manages
type KeystoreConfig struct {
	Backend                    string `yaml:"backend"` // software, tpm2, pkcs11
	KeyName                    string `yaml:"key_name"`
	KeySize                    int    `yaml:"key_size"`
	Passphrase                 string `yaml:"passphrase"`
	UserAuthenticationRequired bool   `yaml:"user_authentication_required"`
}

// RandomConfig selects the IV source
type RandomConfig struct {
	Mode         string `yaml:"mode"`
	FallbackMode string `yaml:"fallback_mode"`
}

// BiometricConfig configures the biometric platform
type BiometricConfig struct {
	// Authenticator is "virtual" or "none".
	Authenticator string `yaml:"authenticator"`

	// AutoEnroll enrolls the virtual authenticator at startup. Its
	// credential does not outlive the process.
	AutoEnroll bool `yaml:"auto_enroll"`

	RPID            string        `yaml:"rp_id"`
	RPDisplayName   string        `yaml:"rp_display_name"`
	RPOrigin        string        `yaml:"rp_origin"`
	User            string        `yaml:"user"`
	UserDisplayName string        `yaml:"user_display_name"`
	Timeout         time.Duration `yaml:"timeout"`
	// MaxAttempts unrecognized biometrics lock the sensor for Lockout.
	// Zero disables lockout.
	MaxAttempts int                  `yaml:"max_attempts"`
	Lockout     time.Duration        `yaml:"lockout"`
	Prompt      biometric.PromptInfo `yaml:"prompt"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Storage: StorageConfig{Backend: "file", Path: defaultDataDir()},
		Keystore: KeystoreConfig{
			Backend:                    "software",
			KeyName:                    session.DefaultKeyName,
			KeySize:                    types.DefaultKeySize,
			UserAuthenticationRequired: true,
		},
		TPM2:   tpm2.Config{DevicePath: "/dev/tpmrm0"},
		Random: RandomConfig{Mode: string(rand.ModeAuto), FallbackMode: string(rand.ModeSoftware)},
		Biometric: BiometricConfig{
			Authenticator: "virtual",
			AutoEnroll:    true,
			RPID:          "localhost",
			RPDisplayName: "go-biokey",
			User:          "biokey",
			Timeout:       60 * time.Second,
			MaxAttempts:   5,
			Lockout:       30 * time.Second,
			Prompt:        biometric.DefaultPromptInfo(),
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "biokey")
	}
	return ".biokey"
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Logging
	if level := os.Getenv("BIOKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("BIOKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Storage
	if backend := os.Getenv("BIOKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("BIOKEY_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	// Keystore
	if backend := os.Getenv("BIOKEY_KEYSTORE_BACKEND"); backend != "" {
		cfg.Keystore.Backend = backend
	}
	if name := os.Getenv("BIOKEY_KEY_NAME"); name != "" {
		cfg.Keystore.KeyName = name
	}
	if pass := os.Getenv("BIOKEY_PASSPHRASE"); pass != "" {
		cfg.Keystore.Passphrase = pass
	}
	if size := os.Getenv("BIOKEY_KEY_SIZE"); size != "" {
		bits, err := strconv.Atoi(size)
		if err != nil || !types.ValidAESKeySize(bits) {
			log.Printf("Warning: invalid BIOKEY_KEY_SIZE value %q, using %d", size, cfg.Keystore.KeySize)
		} else {
			cfg.Keystore.KeySize = bits
		}
	}

	// Hardware
	if device := os.Getenv("TPM_DEVICE_PATH"); device != "" {
		cfg.TPM2.DevicePath = device
	}
	if lib := os.Getenv("PKCS11_LIBRARY"); lib != "" {
		cfg.PKCS11.Library = lib
	}
	if pin := os.Getenv("PKCS11_PIN"); pin != "" {
		cfg.PKCS11.PIN = pin
	}
	if mode := os.Getenv("BIOKEY_RANDOM_MODE"); mode != "" {
		cfg.Random.Mode = mode
	}

	// Biometric and server
	if auth := os.Getenv("BIOKEY_AUTHENTICATOR"); auth != "" {
		cfg.Biometric.Authenticator = auth
	}
	if timeout := os.Getenv("BIOKEY_BIOMETRIC_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			log.Printf("Warning: invalid BIOKEY_BIOMETRIC_TIMEOUT value %q, using %s", timeout, cfg.Biometric.Timeout)
		} else {
			cfg.Biometric.Timeout = d
		}
	}
	if attempts := os.Getenv("BIOKEY_BIOMETRIC_MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n < 0 {
			log.Printf("Warning: invalid BIOKEY_BIOMETRIC_MAX_ATTEMPTS value %q, using %d", attempts, cfg.Biometric.MaxAttempts)
		} else {
			cfg.Biometric.MaxAttempts = n
		}
	}
	if lockout := os.Getenv("BIOKEY_BIOMETRIC_LOCKOUT"); lockout != "" {
		d, err := time.ParseDuration(lockout)
		if err != nil || d <= 0 {
			log.Printf("Warning: invalid BIOKEY_BIOMETRIC_LOCKOUT value %q, using %s", lockout, cfg.Biometric.Lockout)
		} else {
			cfg.Biometric.Lockout = d
		}
	}
	if listen := os.Getenv("BIOKEY_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or memory)", c.Storage.Backend)
	}

	switch c.Keystore.Backend {
	case "software":
	case "tpm2":
		if !c.TPM2.UseSimulator && c.TPM2.DevicePath == "" {
			return fmt.Errorf("tpm2 device_path is required")
		}
	case "pkcs11":
		if err := c.PKCS11.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid keystore backend: %s (must be software, tpm2 or pkcs11)", c.Keystore.Backend)
	}
	if c.Keystore.KeyName == "" {
		return fmt.Errorf("keystore key_name must be specified")
	}
	if !types.ValidAESKeySize(c.Keystore.KeySize) {
		return fmt.Errorf("invalid key size: %d (must be 128, 192 or 256)", c.Keystore.KeySize)
	}

	if _, err := rand.ParseMode(c.Random.Mode); err != nil {
		return err
	}
	if c.Random.FallbackMode != "" {
		if _, err := rand.ParseMode(c.Random.FallbackMode); err != nil {
			return err
		}
	}

	switch c.Biometric.Authenticator {
	case "virtual", "none":
	default:
		return fmt.Errorf("invalid authenticator: %s (must be virtual or none)", c.Biometric.Authenticator)
	}
	if c.Biometric.Timeout <= 0 {
		return fmt.Errorf("biometric timeout must be positive")
	}
	if c.Biometric.MaxAttempts < 0 {
		return fmt.Errorf("biometric max_attempts cannot be negative")
	}
	if c.Biometric.Lockout < 0 {
		return fmt.Errorf("biometric lockout cannot be negative")
	}
	return nil
}
