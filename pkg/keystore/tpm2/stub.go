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

//go:build !tpm2

package tpm2

import (
	"errors"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "tpm2"

// ErrNotCompiled is returned when the binary was built without the tpm2 tag.
var ErrNotCompiled = errors.New("tpm2: support not compiled in (build with -tags tpm2)")

// Config configures the TPM keystore.
type Config struct {
	DevicePath    string `yaml:"device_path"`
	UseSimulator  bool   `yaml:"use_simulator"`
	SimulatorType string `yaml:"simulator_type"`
	SimulatorHost string `yaml:"simulator_host"`
	SimulatorPort int    `yaml:"simulator_port"`
	SRKHandle     uint32 `yaml:"srk_handle"`

	Storage storage.Backend `yaml:"-"`
	Logger  logger.Logger   `yaml:"-"`
}

// NewOpener returns an Opener that always fails with ErrNotCompiled.
func NewOpener(*Config) keystore.Opener {
	return keystore.OpenerFunc(func() (keystore.Keystore, error) {
		return nil, ErrNotCompiled
	})
}
