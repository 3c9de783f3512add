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

//go:build tpm2

package rand

import (
	"fmt"
	"sync"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/tcp"
	"github.com/google/go-tpm/tpmutil"
)

// tpm2Resolver draws bytes from TPM2_GetRandom.
type tpm2Resolver struct {
	mu     sync.RWMutex
	rwc    transport.TPMCloser
	config TPM2Config
}

var _ Resolver = (*tpm2Resolver)(nil)

func newTPM2Resolver(config *TPM2Config) (Resolver, error) {
	cfg := TPM2Config{Device: "/dev/tpmrm0"}
	if config != nil {
		cfg = *config
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = 32
	}

	rwc, err := openTPM(&cfg)
	if err != nil {
		return nil, err
	}
	return &tpm2Resolver{rwc: rwc, config: cfg}, nil
}

func openTPM(cfg *TPM2Config) (transport.TPMCloser, error) {
	if !cfg.UseSimulator {
		if cfg.Device == "" {
			cfg.Device = "/dev/tpmrm0"
		}
		dev, err := tpmutil.OpenTPM(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("rand: failed to open TPM2 device %s: %w", cfg.Device, err)
		}
		return transport.FromReadWriteCloser(dev), nil
	}

	switch cfg.SimulatorType {
	case "embedded":
		sim, err := simulator.Get()
		if err != nil {
			return nil, fmt.Errorf("rand: failed to start embedded TPM simulator: %w", err)
		}
		return transport.FromReadWriteCloser(sim), nil
	case "", "swtpm":
		host := cfg.SimulatorHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.SimulatorPort
		if port <= 0 {
			port = 2321
		}
		cmdAddr := fmt.Sprintf("%s:%d", host, port)
		platAddr := fmt.Sprintf("%s:%d", host, port+1)
		rwc, err := tcp.Open(tcp.Config{CommandAddress: cmdAddr, PlatformAddress: platAddr})
		if err != nil {
			return nil, fmt.Errorf("rand: failed to connect to TPM simulator at %s: %w", cmdAddr, err)
		}
		return rwc, nil
	default:
		return nil, fmt.Errorf("rand: invalid simulator type %q", cfg.SimulatorType)
	}
}

func tpm2Available() bool {
	return true
}

func (t *tpm2Resolver) Rand(n int) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rwc == nil {
		return nil, fmt.Errorf("rand: TPM2 resolver closed")
	}

	result := make([]byte, 0, n)
	for len(result) < n {
		chunk := n - len(result)
		if chunk > t.config.MaxRequestSize {
			chunk = t.config.MaxRequestSize
		}
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(chunk)}.Execute(t.rwc)
		if err != nil {
			return nil, fmt.Errorf("rand: TPM2 GetRandom failed: %w", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return nil, fmt.Errorf("rand: TPM2 GetRandom returned no data")
		}
		result = append(result, rsp.RandomBytes.Buffer...)
	}
	return result[:n], nil
}

func (t *tpm2Resolver) Read(p []byte) (int, error) {
	return readInto(t, p)
}

func (t *tpm2Resolver) Mode() Mode {
	return ModeTPM2
}

func (t *tpm2Resolver) Available() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rwc != nil
}

func (t *tpm2Resolver) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rwc == nil {
		return nil
	}
	err := t.rwc.Close()
	t.rwc = nil
	return err
}
