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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/descope/virtualwebauthn"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
)

// ErrNoCredential is returned by an authenticator asked to sign before it
// holds a credential.
var ErrNoCredential = errors.New("webauthn: authenticator has no credential")

// Authenticator is the device side of a ceremony. It receives the options
// JSON produced by the relying party and returns the client response JSON.
type Authenticator interface {
	// Present reports whether the device exists at all.
	Present() bool

	// Ready reports whether the device can be used right now.
	Ready() bool

	// Register creates a credential for the attestation options.
	Register(ctx context.Context, options string) (string, error)

	// Assert asks the user to verify and signs the assertion options. A
	// *biometric.Error return is surfaced to the caller unchanged.
	Assert(ctx context.Context, options string, prompt biometric.PromptInfo) (string, error)
}

// Decision is the user's response to a prompt on a VirtualAuthenticator.
type Decision int

const (
	// Accept verifies with the enrolled credential.
	Accept Decision = iota
	// Reject presents a biometric that does not match.
	Reject
	// Cancel presses the prompt's negative button.
	Cancel
	// Lockout reports too many failed attempts.
	Lockout
)

// ConsentFunc decides how the simulated user answers a prompt. It may block
// until ctx is done.
type ConsentFunc func(ctx context.Context, prompt biometric.PromptInfo) (Decision, error)

// AlwaysAccept is a ConsentFunc that verifies every prompt.
func AlwaysAccept(context.Context, biometric.PromptInfo) (Decision, error) {
	return Accept, nil
}

// VirtualOption configures a VirtualAuthenticator.
type VirtualOption func(*VirtualAuthenticator)

// WithConsent sets the consent callback. Default: AlwaysAccept.
func WithConsent(fn ConsentFunc) VirtualOption {
	return func(v *VirtualAuthenticator) {
		v.consent = fn
	}
}

// WithAbsent simulates a device without biometric hardware.
func WithAbsent() VirtualOption {
	return func(v *VirtualAuthenticator) {
		v.absent = true
	}
}

// VirtualAuthenticator is a software platform authenticator. Its credential
// lives only as long as the process.
type VirtualAuthenticator struct {
	mu          sync.Mutex
	rp          virtualwebauthn.RelyingParty
	auth        virtualwebauthn.Authenticator
	credential  *virtualwebauthn.Credential
	stranger    virtualwebauthn.Credential
	consent     ConsentFunc
	absent      bool
	unavailable bool
}

// NewVirtualAuthenticator returns an authenticator bound to the relying
// party described by cfg.
func NewVirtualAuthenticator(cfg *Config, opts ...VirtualOption) *VirtualAuthenticator {
	v := &VirtualAuthenticator{
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigin,
		},
		auth:     virtualwebauthn.NewAuthenticator(),
		stranger: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
		consent:  AlwaysAccept,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetUnavailable toggles a temporary hardware outage.
func (v *VirtualAuthenticator) SetUnavailable(unavailable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unavailable = unavailable
}

// Present implements Authenticator.
func (v *VirtualAuthenticator) Present() bool {
	return !v.absent
}

// Ready implements Authenticator.
func (v *VirtualAuthenticator) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.absent && !v.unavailable
}

// Register implements Authenticator. A second registration replaces the
// held credential.
func (v *VirtualAuthenticator) Register(ctx context.Context, options string) (string, error) {
	if err := v.usable(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(options)
	if err != nil {
		return "", fmt.Errorf("webauthn: failed to parse attestation options: %w", err)
	}

	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	v.mu.Lock()
	defer v.mu.Unlock()
	response := virtualwebauthn.CreateAttestationResponse(v.rp, v.auth, cred, *parsed)
	v.auth.AddCredential(cred)
	v.credential = &cred
	return response, nil
}

// Assert implements Authenticator. Reject signs with a credential the relying
// party has never seen, so the assertion fails verification.
func (v *VirtualAuthenticator) Assert(ctx context.Context, options string, prompt biometric.PromptInfo) (string, error) {
	if err := v.usable(); err != nil {
		return "", err
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(options)
	if err != nil {
		return "", fmt.Errorf("webauthn: failed to parse assertion options: %w", err)
	}

	decision, err := v.consent(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch decision {
	case Accept:
		if v.credential == nil {
			return "", ErrNoCredential
		}
		return virtualwebauthn.CreateAssertionResponse(v.rp, v.auth, *v.credential, *parsed), nil
	case Reject:
		return virtualwebauthn.CreateAssertionResponse(v.rp, v.auth, v.stranger, *parsed), nil
	case Cancel:
		text := prompt.NegativeButtonText
		if text == "" {
			text = "Cancel"
		}
		return "", biometric.NewError(biometric.ErrorNegativeButton, text)
	case Lockout:
		return "", biometric.NewError(biometric.ErrorLockout, "Too many attempts. Try again later.")
	default:
		return "", biometric.NewError(biometric.ErrorVendor, fmt.Sprintf("unknown decision %d", decision))
	}
}

func (v *VirtualAuthenticator) usable() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.absent:
		return biometric.NewError(biometric.ErrorHWNotPresent, "No biometric hardware")
	case v.unavailable:
		return biometric.NewError(biometric.ErrorHWUnavailable, "Biometric hardware unavailable")
	}
	return nil
}

var _ Authenticator = (*VirtualAuthenticator)(nil)
