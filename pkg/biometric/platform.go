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

package biometric

import (
	"context"
	"time"
)

// CapabilityStatus is the raw status code returned by a platform capability
// query. Values follow the platform biometric manager.
type CapabilityStatus int

const (
	StatusSuccess                CapabilityStatus = 0
	StatusHWUnavailable          CapabilityStatus = 1
	StatusNoneEnrolled           CapabilityStatus = 11
	StatusNoHardware             CapabilityStatus = 12
	StatusSecurityUpdateRequired CapabilityStatus = 15
	StatusUnsupported            CapabilityStatus = -2
	StatusUnknown                CapabilityStatus = -1
)

// PromptInfo is shown by the platform while a challenge is pending.
type PromptInfo struct {
	Title              string `yaml:"title"`
	Subtitle           string `yaml:"subtitle"`
	Description        string `yaml:"description"`
	NegativeButtonText string `yaml:"negative_button_text"`
}

// DefaultPromptInfo returns the stock prompt.
func DefaultPromptInfo() PromptInfo {
	return PromptInfo{
		Title:              "Biometric login for Playground",
		Subtitle:           "Log in using your biometric credential",
		NegativeButtonText: "Cancel",
	}
}

// ChallengeRequest is handed to the platform for each challenge.
type ChallengeRequest struct {
	ID     string
	Prompt PromptInfo

	// Bound is true when a successful assertion will authorize a cipher
	// operation, false for presence-only checks.
	Bound bool
}

// Assertion is the platform's evidence of a successful verification.
type Assertion struct {
	ChallengeID  string
	CredentialID string
	UserVerified bool
	At           time.Time
}

// Platform is the biometric subsystem. Implementations resolve each
// presented challenge by calling done exactly once, from any goroutine:
// with an assertion on success, ErrNotRecognized on a mismatch, or an
// *Error for anything terminal.
type Platform interface {
	// QueryCapability reports whether the device can authenticate now.
	QueryCapability(ctx context.Context) CapabilityStatus

	// PresentChallenge starts a challenge. A returned error means done
	// will not be called.
	PresentChallenge(ctx context.Context, req *ChallengeRequest, done func(*Assertion, error)) error

	// CancelChallenge aborts the challenge with the given id. Platforms
	// may still call done afterwards; the gate drops such calls.
	CancelChallenge(id string)
}
