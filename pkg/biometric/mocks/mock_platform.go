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

// Package mocks provides a scriptable biometric.Platform for tests.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
)

// MockPlatform records presented challenges and lets the test resolve them
// explicitly, simulating the platform's asynchronous callback.
type MockPlatform struct {
	mu sync.Mutex

	// Status is returned by QueryCapability.
	Status biometric.CapabilityStatus

	// PresentErr, when set, is returned by PresentChallenge.
	PresentErr error

	// AutoRespond, when set, resolves each challenge synchronously from
	// inside PresentChallenge.
	AutoRespond func(req *biometric.ChallengeRequest) (*biometric.Assertion, error)

	// Call tracking
	QueryCalls  int
	Requests    []*biometric.ChallengeRequest
	CancelCalls []string
	callbacks   map[string]func(*biometric.Assertion, error)
	lastID      string
}

// NewMockPlatform returns a platform reporting StatusSuccess.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		Status:    biometric.StatusSuccess,
		callbacks: make(map[string]func(*biometric.Assertion, error)),
	}
}

// QueryCapability returns Status.
func (m *MockPlatform) QueryCapability(context.Context) biometric.CapabilityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	return m.Status
}

// PresentChallenge stores done for a later Succeed, Fail or Error call.
func (m *MockPlatform) PresentChallenge(_ context.Context, req *biometric.ChallengeRequest, done func(*biometric.Assertion, error)) error {
	m.mu.Lock()
	if m.PresentErr != nil {
		err := m.PresentErr
		m.mu.Unlock()
		return err
	}
	m.Requests = append(m.Requests, req)
	m.callbacks[req.ID] = done
	m.lastID = req.ID
	auto := m.AutoRespond
	m.mu.Unlock()

	if auto != nil {
		done(auto(req))
	}
	return nil
}

// CancelChallenge records the cancellation. The stored callback is kept so
// tests can fire it late.
func (m *MockPlatform) CancelChallenge(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls = append(m.CancelCalls, id)
}

// Cancelled reports whether CancelChallenge was called for id.
func (m *MockPlatform) Cancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.CancelCalls {
		if c == id {
			return true
		}
	}
	return false
}

// LastID returns the id of the most recent challenge.
func (m *MockPlatform) LastID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID
}

// Succeed resolves the most recent challenge with a verified assertion.
func (m *MockPlatform) Succeed() {
	m.Respond(m.LastID(), Assertion(m.LastID()), nil)
}

// Fail resolves the most recent challenge as not recognized.
func (m *MockPlatform) Fail() {
	m.Respond(m.LastID(), nil, biometric.ErrNotRecognized)
}

// Error resolves the most recent challenge with a platform error.
func (m *MockPlatform) Error(code biometric.ErrorCode, message string) {
	m.Respond(m.LastID(), nil, biometric.NewError(code, message))
}

// Respond invokes the callback stored for id. It panics if id was never
// presented.
func (m *MockPlatform) Respond(id string, a *biometric.Assertion, err error) {
	m.mu.Lock()
	done, ok := m.callbacks[id]
	m.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("mocks: no challenge %q", id))
	}
	done(a, err)
}

// Assertion returns a verified assertion for challengeID.
func Assertion(challengeID string) *biometric.Assertion {
	return &biometric.Assertion{
		ChallengeID:  challengeID,
		CredentialID: "mock-credential",
		UserVerified: true,
		At:           time.Now(),
	}
}

var _ biometric.Platform = (*MockPlatform)(nil)
