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

package biometric_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/biometric/mocks"
)

// recorder collects outcomes delivered to the gate callback.
type recorder struct {
	mu       sync.Mutex
	outcomes []biometric.Outcome
}

func (r *recorder) done(o biometric.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) all() []biometric.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]biometric.Outcome(nil), r.outcomes...)
}

type stubOperation struct {
	authorized int
	err        error
}

type stubProof struct{ op *stubOperation }

func (p stubProof) Operation() biometric.Operation { return p.op }

func (s *stubOperation) Authorize(*biometric.Assertion) (biometric.Proof, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.authorized++
	return stubProof{op: s}, nil
}

func newGate(t *testing.T) (*biometric.Gate, *mocks.MockPlatform) {
	t.Helper()
	p := mocks.NewMockPlatform()
	g, err := biometric.NewGate(&biometric.GateParams{Platform: p})
	require.NoError(t, err)
	return g, p
}

func TestNewGate_RequiresPlatform(t *testing.T) {
	_, err := biometric.NewGate(nil)
	assert.ErrorIs(t, err, biometric.ErrNoPlatform)
}

func TestCheckAvailability(t *testing.T) {
	tests := []struct {
		status     biometric.CapabilityStatus
		want       biometric.Availability
		message    string
		enrollable bool
	}{
		{biometric.StatusSuccess, biometric.Ready, "App can authenticate using biometrics.", false},
		{biometric.StatusNoHardware, biometric.NoHardware, "No biometric features available on this device.", false},
		{biometric.StatusHWUnavailable, biometric.HardwareUnavailable, "Biometric features are currently unavailable.", false},
		{biometric.StatusNoneEnrolled, biometric.NotEnrolled, "Biometrics not enrolled yet", true},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			g, p := newGate(t)
			p.Status = tt.status

			got, err := g.CheckAvailability(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			msg, err := g.AvailabilityMessage(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.message, msg)

			assert.Equal(t, tt.enrollable, g.CanOfferEnrollment(context.Background()))
		})
	}
}

func TestCheckAvailability_UnknownStatus(t *testing.T) {
	for _, status := range []biometric.CapabilityStatus{
		biometric.StatusSecurityUpdateRequired,
		biometric.StatusUnsupported,
		biometric.StatusUnknown,
		42,
	} {
		g, p := newGate(t)
		p.Status = status

		_, err := g.CheckAvailability(context.Background())
		assert.ErrorIs(t, err, biometric.ErrUnknownState)
		_, err = g.AvailabilityMessage(context.Background())
		assert.ErrorIs(t, err, biometric.ErrUnknownState)
		assert.False(t, g.CanOfferEnrollment(context.Background()))
	}
}

func TestAuthenticate_SucceededWithProof(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	op := &stubOperation{}

	id, err := g.Authenticate(context.Background(), op, rec.done)
	require.NoError(t, err)
	assert.Equal(t, id, g.Pending())
	require.Len(t, p.Requests, 1)
	assert.True(t, p.Requests[0].Bound)
	assert.Equal(t, "Biometric login for Playground", p.Requests[0].Prompt.Title)
	assert.Equal(t, "Cancel", p.Requests[0].Prompt.NegativeButtonText)

	p.Succeed()

	outcomes := rec.all()
	require.Len(t, outcomes, 1)
	s, ok := outcomes[0].(biometric.Succeeded)
	require.True(t, ok)
	assert.Equal(t, op, s.Proof.Operation())
	assert.Equal(t, 1, op.authorized)
	assert.Empty(t, g.Pending())
}

func TestAuthenticate_PresenceOnly(t *testing.T) {
	g, p := newGate(t)
	var rec recorder

	_, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)
	assert.False(t, p.Requests[0].Bound)
	p.Succeed()

	outcomes := rec.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, biometric.Succeeded{}, outcomes[0])
}

func TestAuthenticate_Failed(t *testing.T) {
	g, p := newGate(t)
	var rec recorder

	_, err := g.Authenticate(context.Background(), &stubOperation{}, rec.done)
	require.NoError(t, err)
	p.Fail()
	assert.Equal(t, []biometric.Outcome{biometric.Failed{}}, rec.all())

	// Failed is retriable.
	_, err = g.Authenticate(context.Background(), &stubOperation{}, rec.done)
	require.NoError(t, err)
}

func TestAuthenticate_UnverifiedAssertionFails(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), &stubOperation{}, rec.done)
	require.NoError(t, err)

	a := mocks.Assertion(p.LastID())
	a.UserVerified = false
	p.Respond(p.LastID(), a, nil)
	assert.Equal(t, []biometric.Outcome{biometric.Failed{}}, rec.all())
}

func TestAuthenticate_PlatformError(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), &stubOperation{}, rec.done)
	require.NoError(t, err)

	p.Error(biometric.ErrorLockout, "Too many attempts. Try again later.")

	outcomes := rec.all()
	require.Len(t, outcomes, 1)
	e, ok := outcomes[0].(*biometric.Error)
	require.True(t, ok)
	assert.Equal(t, biometric.ErrorLockout, e.Code)
	assert.Equal(t, "Too many attempts. Try again later.", e.Message)
	assert.Contains(t, e.Error(), "LOCKOUT")
}

func TestAuthenticate_TimeoutIsError(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)

	p.Respond(p.LastID(), nil, context.DeadlineExceeded)
	e, ok := rec.all()[0].(*biometric.Error)
	require.True(t, ok)
	assert.Equal(t, biometric.ErrorTimeout, e.Code)
}

func TestAuthenticate_OtherPlatformErrorIsVendor(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)

	p.Respond(p.LastID(), nil, errors.New("sensor glitch"))
	e, ok := rec.all()[0].(*biometric.Error)
	require.True(t, ok)
	assert.Equal(t, biometric.ErrorVendor, e.Code)
	assert.Equal(t, "sensor glitch", e.Message)
}

func TestAuthenticate_AuthorizeFailureIsError(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), &stubOperation{err: errors.New("already used")}, rec.done)
	require.NoError(t, err)

	p.Succeed()
	_, ok := rec.all()[0].(*biometric.Error)
	assert.True(t, ok)
}

func TestAuthenticate_AlreadyPending(t *testing.T) {
	g, p := newGate(t)
	var first, second recorder

	id, err := g.Authenticate(context.Background(), &stubOperation{}, first.done)
	require.NoError(t, err)

	_, err = g.Authenticate(context.Background(), &stubOperation{}, second.done)
	assert.ErrorIs(t, err, biometric.ErrChallengeAlreadyPending)
	assert.Len(t, p.Requests, 1)
	assert.Equal(t, id, g.Pending())

	// The first challenge still resolves normally.
	p.Succeed()
	require.Len(t, first.all(), 1)
	assert.IsType(t, biometric.Succeeded{}, first.all()[0])
	assert.Empty(t, second.all())
}

func TestCancelChallenge_ByID(t *testing.T) {
	g, p := newGate(t)
	var rec recorder

	id, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)

	assert.False(t, g.CancelChallenge("some-other-id"))
	assert.Equal(t, id, g.Pending())

	assert.True(t, g.CancelChallenge(id))
	assert.Equal(t, []string{id}, p.CancelCalls)
	assert.Empty(t, g.Pending())
	assert.False(t, g.CancelChallenge(id))

	p.Respond(id, mocks.Assertion(id), nil)
	assert.Empty(t, rec.all())
}

func TestCancel_NoLateCallback(t *testing.T) {
	g, p := newGate(t)
	var rec recorder

	id, err := g.Authenticate(context.Background(), &stubOperation{}, rec.done)
	require.NoError(t, err)

	assert.True(t, g.Cancel())
	assert.Equal(t, []string{id}, p.CancelCalls)
	assert.Empty(t, g.Pending())
	assert.False(t, g.Cancel())

	// A delayed platform callback is dropped.
	p.Respond(id, mocks.Assertion(id), nil)
	assert.Empty(t, rec.all())

	// The slot is free again.
	_, err = g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)
}

func TestCancel_ContextDone(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	ctx, cancel := context.WithCancel(context.Background())

	id, err := g.Authenticate(ctx, nil, rec.done)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool { return g.Pending() == "" }, time.Second, 5*time.Millisecond)
	p.Respond(id, mocks.Assertion(id), nil)
	assert.Empty(t, rec.all())
	assert.Equal(t, []string{id}, p.CancelCalls)
}

func TestAuthenticate_ContextAlreadyDone(t *testing.T) {
	g, _ := newGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Authenticate(ctx, nil, func(biometric.Outcome) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuthenticate_PresentError(t *testing.T) {
	g, p := newGate(t)
	p.PresentErr = errors.New("prompt busy")

	_, err := g.Authenticate(context.Background(), nil, func(biometric.Outcome) {})
	assert.Error(t, err)
	assert.Empty(t, g.Pending())
}

func TestAuthenticate_SynchronousPlatform(t *testing.T) {
	g, p := newGate(t)
	p.AutoRespond = func(req *biometric.ChallengeRequest) (*biometric.Assertion, error) {
		return mocks.Assertion(req.ID), nil
	}
	var rec recorder

	_, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)
	assert.Len(t, rec.all(), 1)
	assert.Empty(t, g.Pending())
}

func TestAuthenticate_DuplicateCallbackIgnored(t *testing.T) {
	g, p := newGate(t)
	var rec recorder
	_, err := g.Authenticate(context.Background(), nil, rec.done)
	require.NoError(t, err)

	p.Succeed()
	p.Fail()
	assert.Len(t, rec.all(), 1)
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "NEGATIVE_BUTTON", biometric.ErrorNegativeButton.String())
	assert.Equal(t, "ERROR_99", biometric.ErrorCode(99).String())
}

func TestOutcomeName(t *testing.T) {
	assert.Equal(t, "succeeded", biometric.OutcomeName(biometric.Succeeded{}))
	assert.Equal(t, "failed", biometric.OutcomeName(biometric.Failed{}))
	assert.Equal(t, "error", biometric.OutcomeName(biometric.NewError(biometric.ErrorCanceled, "x")))
}
