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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
)

type result struct {
	assertion *biometric.Assertion
	err       error
}

func newTestPlatform(t *testing.T, opts ...VirtualOption) (*Platform, *VirtualAuthenticator) {
	t.Helper()
	cfg := &Config{RPID: "example.com", RPDisplayName: "Example", RPOrigin: "https://example.com", UserName: "tester"}
	cfg.SetDefaults()
	auth := NewVirtualAuthenticator(cfg, opts...)
	p, err := New(&Params{Config: cfg, Authenticator: auth})
	require.NoError(t, err)
	return p, auth
}

func enrolledPlatform(t *testing.T, opts ...VirtualOption) *Platform {
	t.Helper()
	p, _ := newTestPlatform(t, opts...)
	require.NoError(t, p.Enroll(context.Background()))
	return p
}

func present(t *testing.T, p *Platform, ctx context.Context, id string) <-chan result {
	t.Helper()
	ch := make(chan result, 1)
	req := &biometric.ChallengeRequest{ID: id, Prompt: biometric.DefaultPromptInfo(), Bound: true}
	require.NoError(t, p.PresentChallenge(ctx, req, func(a *biometric.Assertion, err error) {
		ch <- result{a, err}
	}))
	return ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("challenge did not resolve")
		return result{}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://localhost", cfg.RPOrigin)
	assert.Equal(t, 60*time.Second, cfg.Timeout)

	assert.Error(t, (&Config{}).Validate())
	bad := DefaultConfig()
	bad.Timeout = -1
	assert.Error(t, bad.Validate())
}

func TestQueryCapability(t *testing.T) {
	ctx := context.Background()

	p, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, biometric.StatusNoHardware, p.QueryCapability(ctx))

	absent, _ := newTestPlatform(t, WithAbsent())
	assert.Equal(t, biometric.StatusNoHardware, absent.QueryCapability(ctx))

	p, auth := newTestPlatform(t)
	assert.Equal(t, biometric.StatusNoneEnrolled, p.QueryCapability(ctx))

	auth.SetUnavailable(true)
	assert.Equal(t, biometric.StatusHWUnavailable, p.QueryCapability(ctx))
	auth.SetUnavailable(false)

	require.NoError(t, p.Enroll(ctx))
	assert.Equal(t, 1, p.Enrolled())
	assert.Equal(t, biometric.StatusSuccess, p.QueryCapability(ctx))
}

func TestEnroll_NoAuthenticator(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Enroll(context.Background()), ErrNoAuthenticator)
}

func TestPresentChallenge_NotEnrolled(t *testing.T) {
	p, _ := newTestPlatform(t)
	err := p.PresentChallenge(context.Background(), &biometric.ChallengeRequest{ID: "c1"}, func(*biometric.Assertion, error) {})
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestPresentChallenge_Accept(t *testing.T) {
	p := enrolledPlatform(t)

	for _, id := range []string{"c1", "c2"} {
		r := wait(t, present(t, p, context.Background(), id))
		require.NoError(t, r.err)
		require.NotNil(t, r.assertion)
		assert.Equal(t, id, r.assertion.ChallengeID)
		assert.True(t, r.assertion.UserVerified)
		assert.NotEmpty(t, r.assertion.CredentialID)
	}
}

func TestPresentChallenge_Reject(t *testing.T) {
	p := enrolledPlatform(t, WithConsent(func(context.Context, biometric.PromptInfo) (Decision, error) {
		return Reject, nil
	}))

	r := wait(t, present(t, p, context.Background(), "c1"))
	assert.Nil(t, r.assertion)
	assert.ErrorIs(t, r.err, biometric.ErrNotRecognized)
}

func TestPresentChallenge_Errors(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		code     biometric.ErrorCode
		message  string
	}{
		{"cancel", Cancel, biometric.ErrorNegativeButton, "Cancel"},
		{"lockout", Lockout, biometric.ErrorLockout, "Too many attempts. Try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := enrolledPlatform(t, WithConsent(func(context.Context, biometric.PromptInfo) (Decision, error) {
				return tt.decision, nil
			}))
			r := wait(t, present(t, p, context.Background(), "c1"))

			var berr *biometric.Error
			require.True(t, errors.As(r.err, &berr))
			assert.Equal(t, tt.code, berr.Code)
			assert.Equal(t, tt.message, berr.Message)
		})
	}
}

func TestPresentChallenge_UnavailableMidway(t *testing.T) {
	p, auth := newTestPlatform(t)
	require.NoError(t, p.Enroll(context.Background()))
	auth.SetUnavailable(true)

	r := wait(t, present(t, p, context.Background(), "c1"))
	var berr *biometric.Error
	require.True(t, errors.As(r.err, &berr))
	assert.Equal(t, biometric.ErrorHWUnavailable, berr.Code)
}

func blockingConsent(started chan<- struct{}) ConsentFunc {
	return func(ctx context.Context, _ biometric.PromptInfo) (Decision, error) {
		close(started)
		<-ctx.Done()
		return Accept, ctx.Err()
	}
}

func TestCancelChallenge(t *testing.T) {
	started := make(chan struct{})
	p := enrolledPlatform(t, WithConsent(blockingConsent(started)))

	ch := present(t, p, context.Background(), "c1")
	<-started
	p.CancelChallenge("c1")
	p.CancelChallenge("unknown")

	r := wait(t, ch)
	var berr *biometric.Error
	require.True(t, errors.As(r.err, &berr))
	assert.Equal(t, biometric.ErrorCanceled, berr.Code)
}

func TestPresentChallenge_Timeout(t *testing.T) {
	started := make(chan struct{})
	cfg := &Config{RPID: "example.com", RPDisplayName: "Example", RPOrigin: "https://example.com", UserName: "tester", Timeout: 50 * time.Millisecond}
	auth := NewVirtualAuthenticator(cfg, WithConsent(blockingConsent(started)))
	p, err := New(&Params{Config: cfg, Authenticator: auth})
	require.NoError(t, err)
	require.NoError(t, p.Enroll(context.Background()))

	r := wait(t, present(t, p, context.Background(), "c1"))
	var berr *biometric.Error
	require.True(t, errors.As(r.err, &berr))
	assert.Equal(t, biometric.ErrorTimeout, berr.Code)
	assert.Equal(t, "Authentication timed out", berr.Message)
}

func TestPresentChallenge_DuplicateID(t *testing.T) {
	started := make(chan struct{})
	p := enrolledPlatform(t, WithConsent(blockingConsent(started)))

	ch := present(t, p, context.Background(), "c1")
	<-started
	err := p.PresentChallenge(context.Background(), &biometric.ChallengeRequest{ID: "c1"}, func(*biometric.Assertion, error) {})
	assert.Error(t, err)

	p.CancelChallenge("c1")
	wait(t, ch)
}

func TestPresentChallenge_LockoutAfterFailures(t *testing.T) {
	cfg := &Config{RPID: "example.com", RPDisplayName: "Example", RPOrigin: "https://example.com", UserName: "tester", MaxAttempts: 2, LockoutDuration: time.Hour}
	cfg.SetDefaults()
	prompts := 0
	auth := NewVirtualAuthenticator(cfg, WithConsent(func(context.Context, biometric.PromptInfo) (Decision, error) {
		prompts++
		return Reject, nil
	}))
	p, err := New(&Params{Config: cfg, Authenticator: auth})
	require.NoError(t, err)
	require.NoError(t, p.Enroll(context.Background()))

	for _, id := range []string{"c1", "c2"} {
		r := wait(t, present(t, p, context.Background(), id))
		assert.ErrorIs(t, r.err, biometric.ErrNotRecognized)
	}

	r := wait(t, present(t, p, context.Background(), "c3"))
	var berr *biometric.Error
	require.True(t, errors.As(r.err, &berr))
	assert.Equal(t, biometric.ErrorLockout, berr.Code)
	assert.Equal(t, "Too many attempts. Try again later.", berr.Message)
	assert.Equal(t, 2, prompts)
}

func TestPresentChallenge_SuccessResetsAttempts(t *testing.T) {
	cfg := &Config{RPID: "example.com", RPDisplayName: "Example", RPOrigin: "https://example.com", UserName: "tester", MaxAttempts: 2, LockoutDuration: time.Hour}
	cfg.SetDefaults()
	decisions := []Decision{Reject, Accept, Reject, Accept}
	auth := NewVirtualAuthenticator(cfg, WithConsent(func(context.Context, biometric.PromptInfo) (Decision, error) {
		d := decisions[0]
		decisions = decisions[1:]
		return d, nil
	}))
	p, err := New(&Params{Config: cfg, Authenticator: auth})
	require.NoError(t, err)
	require.NoError(t, p.Enroll(context.Background()))

	assert.ErrorIs(t, wait(t, present(t, p, context.Background(), "c1")).err, biometric.ErrNotRecognized)
	assert.NoError(t, wait(t, present(t, p, context.Background(), "c2")).err)
	assert.ErrorIs(t, wait(t, present(t, p, context.Background(), "c3")).err, biometric.ErrNotRecognized)
	assert.NoError(t, wait(t, present(t, p, context.Background(), "c4")).err)
}
