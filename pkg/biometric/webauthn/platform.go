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

// Package webauthn implements biometric.Platform as a WebAuthn relying party.
//
// Each challenge is a login ceremony against a user-verifying platform
// authenticator: the relying party issues assertion options, the
// authenticator prompts the user and signs, and go-webauthn verifies the
// signature, the challenge and the UV flag. Only a verified assertion
// resolves the challenge successfully. A VirtualAuthenticator backed by
// descope/virtualwebauthn stands in for the sensor.
package webauthn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/correlation"
	"github.com/jeremyhahn/go-biokey/pkg/ratelimit"
)

var (
	// ErrNotEnrolled is returned by PresentChallenge before Enroll.
	ErrNotEnrolled = errors.New("webauthn: no credential enrolled")

	// ErrNoAuthenticator is returned when the platform has no usable
	// authenticator.
	ErrNoAuthenticator = errors.New("webauthn: no authenticator")
)

// Params contains the dependencies of a Platform.
type Params struct {
	// Config describes the relying party. Defaults to DefaultConfig.
	Config *Config

	// Authenticator is the device. Nil behaves like missing hardware.
	Authenticator Authenticator

	Logger logger.Logger
}

// Platform verifies biometric challenges through WebAuthn login ceremonies.
type Platform struct {
	mu       sync.Mutex
	wa       *webauthn.WebAuthn
	cfg      *Config
	auth     Authenticator
	user     *user
	inflight map[string]context.CancelFunc
	attempts *ratelimit.Limiter
	log      logger.Logger
}

// New returns a Platform.
func New(params *Params) (*Platform, error) {
	if params == nil {
		params = &Params{}
	}
	cfg := params.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webauthn: invalid config: %w", err)
	}
	wa, err := webauthn.New(cfg.toWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("webauthn: failed to create relying party: %w", err)
	}
	log := params.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Platform{
		wa:       wa,
		cfg:      cfg,
		auth:     params.Authenticator,
		user:     newUser(cfg.UserName, cfg.UserDisplayName),
		inflight: make(map[string]context.CancelFunc),
		attempts: ratelimit.New(&ratelimit.Config{
			Enabled:     cfg.MaxAttempts > 0,
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    cfg.LockoutDuration,
		}),
		log: log.With(logger.String("component", "webauthn_platform")),
	}, nil
}

// Enrolled returns the number of enrolled credentials.
func (p *Platform) Enrolled() int {
	return p.user.enrolled()
}

// QueryCapability implements biometric.Platform.
func (p *Platform) QueryCapability(context.Context) biometric.CapabilityStatus {
	switch {
	case p.auth == nil || !p.auth.Present():
		return biometric.StatusNoHardware
	case !p.auth.Ready():
		return biometric.StatusHWUnavailable
	case p.user.enrolled() == 0:
		return biometric.StatusNoneEnrolled
	default:
		return biometric.StatusSuccess
	}
}

// Enroll runs a registration ceremony and keeps the new credential.
func (p *Platform) Enroll(ctx context.Context) error {
	if p.auth == nil || !p.auth.Present() {
		return ErrNoAuthenticator
	}
	creation, session, err := p.wa.BeginRegistration(p.user,
		webauthn.WithExclusions(p.user.exclusions()),
	)
	if err != nil {
		return fmt.Errorf("webauthn: begin registration: %w", err)
	}
	options, err := json.Marshal(creation.Response)
	if err != nil {
		return fmt.Errorf("webauthn: encode registration options: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	response, err := p.auth.Register(ctx, string(options))
	if err != nil {
		return fmt.Errorf("webauthn: authenticator registration: %w", err)
	}
	var ccr protocol.CredentialCreationResponse
	if err := json.Unmarshal([]byte(response), &ccr); err != nil {
		return fmt.Errorf("webauthn: decode attestation: %w", err)
	}
	parsed, err := ccr.Parse()
	if err != nil {
		return fmt.Errorf("webauthn: parse attestation: %w", err)
	}
	cred, err := p.wa.CreateCredential(p.user, *session, parsed)
	if err != nil {
		return fmt.Errorf("webauthn: create credential: %w", err)
	}
	p.user.addCredential(*cred)

	p.log.Info("credential enrolled",
		logger.String("user", p.cfg.UserName),
		logger.String("credential_id", encodeID(cred.ID)))
	return nil
}

// PresentChallenge implements biometric.Platform. The ceremony runs on its
// own goroutine and done is called exactly once when it ends.
func (p *Platform) PresentChallenge(ctx context.Context, req *biometric.ChallengeRequest, done func(*biometric.Assertion, error)) error {
	if req == nil || done == nil {
		return fmt.Errorf("webauthn: request and callback are required")
	}
	if p.auth == nil || !p.auth.Present() {
		return ErrNoAuthenticator
	}
	if p.user.enrolled() == 0 {
		return ErrNotEnrolled
	}

	assertion, session, err := p.wa.BeginLogin(p.user,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return fmt.Errorf("webauthn: begin login: %w", err)
	}
	options, err := json.Marshal(assertion.Response)
	if err != nil {
		return fmt.Errorf("webauthn: encode assertion options: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)

	p.mu.Lock()
	if _, dup := p.inflight[req.ID]; dup {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("webauthn: challenge %s already presented", req.ID)
	}
	p.inflight[req.ID] = cancel
	p.mu.Unlock()

	log := p.log.With(logger.String("challenge_id", req.ID))
	if id := correlation.GetCorrelationID(ctx); id != "" {
		log = log.With(logger.String("correlation_id", id))
	}
	log.Debug("presenting challenge", logger.Bool("bound", req.Bound))

	go func() {
		if retry := p.attempts.RetryAfter(p.cfg.UserName); retry > 0 {
			p.release(req.ID)
			log.Warn("sensor locked out", logger.Duration("retry_after", retry))
			done(nil, biometric.NewError(biometric.ErrorLockout, "Too many attempts. Try again later."))
			return
		}
		a, err := p.ceremony(cctx, req, session, string(options))
		p.release(req.ID)
		switch {
		case err == nil:
			p.attempts.Success(p.cfg.UserName)
		case errors.Is(err, biometric.ErrNotRecognized):
			if p.attempts.Failure(p.cfg.UserName) {
				log.Warn("too many unrecognized attempts, locking sensor",
					logger.Int("max_attempts", p.cfg.MaxAttempts))
			}
		}
		if err != nil {
			log.Debug("challenge not verified", logger.Error(err))
		}
		done(a, err)
	}()
	return nil
}

// CancelChallenge implements biometric.Platform.
func (p *Platform) CancelChallenge(id string) {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Platform) release(id string) {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	delete(p.inflight, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Platform) ceremony(ctx context.Context, req *biometric.ChallengeRequest, session *webauthn.SessionData, options string) (*biometric.Assertion, error) {
	response, err := p.auth.Assert(ctx, options, req.Prompt)
	if err != nil {
		return nil, classify(ctx, err)
	}

	var car protocol.CredentialAssertionResponse
	if err := json.Unmarshal([]byte(response), &car); err != nil {
		return nil, biometric.NewError(biometric.ErrorUnableToProcess, "Malformed authenticator response")
	}
	parsed, err := car.Parse()
	if err != nil {
		return nil, biometric.NewError(biometric.ErrorUnableToProcess, "Malformed authenticator response")
	}

	cred, err := p.wa.ValidateLogin(p.user, *session, parsed)
	if err != nil {
		// A signature from an unknown credential or a missing UV flag is a
		// biometric that did not match.
		return nil, fmt.Errorf("%w: %s", biometric.ErrNotRecognized, describe(err))
	}
	p.user.updateCredential(cred)

	return &biometric.Assertion{
		ChallengeID:  req.ID,
		CredentialID: encodeID(cred.ID),
		UserVerified: parsed.Response.AuthenticatorData.Flags.UserVerified(),
		At:           time.Now(),
	}, nil
}

func classify(ctx context.Context, err error) error {
	var berr *biometric.Error
	switch {
	case errors.As(err, &berr):
		return berr
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return biometric.NewError(biometric.ErrorTimeout, "Authentication timed out")
	case ctx.Err() != nil:
		return biometric.NewError(biometric.ErrorCanceled, "Authentication canceled")
	case errors.Is(err, ErrNoCredential):
		return biometric.NewError(biometric.ErrorNoBiometrics, "No biometric credential enrolled")
	default:
		return biometric.NewError(biometric.ErrorVendor, err.Error())
	}
}

func describe(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		return strings.TrimSpace(perr.Details + ": " + perr.DevInfo)
	}
	return err.Error()
}

func encodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

var _ biometric.Platform = (*Platform)(nil)
