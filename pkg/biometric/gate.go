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

// Package biometric gates operations behind a platform biometric challenge.
//
// A Gate owns a single pending-challenge slot. Authenticate hands the
// platform a ChallengeRequest and resolves it exactly once to an Outcome:
// Succeeded with a single-use Proof for the bound Operation, Failed when
// the biometric was not recognized, or a platform *Error. Cancel releases
// the platform challenge and guarantees the outcome callback never fires.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/correlation"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
)

// GateParams configures a Gate.
type GateParams struct {
	Platform Platform
	Prompt   *PromptInfo
	Logger   logger.Logger
}

// Gate is the authentication gate. It is safe for concurrent use.
type Gate struct {
	platform Platform
	prompt   PromptInfo
	log      logger.Logger

	mu      sync.Mutex
	pending *challenge
}

type challenge struct {
	id      string
	op      Operation
	done    func(Outcome)
	started time.Time
	stop    func() bool
}

func (c *challenge) kind() string {
	if c.op == nil {
		return "presence"
	}
	return "cipher"
}

// NewGate returns a gate for the given platform.
func NewGate(params *GateParams) (*Gate, error) {
	if params == nil || params.Platform == nil {
		return nil, ErrNoPlatform
	}
	prompt := DefaultPromptInfo()
	if params.Prompt != nil {
		prompt = *params.Prompt
	}
	log := params.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Gate{
		platform: params.Platform,
		prompt:   prompt,
		log:      log.With(logger.String("component", "auth_gate")),
	}, nil
}

// CheckAvailability queries the platform and maps the status.
func (g *Gate) CheckAvailability(ctx context.Context) (Availability, error) {
	status := g.platform.QueryCapability(ctx)
	a, err := MapCapability(status)
	if err != nil {
		metrics.RecordAvailability("unknown")
		g.log.Warn("unrecognized capability status", logger.Int("status", int(status)))
		return 0, err
	}
	metrics.RecordAvailability(a.String())
	return a, nil
}

// AvailabilityMessage returns the user-facing availability text.
func (g *Gate) AvailabilityMessage(ctx context.Context) (string, error) {
	a, err := g.CheckAvailability(ctx)
	if err != nil {
		return "", err
	}
	return a.Message(), nil
}

// CanOfferEnrollment reports whether the caller should offer enrollment,
// which is the case only when hardware is present and nothing is enrolled.
func (g *Gate) CanOfferEnrollment(ctx context.Context) bool {
	a, err := g.CheckAvailability(ctx)
	return err == nil && a == NotEnrolled
}

// Authenticate issues a challenge. When op is nil the challenge is a
// presence check and Succeeded carries no proof. done is called exactly
// once unless the challenge is cancelled, either through Cancel or by ctx
// being done, in which case it is never called.
//
// It returns the challenge id, or ErrChallengeAlreadyPending if a challenge
// is outstanding.
func (g *Gate) Authenticate(ctx context.Context, op Operation, done func(Outcome)) (string, error) {
	if done == nil {
		return "", fmt.Errorf("biometric: outcome callback is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return "", ErrChallengeAlreadyPending
	}
	ch := &challenge{
		id:      correlation.NewID(),
		op:      op,
		done:    done,
		started: time.Now(),
	}
	g.pending = ch
	ch.stop = context.AfterFunc(ctx, func() { g.cancel(ch.id, "context done") })
	g.mu.Unlock()

	log := g.log.With(logger.String("challenge_id", ch.id), logger.String("kind", ch.kind()))
	log.Debug("presenting challenge")

	req := &ChallengeRequest{ID: ch.id, Prompt: g.prompt, Bound: op != nil}
	err := g.platform.PresentChallenge(correlation.WithChallengeID(ctx, ch.id), req, func(a *Assertion, err error) {
		g.resolve(ch.id, a, err)
	})
	if err != nil {
		g.mu.Lock()
		if g.pending == ch {
			g.pending = nil
		}
		g.mu.Unlock()
		ch.stop()
		metrics.RecordError("present_challenge", "platform")
		log.Error("platform rejected challenge", logger.Error(err))
		return "", fmt.Errorf("biometric: failed to present challenge: %w", err)
	}
	return ch.id, nil
}

// Cancel aborts the pending challenge, if any, and reports whether one was
// pending. The outcome callback of a cancelled challenge never fires.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	ch := g.pending
	g.mu.Unlock()
	if ch == nil {
		return false
	}
	return g.cancel(ch.id, "cancelled by caller")
}

// CancelChallenge aborts the challenge with the given id if it is still
// pending and reports whether it was.
func (g *Gate) CancelChallenge(id string) bool {
	return g.cancel(id, "cancelled by caller")
}

// Pending returns the id of the outstanding challenge, or "".
func (g *Gate) Pending() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return ""
	}
	return g.pending.id
}

func (g *Gate) cancel(id, reason string) bool {
	g.mu.Lock()
	ch := g.pending
	if ch == nil || ch.id != id {
		g.mu.Unlock()
		return false
	}
	g.pending = nil
	g.mu.Unlock()

	ch.stop()
	g.platform.CancelChallenge(id)
	metrics.RecordChallenge(ch.kind(), metrics.OutcomeCancelled, time.Since(ch.started).Seconds())
	g.log.Info("challenge cancelled", logger.String("challenge_id", id), logger.String("reason", reason))
	return true
}

func (g *Gate) resolve(id string, a *Assertion, err error) {
	g.mu.Lock()
	ch := g.pending
	if ch == nil || ch.id != id {
		g.mu.Unlock()
		g.log.Debug("dropping stale platform callback", logger.String("challenge_id", id))
		return
	}
	g.pending = nil
	g.mu.Unlock()
	ch.stop()

	outcome := g.outcome(ch, a, err)
	name := OutcomeName(outcome)
	metrics.RecordChallenge(ch.kind(), name, time.Since(ch.started).Seconds())
	g.log.Info("challenge resolved",
		logger.String("challenge_id", id),
		logger.String("outcome", name),
		logger.Duration("elapsed", time.Since(ch.started)))

	ch.done(outcome)
}

func (g *Gate) outcome(ch *challenge, a *Assertion, err error) Outcome {
	var perr *Error
	switch {
	case err == nil && a == nil:
		return NewError(ErrorVendor, "platform returned no assertion")
	case err == nil:
		if a.ChallengeID != "" && a.ChallengeID != ch.id {
			return NewError(ErrorVendor, "assertion does not match challenge")
		}
		if !a.UserVerified {
			return Failed{}
		}
		if ch.op == nil {
			return Succeeded{}
		}
		proof, aerr := ch.op.Authorize(a)
		if aerr != nil {
			g.log.Error("operation refused authorization", logger.String("challenge_id", ch.id), logger.Error(aerr))
			return NewError(ErrorVendor, aerr.Error())
		}
		return Succeeded{Proof: proof}
	case errors.Is(err, ErrNotRecognized):
		return Failed{}
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorTimeout, "Authentication timed out")
	default:
		return NewError(ErrorVendor, err.Error())
	}
}
