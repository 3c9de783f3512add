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

// Package session drives one user-facing biometric session: it asks the
// gate for a challenge, runs the authorized cipher when the challenge
// succeeds, and reports every resolution to a listener.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/cbc"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
)

// DefaultKeyName is the key alias used when none is configured.
const DefaultKeyName = "biometric_sample_key"

// Notice texts reported with each result.
const (
	NoticeSucceeded = "Authentication succeeded!"
	NoticeFailed    = "Authentication failed"
	noticeError     = "Authentication error: "
)

var (
	// ErrNoPriorCiphertext is returned by RequestDecrypt before anything
	// has been encrypted or restored.
	ErrNoPriorCiphertext = errors.New("session: no prior ciphertext to decrypt")

	// ErrOperationInProgress is returned by a request while a challenge is
	// outstanding.
	ErrOperationInProgress = errors.New("session: operation in progress")

	// ErrCryptoOperationFailed is reported when an authorized cipher fails.
	ErrCryptoOperationFailed = cbc.ErrCryptoOperationFailed

	// ErrCancelled is returned by a request that was cancelled before its
	// challenge reached the platform.
	ErrCancelled = errors.New("session: request cancelled")

	// ErrNoGate is returned by New without a gate.
	ErrNoGate = errors.New("session: gate is required")

	// ErrNoKeyProvider is returned by New without a key provider.
	ErrNoKeyProvider = errors.New("session: key provider is required")
)

// State is the controller state.
type State int

const (
	Idle State = iota
	ChallengeIssued
	Authorized
	Rejected
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChallengeIssued:
		return "challenge_issued"
	case Authorized:
		return "authorized"
	case Rejected:
		return "rejected"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Intent is what a challenge was issued for.
type Intent int

const (
	IntentNone Intent = iota
	IntentEncryptText
	IntentDecryptText
)

func (i Intent) String() string {
	switch i {
	case IntentNone:
		return "none"
	case IntentEncryptText:
		return "encrypt_text"
	case IntentDecryptText:
		return "decrypt_text"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// Result reports how a challenge resolved. State is Authorized, Rejected or
// Errored. Err is the platform *biometric.Error for Errored, or a
// cipher failure wrapping ErrCryptoOperationFailed for Authorized.
type Result struct {
	ChallengeID string
	Intent      Intent
	State       State
	Payload     *cbc.EncryptedPayload
	Plaintext   []byte
	Err         error
	Notice      string
}

// Text returns the decrypted plaintext as a string.
func (r Result) Text() string {
	return string(r.Plaintext)
}

// Listener receives each Result. It is called without holding any
// controller lock and may issue a new request.
type Listener func(Result)

// KeyProvider returns the key, creating it on first use.
type KeyProvider interface {
	GetOrCreateKey(name string) (keystore.Key, error)
}

// Gate issues biometric challenges.
type Gate interface {
	Authenticate(ctx context.Context, op biometric.Operation, done func(biometric.Outcome)) (string, error)
	Cancel() bool
	CancelChallenge(id string) bool
}

// Params configures a Controller.
type Params struct {
	Keys     KeyProvider
	Gate     Gate
	Factory  *cbc.Factory
	KeyName  string
	Listener Listener
	Logger   logger.Logger
}

// Controller is the session state machine. It is safe for concurrent use;
// at most one challenge is outstanding at a time.
type Controller struct {
	keys     KeyProvider
	gate     Gate
	factory  *cbc.Factory
	keyName  string
	listener Listener
	log      logger.Logger

	mu          sync.Mutex
	state       State
	seq         uint64
	challengeID string
	payload     *cbc.EncryptedPayload

	// cancelled is the seq of the last request aborted by Cancel.
	cancelled uint64
	// stop unregisters the context watch of the outstanding challenge.
	stop func() bool
}

// New returns an idle Controller.
func New(params *Params) (*Controller, error) {
	if params == nil || params.Gate == nil {
		return nil, ErrNoGate
	}
	if params.Keys == nil {
		return nil, ErrNoKeyProvider
	}
	factory := params.Factory
	if factory == nil {
		factory = cbc.NewFactory(nil)
	}
	name := params.KeyName
	if name == "" {
		name = DefaultKeyName
	}
	log := params.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{
		keys:     params.Keys,
		gate:     params.Gate,
		factory:  factory,
		keyName:  name,
		listener: params.Listener,
		log:      log.With(logger.String("component", "session"), logger.String("key", name)),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the outstanding challenge id, or "".
func (c *Controller) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChallengeIssued {
		return ""
	}
	return c.challengeID
}

// Payload returns a copy of the last encrypted payload, or nil.
func (c *Controller) Payload() *cbc.EncryptedPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload.Clone()
}

// Restore replaces the stored payload, typically with one loaded from
// storage by an earlier process.
func (c *Controller) Restore(p *cbc.EncryptedPayload) error {
	if p == nil {
		return cbc.ErrEmptyPayload
	}
	checked, err := cbc.NewEncryptedPayload(p.CipherText, p.IV)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChallengeIssued {
		return ErrOperationInProgress
	}
	c.payload = checked
	return nil
}

// RequestEncrypt issues a challenge that, once passed, encrypts plaintext
// under a fresh IV and replaces the stored payload.
func (c *Controller) RequestEncrypt(ctx context.Context, plaintext []byte) (string, error) {
	input := append([]byte(nil), plaintext...)
	return c.request(ctx, IntentEncryptText, func(key keystore.Key) (*cbc.Binding, []byte, error) {
		b, err := c.factory.ForEncryption(key)
		return b, input, err
	})
}

// RequestDecrypt issues a challenge that, once passed, decrypts the stored
// payload. It returns ErrNoPriorCiphertext when there is nothing to decrypt.
func (c *Controller) RequestDecrypt(ctx context.Context) (string, error) {
	c.mu.Lock()
	p := c.payload.Clone()
	c.mu.Unlock()
	if p == nil {
		return "", ErrNoPriorCiphertext
	}
	return c.request(ctx, IntentDecryptText, func(key keystore.Key) (*cbc.Binding, []byte, error) {
		b, err := c.factory.ForDecryption(key, p.IV)
		return b, p.CipherText, err
	})
}

// RequestPresenceOnly issues a challenge that authorizes nothing.
func (c *Controller) RequestPresenceOnly(ctx context.Context) (string, error) {
	return c.request(ctx, IntentNone, nil)
}

// Cancel aborts the outstanding challenge and returns to Idle. The listener
// is not called for a cancelled challenge.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChallengeIssued {
		return false
	}
	c.cancelled = c.seq
	c.seq++
	id := c.challengeID
	c.state = Idle
	c.challengeID = ""
	c.unwatch()
	c.gate.Cancel()
	c.log.Info("challenge cancelled", logger.String("challenge_id", id))
	return true
}

type bindFunc func(keystore.Key) (*cbc.Binding, []byte, error)

func (c *Controller) request(ctx context.Context, intent Intent, bind bindFunc) (string, error) {
	seq, err := c.reserve()
	if err != nil {
		return "", err
	}

	var (
		op    biometric.Operation
		input []byte
	)
	if bind != nil {
		key, err := c.keys.GetOrCreateKey(c.keyName)
		if err != nil {
			c.release(seq)
			return "", err
		}
		binding, in, err := bind(key)
		if err != nil {
			c.release(seq)
			return "", err
		}
		op, input = binding, in
	}

	// Cancel may have run while the key was loading.
	c.mu.Lock()
	live := c.seq == seq && c.state == ChallengeIssued
	c.mu.Unlock()
	if !live {
		c.log.Debug("request cancelled before challenge", logger.Stringer("intent", intent))
		return "", ErrCancelled
	}

	id, err := c.gate.Authenticate(ctx, op, func(o biometric.Outcome) {
		c.resolve(seq, intent, input, o)
	})
	if err != nil {
		c.release(seq)
		return "", err
	}

	c.mu.Lock()
	switch {
	case c.seq == seq && c.state == ChallengeIssued:
		c.challengeID = id
		// The gate drops a challenge silently when ctx ends.
		c.stop = context.AfterFunc(ctx, func() { c.release(seq) })
	case c.cancelled == seq:
		// Cancel ran before the gate had the challenge pending.
		c.mu.Unlock()
		c.gate.CancelChallenge(id)
		c.log.Debug("request cancelled while presenting", logger.String("challenge_id", id))
		return "", ErrCancelled
	}
	c.mu.Unlock()

	c.log.Debug("challenge issued", logger.String("challenge_id", id), logger.Stringer("intent", intent))
	return id, nil
}

func (c *Controller) reserve() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChallengeIssued {
		return 0, ErrOperationInProgress
	}
	c.seq++
	c.state = ChallengeIssued
	c.challengeID = ""
	return c.seq, nil
}

func (c *Controller) release(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == seq && c.state == ChallengeIssued {
		c.state = Idle
		c.unwatch()
	}
}

// unwatch drops the context watch of the outstanding challenge. Called with
// c.mu held.
func (c *Controller) unwatch() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}

func (c *Controller) resolve(seq uint64, intent Intent, input []byte, outcome biometric.Outcome) {
	c.mu.Lock()
	if c.seq != seq || c.state != ChallengeIssued {
		c.mu.Unlock()
		c.log.Debug("dropping stale outcome", logger.Stringer("intent", intent))
		return
	}
	res := Result{ChallengeID: c.challengeID, Intent: intent}
	c.unwatch()

	switch o := outcome.(type) {
	case biometric.Succeeded:
		c.state = Authorized
		res.State = Authorized
		res.Notice = NoticeSucceeded
		c.execute(&res, o.Proof, input)
	case biometric.Failed:
		c.state = Rejected
		res.State = Rejected
		res.Notice = NoticeFailed
	case *biometric.Error:
		c.state = Errored
		res.State = Errored
		res.Err = o
		res.Notice = noticeError + o.Message
	default:
		c.state = Errored
		res.State = Errored
		res.Err = biometric.NewError(biometric.ErrorVendor, fmt.Sprintf("unexpected outcome %T", outcome))
		res.Notice = noticeError + fmt.Sprintf("unexpected outcome %T", outcome)
	}

	c.log.Info("challenge resolved",
		logger.String("challenge_id", res.ChallengeID),
		logger.Stringer("intent", intent),
		logger.Stringer("state", res.State))

	c.state = Idle
	c.challengeID = ""
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(res)
	}
}

// execute runs the authorized cipher. Called with c.mu held.
func (c *Controller) execute(res *Result, proof biometric.Proof, input []byte) {
	if res.Intent == IntentNone {
		return
	}
	cipher, ok := proof.(*cbc.Cipher)
	if !ok {
		res.Err = fmt.Errorf("%w: missing cipher proof", ErrCryptoOperationFailed)
		return
	}

	switch res.Intent {
	case IntentEncryptText:
		payload, err := cipher.Seal(input)
		keystore.Zero(input)
		if err != nil {
			res.Err = err
			c.log.Error("encrypt failed", logger.Error(err))
			return
		}
		c.payload = payload
		res.Payload = payload.Clone()
	case IntentDecryptText:
		plaintext, err := cipher.DoFinal(input)
		if err != nil {
			res.Err = err
			c.log.Error("decrypt failed", logger.Error(err))
			return
		}
		res.Plaintext = plaintext
	}
}
