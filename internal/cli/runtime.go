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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jeremyhahn/go-biokey/internal/config"
	"github.com/jeremyhahn/go-biokey/internal/password"
	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/biometric/webauthn"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/cbc"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/pkcs11"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/tpm2"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/jeremyhahn/go-biokey/pkg/session"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/storage/file"
	"github.com/jeremyhahn/go-biokey/pkg/storage/memory"
)

// ErrNotAuthorized is returned by the one-shot commands when the challenge
// did not authorize the operation.
var ErrNotAuthorized = errors.New("biometric authentication did not authorize the operation")

// Runtime is the wired set of components behind every command.
type Runtime struct {
	Config     *config.Config
	Logger     logger.Logger
	Storage    storage.Backend
	Keys       *keystore.SecretStore
	Rand       rand.Resolver
	Platform   *webauthn.Platform
	Gate       *biometric.Gate
	Session    *session.Controller
	Health     *health.Checker
	passphrase *password.ClearPassword
	results    chan session.Result
}

type runtimeOptions struct {
	// consent answers authenticator prompts. Nil accepts every prompt.
	consent webauthn.ConsentFunc

	// prompter reads the keystore passphrase when it is configured as "-".
	prompter password.Prompter

	logWriter io.Writer
}

// NewRuntime wires storage, keystore, randomness, the biometric platform,
// the gate and the session controller from cfg. A payload persisted by an
// earlier run is restored into the controller.
func NewRuntime(ctx context.Context, cfg *config.Config, opts *runtimeOptions) (rt *Runtime, err error) {
	if opts == nil {
		opts = &runtimeOptions{}
	}
	rt = &Runtime{
		Config:  cfg,
		Logger:  newLogger(cfg, opts.logWriter),
		Health:  health.NewChecker(),
		results: make(chan session.Result, 1),
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	if rt.Storage, err = newStorage(cfg); err != nil {
		return nil, err
	}

	if rt.Rand, err = rand.NewResolver(randConfig(cfg)); err != nil {
		return nil, fmt.Errorf("failed to create random source: %w", err)
	}

	opener, err := rt.newOpener(opts.prompter)
	if err != nil {
		return nil, err
	}
	params := keystore.DefaultKeyParams()
	params.KeySize = cfg.Keystore.KeySize
	params.UserAuthenticationRequired = cfg.Keystore.UserAuthenticationRequired
	rt.Keys, err = keystore.NewSecretStore(&keystore.Config{
		Opener:    opener,
		KeyParams: params,
		Logger:    rt.Logger,
	})
	if err != nil {
		return nil, err
	}

	wcfg := webauthnConfig(cfg)
	var authenticator webauthn.Authenticator
	if cfg.Biometric.Authenticator == "virtual" {
		consent := opts.consent
		if consent == nil {
			consent = webauthn.AlwaysAccept
		}
		authenticator = webauthn.NewVirtualAuthenticator(wcfg, webauthn.WithConsent(consent))
	}
	rt.Platform, err = webauthn.New(&webauthn.Params{
		Config:        wcfg,
		Authenticator: authenticator,
		Logger:        rt.Logger,
	})
	if err != nil {
		return nil, err
	}
	if authenticator != nil && cfg.Biometric.AutoEnroll {
		if err := rt.Platform.Enroll(ctx); err != nil {
			return nil, fmt.Errorf("failed to enroll authenticator: %w", err)
		}
	}

	prompt := cfg.Biometric.Prompt
	rt.Gate, err = biometric.NewGate(&biometric.GateParams{
		Platform: rt.Platform,
		Prompt:   &prompt,
		Logger:   rt.Logger,
	})
	if err != nil {
		return nil, err
	}

	rt.Session, err = session.New(&session.Params{
		Keys: rt.Keys,
		Gate: rt.Gate,
		Factory: cbc.NewFactory(&cbc.FactoryParams{
			Rand:   rt.Rand,
			Logger: rt.Logger,
		}),
		KeyName:  cfg.Keystore.KeyName,
		Listener: func(res session.Result) { rt.results <- res },
		Logger:   rt.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := rt.restorePayload(); err != nil {
		return nil, err
	}

	rt.Health.RegisterCheck("keystore", health.KeystoreCheck(rt.Keys))
	rt.Health.RegisterCheck("biometric", health.BiometricCheck(rt.Gate))
	rt.Health.MarkStarted()
	return rt, nil
}

// Await blocks until the challenge id resolves, persisting an encrypted
// payload. When ctx ends first the challenge is cancelled.
func (rt *Runtime) Await(ctx context.Context, id string) (session.Result, error) {
	for {
		select {
		case res := <-rt.results:
			if res.ChallengeID != "" && res.ChallengeID != id {
				rt.Logger.Debug("Discarding result for another challenge",
					logger.String("challenge_id", res.ChallengeID))
				continue
			}
			if err := rt.persist(res); err != nil {
				return res, err
			}
			return res, nil
		case <-ctx.Done():
			rt.Session.Cancel()
			return session.Result{}, ctx.Err()
		}
	}
}

// Run issues one request and waits for its result. A result that did not
// authorize the operation, or whose cipher failed, is returned together
// with an error.
func (rt *Runtime) Run(ctx context.Context, request func(context.Context) (string, error)) (session.Result, error) {
	id, err := request(ctx)
	if err != nil {
		return session.Result{}, err
	}
	res, err := rt.Await(ctx, id)
	if err != nil {
		return res, err
	}
	switch {
	case res.State != session.Authorized && res.Err != nil:
		return res, fmt.Errorf("%w: %w", ErrNotAuthorized, res.Err)
	case res.State != session.Authorized:
		return res, ErrNotAuthorized
	default:
		return res, res.Err
	}
}

// HasPayload reports whether a ciphertext is available for decryption.
func (rt *Runtime) HasPayload() bool {
	return rt.Session.Payload() != nil
}

// Close releases every component. It is safe to call on a partially
// constructed Runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Session != nil {
		rt.Session.Cancel()
	}
	if rt.Keys != nil {
		errs = append(errs, rt.Keys.Close())
	}
	if rt.Rand != nil {
		errs = append(errs, rt.Rand.Close())
	}
	if rt.Storage != nil {
		errs = append(errs, rt.Storage.Close())
	}
	if rt.passphrase != nil {
		rt.passphrase.Clear()
	}
	return errors.Join(errs...)
}

func (rt *Runtime) persist(res session.Result) error {
	if res.Intent != session.IntentEncryptText || res.State != session.Authorized || res.Payload == nil {
		return nil
	}
	data, err := res.Payload.MarshalBinary()
	if err != nil {
		return err
	}
	if err := storage.SavePayload(rt.Storage, rt.Config.Keystore.KeyName, data); err != nil {
		return fmt.Errorf("failed to persist payload: %w", err)
	}
	return nil
}

func (rt *Runtime) restorePayload() error {
	data, err := storage.GetPayload(rt.Storage, rt.Config.Keystore.KeyName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payload: %w", err)
	}
	var p cbc.EncryptedPayload
	if err := p.UnmarshalBinary(data); err != nil {
		rt.Logger.Warn("Ignoring unreadable stored payload", logger.Error(err))
		return nil
	}
	return rt.Session.Restore(&p)
}

func (rt *Runtime) newOpener(prompter password.Prompter) (keystore.Opener, error) {
	cfg := rt.Config
	switch cfg.Keystore.Backend {
	case software.BackendName:
		if prompter == nil {
			prompter = &password.Terminal{In: os.Stdin, Out: os.Stderr}
		}
		pass, err := password.Resolve(cfg.Keystore.Passphrase, prompter)
		if err != nil {
			return nil, err
		}
		rt.passphrase = pass
		var secret []byte
		if pass != nil {
			secret = pass.Bytes()
		}
		return software.NewOpener(&software.Config{
			Storage:    rt.Storage,
			Passphrase: secret,
			Rand:       rt.Rand,
		}), nil
	case "tpm2":
		tcfg := cfg.TPM2
		tcfg.Storage = rt.Storage
		tcfg.Logger = rt.Logger
		return tpm2.NewOpener(&tcfg), nil
	case "pkcs11":
		pcfg := cfg.PKCS11
		return pkcs11.NewOpener(&pcfg), nil
	default:
		return nil, fmt.Errorf("unknown keystore backend: %s", cfg.Keystore.Backend)
	}
}

func newLogger(cfg *config.Config, w io.Writer) logger.Logger {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	if w == nil {
		w = os.Stderr
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Writer: w,
	})
}

func newStorage(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), nil
	case "file", "":
		s, err := file.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func randConfig(cfg *config.Config) *rand.Config {
	rc := &rand.Config{
		Mode:         rand.Mode(cfg.Random.Mode),
		FallbackMode: rand.Mode(cfg.Random.FallbackMode),
		TPM2: &rand.TPM2Config{
			Device:        cfg.TPM2.DevicePath,
			UseSimulator:  cfg.TPM2.UseSimulator,
			SimulatorType: cfg.TPM2.SimulatorType,
			SimulatorHost: cfg.TPM2.SimulatorHost,
			SimulatorPort: cfg.TPM2.SimulatorPort,
		},
	}
	if cfg.PKCS11.Library != "" {
		rc.PKCS11 = &rand.PKCS11Config{
			Module:      cfg.PKCS11.Library,
			PINRequired: cfg.PKCS11.PIN != "",
			PIN:         cfg.PKCS11.PIN,
		}
		if cfg.PKCS11.Slot != nil && *cfg.PKCS11.Slot >= 0 {
			rc.PKCS11.SlotID = uint(*cfg.PKCS11.Slot)
		}
	}
	return rc
}

func webauthnConfig(cfg *config.Config) *webauthn.Config {
	b := cfg.Biometric
	wcfg := &webauthn.Config{
		RPID:            b.RPID,
		RPDisplayName:   b.RPDisplayName,
		RPOrigin:        b.RPOrigin,
		UserName:        b.User,
		UserDisplayName: b.UserDisplayName,
		Timeout:         b.Timeout,
		MaxAttempts:     b.MaxAttempts,
		LockoutDuration: b.Lockout,
	}
	wcfg.SetDefaults()
	return wcfg
}
