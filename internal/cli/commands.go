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
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-biokey/internal/rest"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/session"
	"github.com/spf13/cobra"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report biometric availability and keystore health",
		Long: `Report whether the device can authenticate with biometrics, whether a
credential still has to be enrolled, and the health of the keystore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return a.printer(cmd).PrintStatus(rt.Status(cmd.Context()))
		},
	}
}

func newEnrollCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Register a biometric credential with the authenticator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.enroll(cmd.Context(), a.printer(cmd))
		},
	}
}

func newEncryptCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <text>",
		Short: "Encrypt text after a biometric challenge",
		Long: `Encrypt text with the AES key after a biometric challenge succeeds.
The ciphertext and IV are printed base64 encoded and stored so that a later
"biokey decrypt" can recover the text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return a.gated(cmd, func(ctx context.Context, rt *Runtime) (string, error) {
				return rt.Session.RequestEncrypt(ctx, []byte(text))
			})
		},
	}
}

func newDecryptCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt the stored ciphertext after a biometric challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.gated(cmd, func(ctx context.Context, rt *Runtime) (string, error) {
				return rt.Session.RequestDecrypt(ctx)
			})
		},
	}
}

func newPresenceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "Verify the user without using the key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.gated(cmd, func(ctx context.Context, rt *Runtime) (string, error) {
				return rt.Session.RequestPresenceOnly(ctx)
			})
		},
	}
}

// gated runs one request against a fresh runtime and prints its result.
func (a *app) gated(cmd *cobra.Command, request func(context.Context, *Runtime) (string, error)) error {
	rt, err := a.runtime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Run(cmd.Context(), func(ctx context.Context) (string, error) {
		return request(ctx, rt)
	})
	if res.Notice != "" {
		if perr := a.printer(cmd).PrintResult(res); perr != nil {
			return perr
		}
	}
	return err
}

// Status collects a StatusReport.
func (rt *Runtime) Status(ctx context.Context) *StatusReport {
	r := &StatusReport{
		Enrolled:     rt.Platform.Enrolled(),
		Keystore:     rt.Config.Keystore.Backend,
		KeyName:      rt.Config.Keystore.KeyName,
		RandomSource: string(rt.Rand.Mode()),
		AESHardware:  rand.DetectCapabilities().AESHardware,
		HasPayload:   rt.HasPayload(),
	}
	if availability, err := rt.Gate.CheckAvailability(ctx); err != nil {
		r.Availability = "unknown"
		r.Message = err.Error()
	} else {
		r.Availability = availability.String()
		r.Message = availability.Message()
	}
	r.CanEnroll = rt.Gate.CanOfferEnrollment(ctx)
	r.Checks = rt.Health.Ready(ctx)
	r.Health = health.AggregateStatus(r.Checks)
	return r
}

// SessionStatus adapts Status for the operations listener.
func (rt *Runtime) SessionStatus(ctx context.Context) (*rest.SessionStatus, error) {
	r := rt.Status(ctx)
	return &rest.SessionStatus{
		Availability: r.Availability,
		Message:      r.Message,
		CanEnroll:    r.CanEnroll,
		State:        rt.Session.State().String(),
		Pending:      rt.Session.State() == session.ChallengeIssued,
		HasPayload:   r.HasPayload,
		KeyName:      r.KeyName,
		Backend:      r.Keystore,
	}, nil
}

func (rt *Runtime) enroll(ctx context.Context, printer *Printer) error {
	if err := rt.Platform.Enroll(ctx); err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}
	return printer.PrintSuccess(fmt.Sprintf("Enrolled biometric credential for %q (%d enrolled)",
		rt.Config.Biometric.User, rt.Platform.Enrolled()))
}
