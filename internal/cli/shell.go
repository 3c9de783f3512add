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
	"strings"
	"time"

	"github.com/jeremyhahn/go-biokey/internal/rest"
	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/spf13/cobra"
)

const shellHelp = `Commands:
  encrypt <text>  encrypt text after a biometric challenge
  decrypt         decrypt the last ciphertext after a biometric challenge
  presence        verify the user without using the key
  cancel          cancel the pending challenge
  status          show biometric availability and keystore health
  enroll          register a biometric credential
  help            show this help
  exit            leave the shell`

func newShellCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run an interactive biometric session",
		Long: `Run an interactive session that keeps one key, one authenticator and
the last ciphertext for its lifetime.

With --listen the session also serves /health/live, /health/ready,
/health/startup, /api/v1/status and Prometheus metrics on that address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if listen == "" {
				listen = a.cfg.Server.Listen
			}
			if listen != "" {
				stop, err := startListener(rt, listen)
				if err != nil {
					return err
				}
				defer stop()
			}

			sh := &shell{rt: rt, lines: a.lines, printer: a.printer(cmd), out: cmd.OutOrStdout()}
			return sh.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve health and metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func startListener(rt *Runtime, addr string) (func(), error) {
	srv, err := rest.NewServer(&rest.Config{
		Addr:           addr,
		Checker:        rt.Health,
		Status:         rt.SessionStatus,
		MetricsPath:    rt.Config.Metrics.Path,
		DisableMetrics: !rt.Config.Metrics.Enabled,
		Version:        Version,
		Logger:         rt.Logger,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil {
			rt.Logger.Error("Operations listener failed", logger.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}, nil
}

// shell is the interactive read-eval loop.
type shell struct {
	rt      *Runtime
	lines   *lineReader
	printer *Printer
	out     io.Writer
}

func (s *shell) run(ctx context.Context) error {
	fmt.Fprintln(s.out, "biokey shell. Type 'help' for commands.")
	for {
		fmt.Fprint(s.out, "biokey> ")
		line, err := s.lines.next(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := s.execute(ctx, line)
		if err != nil {
			_ = s.printer.PrintError(err)
		}
		if quit {
			return nil
		}
	}
}

// execute runs one shell line. Errors are reported, not fatal.
func (s *shell) execute(ctx context.Context, line string) (bool, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(verb) {
	case "":
		return false, nil
	case "exit", "quit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
		return false, nil
	case "status":
		return false, s.printer.PrintStatus(s.rt.Status(ctx))
	case "enroll":
		return false, s.rt.enroll(ctx, s.printer)
	case "cancel":
		if s.rt.Session.Cancel() {
			return false, s.printer.PrintSuccess("Challenge cancelled")
		}
		return false, s.printer.PrintSuccess("No challenge pending")
	case "encrypt":
		text := strings.TrimSpace(rest)
		if text == "" {
			return false, errors.New("usage: encrypt <text>")
		}
		return false, s.gated(ctx, func(ctx context.Context) (string, error) {
			return s.rt.Session.RequestEncrypt(ctx, []byte(text))
		})
	case "decrypt":
		return false, s.gated(ctx, s.rt.Session.RequestDecrypt)
	case "presence":
		return false, s.gated(ctx, s.rt.Session.RequestPresenceOnly)
	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for commands", verb)
	}
}

// gated prints the result of a request. A rejected or failed challenge has
// already been reported by its notice, so only request and cipher errors
// are returned.
func (s *shell) gated(ctx context.Context, request func(context.Context) (string, error)) error {
	res, err := s.rt.Run(ctx, request)
	if res.Notice == "" {
		return err
	}
	if perr := s.printer.PrintResult(res); perr != nil {
		return perr
	}
	if errors.Is(err, ErrNotAuthorized) {
		return nil
	}
	return err
}
