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
	"io"
	"os"
	"strings"

	"github.com/jeremyhahn/go-biokey/internal/config"
	"github.com/jeremyhahn/go-biokey/internal/password"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes the environment variables bound to CLI flags, so
// BIOKEY_OUTPUT=json behaves like --output json.
const EnvPrefix = "BIOKEY"

// app carries the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	format OutputFormat
	lines  *lineReader
}

// NewRootCommand builds the biokey command tree.
func NewRootCommand() *cobra.Command {
	rootCmd, _ := newRootCommand()
	return rootCmd
}

func newRootCommand() (*cobra.Command, *app) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	a := &app{v: v, format: OutputFormatText}

	rootCmd := &cobra.Command{
		Use:   "biokey",
		Short: "go-biokey CLI - biometric-gated symmetric encryption",
		Long: `biokey encrypts and decrypts text with an AES key that can only be
used after a biometric challenge succeeds.

Each operation issues a challenge to the biometric platform. The key
stays in the keystore and is bound to a single cipher operation that is
released only when the challenge authorizes it.

Supported keystores:
  - software: AES keys sealed with Argon2id and AES-GCM
  - tpm2:     keys sealed by a TPM 2.0 (build tag tpm2)
  - pkcs11:   keys held in a PKCS#11 token (build tag pkcs11)`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.StringP("output", "o", "text", "output format (text, json)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("data-dir", "", "directory for keys and payloads")
	flags.String("storage", "", "storage backend (file, memory)")
	flags.String("keystore", "", "keystore backend (software, tpm2, pkcs11)")
	flags.String("key-name", "", "name of the AES key")
	flags.String("authenticator", "", "biometric authenticator (virtual, none)")
	flags.BoolP("yes", "y", false, "accept every biometric prompt without asking")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newVersionCommand(a),
		newStatusCommand(a),
		newEnrollCommand(a),
		newEncryptCommand(a),
		newDecryptCommand(a),
		newPresenceCommand(a),
		newShellCommand(a),
	)
	return rootCmd, a
}

// Execute runs the root command and prints any error to stderr.
func Execute(ctx context.Context) error {
	rootCmd, a := newRootCommand()
	return a.execute(ctx, rootCmd, os.Args[1:])
}

func (a *app) execute(ctx context.Context, rootCmd *cobra.Command, args []string) error {
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = NewPrinter(a.format, rootCmd.ErrOrStderr()).PrintError(err) // best-effort
		return err
	}
	return nil
}

// init loads the configuration and applies flag and environment overrides.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	format, err := ParseOutputFormat(a.v.GetString("output"))
	if err != nil {
		return err
	}
	a.format = format

	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	overrides := []struct {
		key    string
		target *string
	}{
		{"log-level", &cfg.Logging.Level},
		{"data-dir", &cfg.Storage.Path},
		{"storage", &cfg.Storage.Backend},
		{"keystore", &cfg.Keystore.Backend},
		{"key-name", &cfg.Keystore.KeyName},
		{"authenticator", &cfg.Biometric.Authenticator},
	}
	for _, o := range overrides {
		if s := a.v.GetString(o.key); s != "" {
			*o.target = s
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.lines = newLineReader(cmd.InOrStdin())
	return nil
}

func (a *app) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(a.format, cmd.OutOrStdout())
}

// runtime wires the components for cmd. Prompts go to stderr so that
// stdout carries only results.
func (a *app) runtime(cmd *cobra.Command) (*Runtime, error) {
	opts := &runtimeOptions{
		prompter:  a.prompter(cmd),
		logWriter: cmd.ErrOrStderr(),
	}
	if !a.v.GetBool("yes") {
		opts.consent = promptConsent(a.lines, cmd.ErrOrStderr())
	}
	return NewRuntime(cmd.Context(), a.cfg, opts)
}

func (a *app) prompter(cmd *cobra.Command) password.Prompter {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &password.Terminal{In: f, Out: cmd.ErrOrStderr()}
	}
	return &linePrompter{lines: a.lines, out: cmd.ErrOrStderr()}
}

// linePrompter reads a secret as one line of non-terminal input.
type linePrompter struct {
	lines *lineReader
	out   io.Writer
}

func (p *linePrompter) ReadSecret(prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.lines.next(context.Background())
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}
