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

// Package password holds the keystore passphrase in memory and resolves it
// from configuration, the environment or an interactive prompt.
package password

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var (
	// ErrEmptyPassword is returned when an empty password is provided.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordZeroed is returned when the password has been zeroed.
	ErrPasswordZeroed = errors.New("password has been zeroed")
)

// ClearPassword stores a password in memory and zeroes it on Clear.
type ClearPassword struct {
	password []byte
}

// NewClearPassword copies password.
func NewClearPassword(password []byte) (*ClearPassword, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	p := make([]byte, len(password))
	copy(p, password)
	return &ClearPassword{password: p}, nil
}

// Bytes returns a copy of the password, or nil after Clear.
func (p *ClearPassword) Bytes() []byte {
	if p == nil || p.password == nil {
		return nil
	}
	out := make([]byte, len(p.password))
	copy(out, p.password)
	return out
}

// Clear zeroes the password. It cannot be read afterwards.
func (p *ClearPassword) Clear() {
	if p == nil || p.password == nil {
		return
	}
	subtle.ConstantTimeCopy(1, p.password, make([]byte, len(p.password)))
	p.password = nil
}

// Equal compares two passwords in constant time.
func Equal(a, b *ClearPassword) (bool, error) {
	ab, bb := a.Bytes(), b.Bytes()
	if ab == nil || bb == nil {
		return false, ErrPasswordZeroed
	}
	defer zero(ab)
	defer zero(bb)
	return subtle.ConstantTimeCompare(ab, bb) == 1, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Prompter reads a secret from the user.
type Prompter interface {
	ReadSecret(prompt string) ([]byte, error)
}

// Terminal prompts on a terminal without echo. When In is not a terminal
// the secret is read as one line.
type Terminal struct {
	In  *os.File
	Out io.Writer
}

// ReadSecret implements Prompter.
func (t *Terminal) ReadSecret(prompt string) ([]byte, error) {
	in, out := t.In, t.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprint(out, prompt)
	if term.IsTerminal(int(in.Fd())) {
		secret, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		return secret, err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// Resolve returns the configured passphrase, or prompts for one when
// configured is "-". An empty configured value means no passphrase and
// returns nil.
func Resolve(configured string, prompter Prompter) (*ClearPassword, error) {
	switch configured {
	case "":
		return nil, nil
	case "-":
		if prompter == nil {
			return nil, fmt.Errorf("password: no prompter available")
		}
		secret, err := prompter.ReadSecret("Keystore passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("password: failed to read passphrase: %w", err)
		}
		defer zero(secret)
		return NewClearPassword(secret)
	default:
		return NewClearPassword([]byte(configured))
	}
}
