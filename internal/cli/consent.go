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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/biometric/webauthn"
)

// lineReader serializes line input between the shell and consent prompts.
// A single goroutine scans the input so a prompt can be abandoned when its
// context ends without losing the next line.
type lineReader struct {
	once  sync.Once
	in    io.Reader
	lines chan string
	err   error
}

func newLineReader(in io.Reader) *lineReader {
	return &lineReader{in: in, lines: make(chan string)}
}

func (r *lineReader) start() {
	r.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(r.in)
			for scanner.Scan() {
				r.lines <- scanner.Text()
			}
			r.err = scanner.Err()
			close(r.lines)
		}()
	})
}

// next returns the next line or io.EOF once the input is exhausted.
func (r *lineReader) next(ctx context.Context) (string, error) {
	r.start()
	select {
	case line, ok := <-r.lines:
		if !ok {
			if r.err != nil {
				return "", r.err
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// promptConsent returns a ConsentFunc that shows the prompt on out and
// reads the answer from lines. An empty answer accepts. End of input
// presses the negative button.
func promptConsent(lines *lineReader, out io.Writer) webauthn.ConsentFunc {
	return func(ctx context.Context, prompt biometric.PromptInfo) (webauthn.Decision, error) {
		fmt.Fprintf(out, "%s\n", prompt.Title)
		if prompt.Subtitle != "" {
			fmt.Fprintf(out, "%s\n", prompt.Subtitle)
		}
		negative := prompt.NegativeButtonText
		if negative == "" {
			negative = "Cancel"
		}
		for {
			fmt.Fprintf(out, "Touch the sensor? [Y]es / [n]o match / [c] %s: ", negative)
			line, err := lines.next(ctx)
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return webauthn.Cancel, nil
			}
			if err != nil {
				return webauthn.Cancel, err
			}
			if d, ok := parseDecision(line); ok {
				return d, nil
			}
			fmt.Fprintf(out, "Unrecognized answer %q\n", strings.TrimSpace(line))
		}
	}
}

func parseDecision(answer string) (webauthn.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return webauthn.Accept, true
	case "n", "no":
		return webauthn.Reject, true
	case "c", "cancel":
		return webauthn.Cancel, true
	case "lockout":
		return webauthn.Lockout, true
	default:
		return webauthn.Accept, false
	}
}
