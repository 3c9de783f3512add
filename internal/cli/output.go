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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/session"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatText, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatText, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format OutputFormat, writer io.Writer) *Printer {
	if format == "" {
		format = OutputFormatText
	}
	return &Printer{
		format: format,
		writer: writer,
	}
}

// StatusReport is what "biokey status" prints.
type StatusReport struct {
	Availability string               `json:"availability"`
	Message      string               `json:"message"`
	CanEnroll    bool                 `json:"can_enroll"`
	Enrolled     int                  `json:"enrolled"`
	Keystore     string               `json:"keystore"`
	KeyName      string               `json:"key_name"`
	RandomSource string               `json:"random_source"`
	AESHardware  bool                 `json:"aes_hardware"`
	HasPayload   bool                 `json:"has_payload"`
	Health       health.Status        `json:"health"`
	Checks       []health.CheckResult `json:"checks"`
}

// PrintStatus prints a StatusReport
func (p *Printer) PrintStatus(r *StatusReport) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(r)
	case OutputFormatText:
		fmt.Fprintln(p.writer, r.Message)
		if r.CanEnroll {
			fmt.Fprintln(p.writer, "Run 'biokey enroll' to register a biometric credential.")
		}
		fmt.Fprintf(p.writer, "  Availability:  %s\n", r.Availability)
		fmt.Fprintf(p.writer, "  Enrolled:      %d\n", r.Enrolled)
		fmt.Fprintf(p.writer, "  Keystore:      %s\n", r.Keystore)
		fmt.Fprintf(p.writer, "  Key:           %s\n", r.KeyName)
		fmt.Fprintf(p.writer, "  Random source: %s\n", r.RandomSource)
		fmt.Fprintf(p.writer, "  AES hardware:  %t\n", r.AESHardware)
		fmt.Fprintf(p.writer, "  Stored payload: %t\n", r.HasPayload)
		fmt.Fprintf(p.writer, "  Health:        %s\n", r.Health)
		for _, c := range r.Checks {
			line := fmt.Sprintf("    - %s: %s", c.Name, c.Status)
			if c.Message != "" {
				line += " (" + c.Message + ")"
			}
			if c.Error != "" {
				line += ": " + c.Error
			}
			fmt.Fprintln(p.writer, line)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintResult prints the outcome of a gated operation. Ciphertext and IV
// are base64 encoded.
func (p *Printer) PrintResult(res session.Result) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"challenge_id": res.ChallengeID,
			"intent":       res.Intent.String(),
			"state":        res.State.String(),
			"notice":       res.Notice,
		}
		if res.Payload != nil {
			out["ciphertext"] = base64.StdEncoding.EncodeToString(res.Payload.CipherText)
			out["iv"] = base64.StdEncoding.EncodeToString(res.Payload.IV)
		}
		if res.Intent == session.IntentDecryptText && res.Err == nil && res.State == session.Authorized {
			out["plaintext"] = res.Text()
		}
		if res.Err != nil {
			out["error"] = res.Err.Error()
		}
		return p.printJSON(out)
	case OutputFormatText:
		fmt.Fprintln(p.writer, res.Notice)
		if res.Err != nil {
			// reported by the caller
			return nil
		}
		if res.Payload != nil {
			fmt.Fprintf(p.writer, "Ciphertext: %s\n", base64.StdEncoding.EncodeToString(res.Payload.CipherText))
			fmt.Fprintf(p.writer, "IV:         %s\n", base64.StdEncoding.EncodeToString(res.Payload.IV))
		}
		if res.Intent == session.IntentDecryptText && res.State == session.Authorized {
			fmt.Fprintf(p.writer, "Plaintext:  %s\n", res.Text())
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
