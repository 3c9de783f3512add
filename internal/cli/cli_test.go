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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-biokey/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	cmd, a := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := a.execute(context.Background(), cmd, args)
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// dataDir returns flags that keep keys and payloads in a test directory.
func dataDir(t *testing.T) []string {
	t.Helper()
	return []string{"--data-dir", t.TempDir(), "--log-level", "error"}
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "biokey version "+Version)

	res = runCLI(t, "", "version", "-o", "json")
	require.NoError(t, res.err)
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, Version, out["version"])
}

func TestInvalidOutputFormat(t *testing.T) {
	res := runCLI(t, "", "status", "-o", "yaml")
	assert.Error(t, res.err)
	assert.Contains(t, res.stderr, "unknown output format")
}

func TestStatus(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "status")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "App can authenticate using biometrics.")
	assert.Contains(t, res.stdout, "Keystore:      software")
	assert.NotContains(t, res.stdout, "biokey enroll")
}

func TestStatus_JSON(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "status", "-o", "json")...)
	require.NoError(t, res.err)

	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, "ready", report.Availability)
	assert.Equal(t, 1, report.Enrolled)
	assert.False(t, report.HasPayload)
	assert.Equal(t, session.DefaultKeyName, report.KeyName)
	assert.Equal(t, "software", report.RandomSource)
	assert.NotEmpty(t, report.Checks)
}

func TestStatus_NoAuthenticator(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "status", "--authenticator", "none")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No biometric features available on this device.")
	assert.Contains(t, res.stdout, "no_hardware")
}

func TestEnroll(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "enroll")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Enrolled biometric credential")
	assert.Contains(t, res.stdout, "(2 enrolled)")
}

func TestEnroll_NoAuthenticator(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "enroll", "--authenticator", "none")...)
	assert.Error(t, res.err)
	assert.Contains(t, res.stderr, "enrollment failed")
}

func TestEncryptDecrypt_AcrossInvocations(t *testing.T) {
	flags := dataDir(t)

	res := runCLI(t, "", append(flags, "encrypt", "--yes", "hello", "world")...)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, session.NoticeSucceeded)
	assert.Contains(t, res.stdout, "Ciphertext: ")
	assert.Contains(t, res.stdout, "IV:         ")

	res = runCLI(t, "", append(flags, "decrypt", "--yes")...)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, session.NoticeSucceeded)
	assert.Contains(t, res.stdout, "Plaintext:  hello world")
}

func TestEncrypt_JSON(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "encrypt", "-y", "-o", "json", "hello")...)
	require.NoError(t, res.err, res.stderr)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "authorized", out["state"])
	assert.Equal(t, "encrypt_text", out["intent"])

	iv, err := base64.StdEncoding.DecodeString(out["iv"])
	require.NoError(t, err)
	assert.Len(t, iv, 16)

	ct, err := base64.StdEncoding.DecodeString(out["ciphertext"])
	require.NoError(t, err)
	assert.Len(t, ct, 16)
}

func TestDecrypt_NoPriorCiphertext(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "decrypt", "--yes")...)
	assert.ErrorIs(t, res.err, session.ErrNoPriorCiphertext)
	assert.Empty(t, res.stdout)
}

func TestEncrypt_Consent(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		wantNotice string
		wantErr    bool
	}{
		{"accept", "y\n", session.NoticeSucceeded, false},
		{"accept default", "\n", session.NoticeSucceeded, false},
		{"no match", "n\n", session.NoticeFailed, true},
		{"negative button", "c\n", "Authentication error: Cancel", true},
		{"lockout", "lockout\n", "Authentication error: Too many attempts. Try again later.", true},
		{"retry after unknown answer", "maybe\nyes\n", session.NoticeSucceeded, false},
		{"end of input", "", "Authentication error: Cancel", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, tt.answer, append(dataDir(t), "encrypt", "secret")...)
			assert.Contains(t, res.stdout, tt.wantNotice)
			assert.Contains(t, res.stderr, "Biometric login for Playground")
			if tt.wantErr {
				assert.ErrorIs(t, res.err, ErrNotAuthorized)
				assert.NotContains(t, res.stdout, "Ciphertext:")
			} else {
				assert.NoError(t, res.err)
			}
		})
	}
}

func TestPresence(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "presence", "--yes")...)
	require.NoError(t, res.err)
	assert.Equal(t, session.NoticeSucceeded+"\n", res.stdout)
}

func TestPresence_NoAuthenticator(t *testing.T) {
	res := runCLI(t, "", append(dataDir(t), "presence", "--authenticator", "none")...)
	assert.Error(t, res.err)
	assert.Empty(t, res.stdout)
}

func TestUnknownStorage(t *testing.T) {
	res := runCLI(t, "", "--storage", "s3", "status")
	assert.Error(t, res.err)
}

func TestShell(t *testing.T) {
	input := strings.Join([]string{
		"help",
		"decrypt",
		"encrypt hello shell",
		"decrypt",
		"cancel",
		"bogus",
		"encrypt",
		"exit",
	}, "\n") + "\n"

	res := runCLI(t, input, "--storage", "memory", "--log-level", "error", "--yes", "shell")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "encrypt <text>")
	assert.Contains(t, res.stdout, session.ErrNoPriorCiphertext.Error())
	assert.Contains(t, res.stdout, "Ciphertext: ")
	assert.Contains(t, res.stdout, "Plaintext:  hello shell")
	assert.Contains(t, res.stdout, "No challenge pending")
	assert.Contains(t, res.stdout, `unknown command "bogus"`)
	assert.Contains(t, res.stdout, "usage: encrypt <text>")
}

func TestShell_ConsentSharesInput(t *testing.T) {
	input := "encrypt hi\ny\ndecrypt\nn\ndecrypt\nyes\nstatus\n"

	res := runCLI(t, input, "--storage", "memory", "--log-level", "error", "shell")
	require.NoError(t, res.err)

	assert.Equal(t, 3, strings.Count(res.stderr, "Touch the sensor?"))
	assert.Contains(t, res.stdout, session.NoticeFailed)
	assert.Contains(t, res.stdout, "Plaintext:  hi")
	assert.Contains(t, res.stdout, "Stored payload: true")
}

func TestParseDecision(t *testing.T) {
	_, ok := parseDecision("perhaps")
	assert.False(t, ok)
	for _, in := range []string{"", "Y", " yes ", "n", "NO", "c", "cancel", "lockout"} {
		_, ok := parseDecision(in)
		assert.True(t, ok, in)
	}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatText, f)

	f, err = ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	_, err = ParseOutputFormat("table")
	assert.Error(t, err)
}
