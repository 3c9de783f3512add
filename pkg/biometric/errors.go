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

package biometric

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeAlreadyPending is returned by Authenticate while another
	// challenge is outstanding. The pending challenge is not affected.
	ErrChallengeAlreadyPending = errors.New("biometric: challenge already pending")

	// ErrUnknownState is returned when the platform reports a capability
	// status that has no Availability mapping.
	ErrUnknownState = errors.New("biometric: unknown capability state")

	// ErrNotRecognized is reported by platforms when the presented
	// biometric did not match. It maps to the Failed outcome.
	ErrNotRecognized = errors.New("biometric: not recognized")

	// ErrNoPlatform is returned by NewGate without a platform.
	ErrNoPlatform = errors.New("biometric: platform is required")
)

// ErrorCode is a platform biometric error code.
type ErrorCode int

const (
	ErrorHWUnavailable    ErrorCode = 1
	ErrorUnableToProcess  ErrorCode = 2
	ErrorTimeout          ErrorCode = 3
	ErrorNoSpace          ErrorCode = 4
	ErrorCanceled         ErrorCode = 5
	ErrorLockout          ErrorCode = 7
	ErrorVendor           ErrorCode = 8
	ErrorLockoutPermanent ErrorCode = 9
	ErrorUserCanceled     ErrorCode = 10
	ErrorNoBiometrics     ErrorCode = 11
	ErrorHWNotPresent     ErrorCode = 12
	ErrorNegativeButton   ErrorCode = 13
)

var errorCodeNames = map[ErrorCode]string{
	ErrorHWUnavailable:    "HW_UNAVAILABLE",
	ErrorUnableToProcess:  "UNABLE_TO_PROCESS",
	ErrorTimeout:          "TIMEOUT",
	ErrorNoSpace:          "NO_SPACE",
	ErrorCanceled:         "CANCELED",
	ErrorLockout:          "LOCKOUT",
	ErrorVendor:           "VENDOR",
	ErrorLockoutPermanent: "LOCKOUT_PERMANENT",
	ErrorUserCanceled:     "USER_CANCELED",
	ErrorNoBiometrics:     "NO_BIOMETRICS",
	ErrorHWNotPresent:     "HW_NOT_PRESENT",
	ErrorNegativeButton:   "NEGATIVE_BUTTON",
}

// String returns the platform name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Error is a platform-reported authentication error. It is terminal for the
// challenge it resolves and is surfaced verbatim.
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError returns an *Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("biometric: %s (%d): %s", e.Code, int(e.Code), e.Message)
}

func (*Error) isOutcome() {}
