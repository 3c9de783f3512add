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

// Outcome is the resolution of one challenge: Succeeded, Failed or *Error.
type Outcome interface {
	isOutcome()
}

// Succeeded carries the single-use proof for the operation the challenge
// was issued for. Proof is nil for presence-only challenges.
type Succeeded struct {
	Proof Proof
}

func (Succeeded) isOutcome() {}

// Failed means the biometric was presented but not recognized. The caller
// may issue a new challenge.
type Failed struct{}

func (Failed) isOutcome() {}

// OutcomeName returns "succeeded", "failed" or "error".
func OutcomeName(o Outcome) string {
	switch o.(type) {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case *Error:
		return "error"
	default:
		return "unknown"
	}
}

// Operation is something a successful challenge can authorize. The cipher
// package's Binding is the only production implementation.
type Operation interface {
	// Authorize converts a verified assertion into a proof that can run the
	// operation exactly once.
	Authorize(assertion *Assertion) (Proof, error)
}

// Proof is the capability returned by Operation.Authorize.
type Proof interface {
	// Operation returns the operation this proof was issued for.
	Operation() Operation
}
