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

import "fmt"

// Availability is the mapped result of a capability query.
type Availability int

const (
	// Ready means the device can authenticate now.
	Ready Availability = iota
	// NoHardware means the device has no biometric hardware.
	NoHardware
	// HardwareUnavailable is a transient hardware condition.
	HardwareUnavailable
	// NotEnrolled means hardware is present but nothing is enrolled.
	NotEnrolled
)

func (a Availability) String() string {
	switch a {
	case Ready:
		return "ready"
	case NoHardware:
		return "no_hardware"
	case HardwareUnavailable:
		return "hardware_unavailable"
	case NotEnrolled:
		return "not_enrolled"
	default:
		return fmt.Sprintf("availability(%d)", int(a))
	}
}

// Message is the user-facing text for the availability.
func (a Availability) Message() string {
	switch a {
	case Ready:
		return "App can authenticate using biometrics."
	case NoHardware:
		return "No biometric features available on this device."
	case HardwareUnavailable:
		return "Biometric features are currently unavailable."
	case NotEnrolled:
		return "Biometrics not enrolled yet"
	default:
		return ""
	}
}

// MapCapability converts a platform status to an Availability. Statuses
// without a mapping yield ErrUnknownState.
func MapCapability(status CapabilityStatus) (Availability, error) {
	switch status {
	case StatusSuccess:
		return Ready, nil
	case StatusNoHardware:
		return NoHardware, nil
	case StatusHWUnavailable:
		return HardwareUnavailable, nil
	case StatusNoneEnrolled:
		return NotEnrolled, nil
	default:
		return 0, fmt.Errorf("%w: status %d", ErrUnknownState, int(status))
	}
}
