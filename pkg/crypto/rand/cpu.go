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

package rand

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Capabilities describes the entropy and cipher hardware of the host.
type Capabilities struct {
	Arch        string `json:"arch"`
	AESHardware bool   `json:"aes_hardware"`
	TPM2        bool   `json:"tpm2_compiled"`
	PKCS11      bool   `json:"pkcs11_compiled"`
}

// DetectCapabilities reports CPU AES support and which hardware sources
// were compiled in.
func DetectCapabilities() Capabilities {
	return Capabilities{
		Arch:        runtime.GOARCH,
		AESHardware: hasAES(),
		TPM2:        tpm2Available(),
		PKCS11:      pkcs11Available(),
	}
}

func hasAES() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}
