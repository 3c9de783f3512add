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

package cbc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

const payloadVersion = 0x01

var (
	// ErrPartialPayload is returned when only one of ciphertext and IV is set.
	ErrPartialPayload = errors.New("cbc: payload requires both ciphertext and IV")

	// ErrEmptyPayload is returned when neither ciphertext nor IV is set.
	ErrEmptyPayload = errors.New("cbc: empty payload")
)

// EncryptedPayload is the result of a successful encryption. Both fields
// are always set.
type EncryptedPayload struct {
	CipherText []byte
	IV         []byte
}

// NewEncryptedPayload validates and copies ct and iv.
func NewEncryptedPayload(ct, iv []byte) (*EncryptedPayload, error) {
	switch {
	case len(ct) == 0 && len(iv) == 0:
		return nil, ErrEmptyPayload
	case len(ct) == 0 || len(iv) == 0:
		return nil, ErrPartialPayload
	case len(iv) != types.BlockSize:
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidIV, len(iv))
	case len(ct)%types.BlockSize != 0:
		return nil, fmt.Errorf("cbc: ciphertext length %d is not block aligned", len(ct))
	}
	return &EncryptedPayload{
		CipherText: append([]byte(nil), ct...),
		IV:         append([]byte(nil), iv...),
	}, nil
}

// Clone returns a deep copy.
func (p *EncryptedPayload) Clone() *EncryptedPayload {
	if p == nil {
		return nil
	}
	return &EncryptedPayload{
		CipherText: append([]byte(nil), p.CipherText...),
		IV:         append([]byte(nil), p.IV...),
	}
}

// MarshalBinary encodes the payload for storage.
//
// Wire format (version 1):
//
//	┌────────────────────────────────────────────────┐
//	│ Version: 1 byte (0x01)                         │
//	├────────────────────────────────────────────────┤
//	│ IV Length: 2 bytes (big-endian uint16)         │
//	│ IV: variable bytes                             │
//	├────────────────────────────────────────────────┤
//	│ Ciphertext Length: 4 bytes (big-endian uint32) │
//	│ Ciphertext: variable bytes                     │
//	└────────────────────────────────────────────────┘
func (p *EncryptedPayload) MarshalBinary() ([]byte, error) {
	if _, err := NewEncryptedPayload(p.CipherText, p.IV); err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(payloadVersion)
	// #nosec G115 - IV length is validated to be one block
	if err := binary.Write(buf, binary.BigEndian, uint16(len(p.IV))); err != nil {
		return nil, fmt.Errorf("cbc: failed to write IV length: %w", err)
	}
	buf.Write(p.IV)
	if uint64(len(p.CipherText)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("cbc: ciphertext too long: %d bytes", len(p.CipherText))
	}
	// #nosec G115 - length is validated above
	if err := binary.Write(buf, binary.BigEndian, uint32(len(p.CipherText))); err != nil {
		return nil, fmt.Errorf("cbc: failed to write ciphertext length: %w", err)
	}
	buf.Write(p.CipherText)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (p *EncryptedPayload) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("cbc: payload too short")
	}
	if version != payloadVersion {
		return fmt.Errorf("cbc: unsupported payload version 0x%02x", version)
	}

	var ivLen uint16
	if err := binary.Read(r, binary.BigEndian, &ivLen); err != nil {
		return fmt.Errorf("cbc: failed to read IV length: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(r, iv); err != nil {
		return fmt.Errorf("cbc: failed to read IV: %w", err)
	}

	var ctLen uint32
	if err := binary.Read(r, binary.BigEndian, &ctLen); err != nil {
		return fmt.Errorf("cbc: failed to read ciphertext length: %w", err)
	}
	if int64(ctLen) > int64(r.Len()) {
		return fmt.Errorf("cbc: ciphertext length %d exceeds payload", ctLen)
	}
	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(r, ct); err != nil {
		return fmt.Errorf("cbc: failed to read ciphertext: %w", err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("cbc: %d trailing bytes after payload", r.Len())
	}

	decoded, err := NewEncryptedPayload(ct, iv)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}
