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

package webauthn

import (
	"bytes"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// user is the single local account credentials are enrolled for.
type user struct {
	mu          sync.RWMutex
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func newUser(name, displayName string) *user {
	// Stable handle so a restarted process recognizes the same account.
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	return &user{id: id[:], name: name, displayName: displayName}
}

// WebAuthnID returns the user handle.
func (u *user) WebAuthnID() []byte {
	return u.id
}

// WebAuthnName returns the account name.
func (u *user) WebAuthnName() string {
	return u.name
}

// WebAuthnDisplayName returns the display name, falling back to the name.
func (u *user) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}

// WebAuthnCredentials returns a copy of the enrolled credentials.
func (u *user) WebAuthnCredentials() []webauthn.Credential {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]webauthn.Credential(nil), u.credentials...)
}

func (u *user) addCredential(cred webauthn.Credential) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.credentials = append(u.credentials, cred)
}

// updateCredential stores the new sign counter after a login.
func (u *user) updateCredential(cred *webauthn.Credential) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.credentials {
		if bytes.Equal(u.credentials[i].ID, cred.ID) {
			u.credentials[i].Authenticator.SignCount = cred.Authenticator.SignCount
			u.credentials[i].Authenticator.CloneWarning = cred.Authenticator.CloneWarning
			return
		}
	}
}

func (u *user) enrolled() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.credentials)
}

func (u *user) exclusions() []protocol.CredentialDescriptor {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]protocol.CredentialDescriptor, len(u.credentials))
	for i, cred := range u.credentials {
		out[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}
	return out
}

var _ webauthn.User = (*user)(nil)
