package types

import (
	"github.com/go-webauthn/webauthn/webauthn"
)

// BiometricBinding ties a platform credential to one wallet identity and
// carries the wrapped vault password released by a successful assertion.
// Credential and surrogate live in a single document so removal is atomic:
// there is never a dangling surrogate with no credential to release it.
type BiometricBinding struct {
	BaseDocument               `json:",inline"`
	WalletID                   string                `json:"walletId"`
	Name                       string                `json:"name"`
	DisplayName                string                `json:"displayName"`
	IdentityKind               IdentityKind          `json:"identityKind"`
	Credentials                []webauthn.Credential `json:"credentials"`
	EncryptedPasswordSurrogate []byte                `json:"encryptedPasswordSurrogate,omitempty"`
	Created                    int64                 `json:"created"`
}

// BiometricUser adapts a binding to the go-webauthn user contract.
type BiometricUser struct {
	ID          []byte
	Name        string
	DisplayName string
	Credentials []webauthn.Credential
}

func MapBindingToUser(b *BiometricBinding) *BiometricUser {
	return &BiometricUser{
		ID:          []byte(b.WalletID),
		Name:        b.Name,
		DisplayName: b.DisplayName,
		Credentials: b.Credentials,
	}
}

func (u *BiometricUser) WebAuthnID() []byte {
	return u.ID
}

func (u *BiometricUser) WebAuthnName() string {
	return u.Name
}

func (u *BiometricUser) WebAuthnDisplayName() string {
	return u.DisplayName
}

func (u *BiometricUser) WebAuthnCredentials() []webauthn.Credential {
	return u.Credentials
}

func (u *BiometricUser) WebAuthnIcon() string {
	return ""
}
