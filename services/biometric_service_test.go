package services

import (
	"testing"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/tj/assert"
)

func TestBindingIsPerWallet(t *testing.T) {
	kit := newUnlockTestKit(t)
	bio := NewBiometricService(kit.selector, kit.env)

	cred := &webauthn.Credential{ID: []byte("credential-a")}
	_, err := bio.SaveBinding("wallet-a", types.IdentityKindEmail, "wallet-a", "Wallet A", cred, "vault-pw-a")
	assert.NoError(t, err)

	// another wallet never sees the binding, let alone the surrogate
	_, gErr := bio.GetBinding("wallet-b")
	assert.Equal(t, types.ErrBiometricUnavailable, gErr)

	binding, gErr := bio.GetBinding("wallet-a")
	assert.NoError(t, gErr)
	assert.Equal(t, "wallet-a", binding.WalletID)
}

func TestReleasePasswordSurvivesAddedCredential(t *testing.T) {
	kit := newUnlockTestKit(t)
	bio := NewBiometricService(kit.selector, kit.env)

	first := &webauthn.Credential{ID: []byte("credential-1")}
	_, err := bio.SaveBinding("wallet-c", types.IdentityKindEmail, "wallet-c", "Wallet C", first, "vault-pw-c")
	assert.NoError(t, err)
	assert.NoError(t, bio.AddCredential("wallet-c", &webauthn.Credential{ID: []byte("credential-2")}))

	// the surrogate stays wrapped under the first credential: an assertion
	// from either authenticator releases the same password
	binding, gErr := bio.GetBinding("wallet-c")
	assert.NoError(t, gErr)
	assert.Len(t, binding.Credentials, 2)

	password, rErr := bio.ReleasePassword(binding)
	assert.NoError(t, rErr)
	assert.Equal(t, "vault-pw-c", password)
}

func TestRemoveBindingDropsSurrogate(t *testing.T) {
	kit := newUnlockTestKit(t)
	bio := NewBiometricService(kit.selector, kit.env)

	cred := &webauthn.Credential{ID: []byte("credential-x")}
	_, err := bio.SaveBinding("wallet-d", types.IdentityKindEmail, "wallet-d", "Wallet D", cred, "vault-pw-d")
	assert.NoError(t, err)

	assert.NoError(t, bio.RemoveBinding("wallet-d"))
	_, gErr := bio.GetBinding("wallet-d")
	assert.Equal(t, types.ErrBiometricUnavailable, gErr)
}
