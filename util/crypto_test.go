package util

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/tj/assert"
)

func TestPasswordVerifierRoundtrip(t *testing.T) {
	verifier, err := BuildPasswordVerifier("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyPassword("correct horse battery staple", verifier)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}
	ok, err = VerifyPassword("wrong password", verifier)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestVerifyPasswordCorruptEnvelope(t *testing.T) {
	_, err := VerifyPassword("anything", []byte("not cbor"))
	if !errors.Is(err, types.ErrVaultCorrupt) {
		t.Fatalf("expected ErrVaultCorrupt, got %v", err)
	}
}

func TestVaultEncryptDecrypt(t *testing.T) {
	mnemonic := []byte("legal winner thank year wave sausage worth useful legal winner thank yellow")
	ciphertext, err := EncryptVault(mnemonic, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := DecryptVault(ciphertext, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, mnemonic, plaintext)
}

func TestVaultDecryptWrongPassword(t *testing.T) {
	ciphertext, err := EncryptVault([]byte("secret"), "right")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecryptVault(ciphertext, "wrong")
	if !errors.Is(err, types.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestVaultDecryptCorrupt(t *testing.T) {
	_, err := DecryptVault([]byte{0x01, 0x02, 0x03}, "any")
	if !errors.Is(err, types.ErrVaultCorrupt) {
		t.Fatalf("expected ErrVaultCorrupt, got %v", err)
	}
}

func TestWrapUnwrapSecret(t *testing.T) {
	credentialID := []byte("credential-id-0001")
	wrapped, err := WrapSecret([]byte("vault password"), credentialID)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := UnwrapSecret(wrapped, credentialID)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []byte("vault password"), secret)

	// a different credential must not unwrap
	_, err = UnwrapSecret(wrapped, []byte("credential-id-0002"))
	if !errors.Is(err, types.ErrBiometricCeremonyFailed) {
		t.Fatalf("expected ErrBiometricCeremonyFailed, got %v", err)
	}
}

func TestGenerateDeviceCode(t *testing.T) {
	code, err := GenerateDeviceCode()
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in code %q", code)
		}
	}
}

func TestGenerateKeyPair(t *testing.T) {

	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pubKey, kErr := base64.StdEncoding.DecodeString(*pub)
	if kErr != nil {
		t.Fatal(kErr)
	}
	privKey, kErr := base64.StdEncoding.DecodeString(*priv)
	if kErr != nil {
		t.Fatal(kErr)
	}
	if len(pubKey) != 32 {
		t.Fatal("invalid public key length")
	}
	if len(privKey) != 64 {
		t.Fatal("invalid private key length")
	}
}

func TestSignMessage(t *testing.T) {
	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	base64Priv, _ := base64.StdEncoding.DecodeString(*priv)
	message := []byte("hello world")
	signature, err := Sign(message, base64Priv)
	if err != nil {
		t.Fatal(err)
	}
	if len(signature) != 64 {
		t.Fatal("invalid signature length")
	}
	verified, err := Verify(message, signature, *pub)
	if err != nil {
		t.Fatal(err)
	}
	if !verified {
		t.Fatal("invalid signature")
	}
}

func TestGenerateBackupCode(t *testing.T) {
	code, err := GenerateBackupCode(10)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, code, 10)
	for _, c := range code {
		if !strings.ContainsRune(backupCodeAlphabet, c) {
			t.Fatalf("unexpected character %q in backup code", c)
		}
	}
	other, err := GenerateBackupCode(10)
	if err != nil {
		t.Fatal(err)
	}
	assert.NotEqual(t, code, other)
}
