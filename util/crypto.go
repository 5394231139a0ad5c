package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/scrypt"
)

var (
	scryptN   = 32768 // N = CPU/memory cost parameter (suitable as of 2017)
	scryptR   = 8     // r and p must satisfy r * p < 2^30
	scryptP   = 1
	scryptLen = 32 // 32 bytes long
)

const (
	envelopeVersion = 1
	saltLength      = 16 // bytes
)

// BuildPasswordVerifier derives a scrypt hash of the password under a fresh
// random salt and returns it as a CBOR verifier envelope. The envelope never
// contains the password itself and cannot be used to decrypt the vault.
func BuildPasswordVerifier(password string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	hash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return nil, err
	}
	env := types.VerifierEnvelope{
		Version: envelopeVersion,
		Salt:    salt,
		ScryptN: scryptN,
		ScryptR: scryptR,
		ScryptP: scryptP,
		Hash:    hash,
	}
	return cbor.Marshal(env)
}

// VerifyPassword re-derives the scrypt hash with the envelope's stored
// parameters and compares in constant time.
func VerifyPassword(password string, verifier []byte) (bool, error) {
	var env types.VerifierEnvelope
	if err := cbor.Unmarshal(verifier, &env); err != nil {
		return false, types.ErrVaultCorrupt
	}
	if env.ScryptN == 0 || len(env.Salt) == 0 || len(env.Hash) == 0 {
		return false, types.ErrVaultCorrupt
	}
	hash, err := scrypt.Key([]byte(password), env.Salt, env.ScryptN, env.ScryptR, env.ScryptP, len(env.Hash))
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(hash, env.Hash) == 1, nil
}

// EncryptVault seals the plaintext (the wallet mnemonic or keystore blob)
// with AES-256-GCM under a scrypt-derived key and returns a CBOR vault
// envelope carrying the salt, nonce and scrypt parameters.
func EncryptVault(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	env := types.VaultEnvelope{
		Version: envelopeVersion,
		Salt:    salt,
		Nonce:   nonce,
		ScryptN: scryptN,
		ScryptR: scryptR,
		ScryptP: scryptP,
		Blob:    gcm.Seal(nil, nonce, plaintext, nil),
	}
	return cbor.Marshal(env)
}

// DecryptVault opens a CBOR vault envelope with the given password. A wrong
// password surfaces as ErrInvalidPassword (GCM authentication failure), a
// malformed envelope as ErrVaultCorrupt.
func DecryptVault(ciphertext []byte, password string) ([]byte, error) {
	var env types.VaultEnvelope
	if err := cbor.Unmarshal(ciphertext, &env); err != nil {
		return nil, types.ErrVaultCorrupt
	}
	if env.ScryptN == 0 || len(env.Salt) == 0 || len(env.Nonce) == 0 {
		return nil, types.ErrVaultCorrupt
	}
	key, err := scrypt.Key([]byte(password), env.Salt, env.ScryptN, env.ScryptR, env.ScryptP, scryptLen)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, types.ErrVaultCorrupt
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Blob, nil)
	if err != nil {
		return nil, types.ErrInvalidPassword
	}
	return plaintext, nil
}

// WrapSecret encrypts a small secret (the vault password surrogate stored
// alongside a biometric credential) with AES-256-GCM under a key derived
// from the credential ID. The nonce is prepended to the ciphertext.
func WrapSecret(secret []byte, credentialID []byte) ([]byte, error) {
	key, err := deriveWrapKey(credentialID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, secret, nil), nil
}

// UnwrapSecret reverses WrapSecret.
func UnwrapSecret(wrapped []byte, credentialID []byte) ([]byte, error) {
	key, err := deriveWrapKey(credentialID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, types.ErrBiometricCeremonyFailed
	}
	nonce, ciphertext := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	secret, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, types.ErrBiometricCeremonyFailed
	}
	return secret, nil
}

func deriveWrapKey(credentialID []byte) ([]byte, error) {
	if len(credentialID) == 0 {
		return nil, types.ErrBiometricCeremonyFailed
	}
	// salt the credential ID with its own hash so two credentials of equal
	// prefix never share a wrap key
	salt := sha256.Sum256(credentialID)
	return scrypt.Key(credentialID, salt[:], scryptN, scryptR, scryptP, scryptLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

const backupCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateBackupCode returns a lowercase alphanumeric recovery code from
// crypto/rand. Backup codes are authentication secrets; they never come from
// a seedable generator.
func GenerateBackupCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	code := make([]byte, length)
	for i, b := range buf {
		code[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(code), nil
}

// GenerateDeviceCode returns a 6-digit verification code from crypto/rand,
// zero-padded so leading zeros survive.
func GenerateDeviceCode() (string, error) {
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "", err
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}

// GenerateToken returns a URL-safe opaque token for challenge and session
// identifiers.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	sum := hash.Sum(nil)
	return hex.EncodeToString(sum)
}

// Signing message using ed25519
func Sign(message []byte, privateKey ed25519.PrivateKey) ([]byte, error) {
	if len(privateKey) != 64 {
		return nil, types.ErrInvalidPrivateKey
	}
	signature := ed25519.Sign(privateKey, message)
	return signature, nil
}

// Verify message signature using ed25519
func Verify(message []byte, signature []byte, publicKeyBase64 string) (bool, error) {
	pubKey, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return false, err
	}
	if len(pubKey) != 32 {
		return false, types.ErrInvalidPublicKey
	}

	if ed25519.Verify(pubKey, message, signature) {
		return true, nil
	}
	return false, nil
}

// Generated ed25519 signing key pair and returns base64 public key, private key
// returns publicKey, privateKey, error
func GenerateEd25519KeyPair() (*string, *string, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}

	pubKeyBase64 := base64.StdEncoding.EncodeToString(pubKey)
	privKeyBase64 := base64.StdEncoding.EncodeToString(privKey)
	return &pubKeyBase64, &privKeyBase64, nil
}
