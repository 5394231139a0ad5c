package types

import "errors"

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is returned on invalid input parameters
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unhandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrInvalidEmail is returned when the email is invalid
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrIdentityExists is returned when a wallet identity already exists
	ErrIdentityExists = errors.New("identity already exists")

	// ErrInvalidPublicKey is returned when an ed25519 public key is malformed
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned when an ed25519 private key is malformed
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrNotAuthorized is returned when the caller lacks access to a resource
	ErrNotAuthorized = errors.New("not authorized")
)

// Unlock failure taxonomy. Every failed gate resolves to exactly one of
// these so the client can show a specific, actionable message.
var (
	ErrInvalidPassword            = errors.New("invalid password")
	ErrRateLimited                = errors.New("rate limited")
	ErrDeviceUntrusted            = errors.New("device untrusted")
	ErrDeviceChallengeExpired     = errors.New("device challenge expired")
	ErrDeviceChallengeExhausted   = errors.New("device challenge exhausted")
	ErrDeviceCodeMismatch         = errors.New("device verification code mismatch")
	ErrSecondFactorInvalid        = errors.New("second factor invalid")
	ErrSecondFactorExpiredSession = errors.New("second factor session expired")
	ErrBiometricUnavailable       = errors.New("biometric unavailable")
	ErrBiometricCeremonyFailed    = errors.New("biometric ceremony failed")
	ErrVaultCorrupt               = errors.New("vault corrupt")
	ErrNoVaultPresent             = errors.New("no vault present")
	ErrNetworkUnavailable         = errors.New("network unavailable")
	ErrInvalidMnemonic            = errors.New("invalid mnemonic phrase")
	ErrUnlockInProgress           = errors.New("unlock already in progress")
)
