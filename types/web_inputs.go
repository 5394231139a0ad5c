package types

// InputUnlock starts (or restarts) an unlock attempt for the active identity.
type InputUnlock struct {
	IdentityID  string             `json:"identityId" validate:"required"`
	Kind        IdentityKind       `json:"kind" validate:"required"`
	Password    string             `json:"password" validate:"required"`
	DeviceID    string             `json:"deviceId"`
	Fingerprint *DeviceFingerprint `json:"fingerprint,omitempty"`
}

// InputDeviceCode submits the emailed 6-digit code for a pending challenge.
type InputDeviceCode struct {
	Token string `json:"token" validate:"required"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// InputSecondFactor submits a TOTP or backup code for the pending attempt
// identified by the token the unlock flow handed out.
type InputSecondFactor struct {
	Token        string `json:"token" validate:"required"`
	Code         string `json:"code" validate:"required"`
	IsBackupCode bool   `json:"isBackupCode"`
}

// InputBiometricUnlock carries the assertion response of a biometric
// shortcut attempt.
type InputBiometricUnlock struct {
	WalletID          string                         `json:"walletId" validate:"required"`
	AssertionResponse *WebauthnAssertionResponseJSON `json:"assertionResponse" validate:"required"`
	DeviceID          string                         `json:"deviceId"`
	Fingerprint       *DeviceFingerprint             `json:"fingerprint,omitempty"`
}

// InputBiometricRegisterVerify finishes a biometric registration ceremony and
// stores the wrapped vault password surrogate in the same step.
type InputBiometricRegisterVerify struct {
	WalletID            string                           `json:"walletId" validate:"required"`
	IdentityKind        IdentityKind                     `json:"identityKind" validate:"required"`
	DisplayName         string                           `json:"displayName"`
	AttestationResponse *WebauthnAttestationResponseJSON `json:"attestationResponse" validate:"required"`
	Password            string                           `json:"password" validate:"required"`
}

// InputSwitchIdentity activates another wallet identity for this client
// installation.
type InputSwitchIdentity struct {
	InstallID  string       `json:"installId" validate:"required"`
	IdentityID string       `json:"identityId" validate:"required"`
	Kind       IdentityKind `json:"kind" validate:"required"`
}

// InputSignOut clears the unlocked session while deliberately preserving the
// device trust record: trust belongs to the device, not the session.
type InputSignOut struct {
	IdentityID string `json:"identityId" validate:"required"`
	InstallID  string `json:"installId"`
}

// InputCreateWallet creates a brand new wallet with a fresh mnemonic.
type InputCreateWallet struct {
	IdentityID   string       `json:"identityId" validate:"required"`
	Kind         IdentityKind `json:"kind" validate:"required"`
	DisplayLabel string       `json:"displayLabel"`
	Password     string       `json:"password"`
}

// InputImportWallet imports an existing mnemonic as a new wallet.
type InputImportWallet struct {
	IdentityID   string       `json:"identityId"`
	Kind         IdentityKind `json:"kind" validate:"required"`
	DisplayLabel string       `json:"displayLabel"`
	Mnemonic     string       `json:"mnemonic" validate:"required"`
	Password     string       `json:"password"`
}

// InputRecoverVault rebuilds the vault from the recovery phrase after a
// forgotten password.
type InputRecoverVault struct {
	IdentityID  string `json:"identityId" validate:"required"`
	Mnemonic    string `json:"mnemonic" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// InputTwoFactorEnroll starts 2FA enrollment for an account.
type InputTwoFactorEnroll struct {
	Email string `json:"email" validate:"required,email"`
}

// InputTwoFactorConfirm proves possession of the authenticator.
type InputTwoFactorConfirm struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// WebauthnAttestationResponseJSON is the JSON response from the WebAuthn API
// on registration.
type WebauthnAttestationResponseJSON struct {
	ID                      string                      `json:"id"`
	RawID                   string                      `json:"rawId"`
	Type                    string                      `json:"type"`
	ClientExtensionResults  map[string]interface{}      `json:"clientExtensionResults,omitempty"`
	AuthenticatorAttachment string                      `json:"authenticatorAttachment"`
	Response                WebauthnAttestationResponse `json:"response"`
}

type WebauthnAttestationResponse struct {
	AttestationObject  string   `json:"attestationObject"`
	ClientDataJSON     string   `json:"clientDataJSON"`
	Transports         []string `json:"transports"`
	PublicKeyAlgorithm int      `json:"publicKeyAlgorithm"`
	PublicKey          string   `json:"publicKey"`
	AuthenticatorData  string   `json:"authenticatorData"`
}

// WebauthnAssertionResponseJSON is the JSON response from the WebAuthn API
// on authentication.
type WebauthnAssertionResponseJSON struct {
	ID                     string                    `json:"id"`
	RawID                  string                    `json:"rawId"`
	Type                   string                    `json:"type"`
	ClientExtensionResults map[string]interface{}    `json:"clientExtensionResults,omitempty"`
	Response               WebauthnAssertionResponse `json:"response"`
}

type WebauthnAssertionResponse struct {
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJSON"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}
