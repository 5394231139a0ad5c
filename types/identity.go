package types

// IdentityKind is a closed set: a wallet identity is either linked to a
// remote email account or derived purely from a recovery phrase. The
// orchestrator switches exhaustively on it, so device and second-factor
// gates can never apply to a recovery-phrase identity.
type IdentityKind string

const (
	IdentityKindEmail          IdentityKind = "email"
	IdentityKindRecoveryPhrase IdentityKind = "recovery_phrase"
)

// Valid reports whether k is a known identity kind.
func (k IdentityKind) Valid() bool {
	return k == IdentityKindEmail || k == IdentityKindRecoveryPhrase
}

// PostCreationAction is returned by wallet creation/import and consumed
// immediately by the caller, replacing ambient "force password setup" flags.
type PostCreationAction int

const (
	PostCreationNone PostCreationAction = iota
	PostCreationRequirePasswordSetup
)

// WalletIdentity is one addressable wallet the user can unlock.
type WalletIdentity struct {
	BaseDocument `json:",inline"`
	IdentityID   string       `json:"identityId" validate:"required"` // remote account id for email identities, locally generated for recovery-phrase ones
	Kind         IdentityKind `json:"kind" validate:"required"`
	DisplayLabel string       `json:"displayLabel"`
	LastUsedAt   int64        `json:"lastUsedAt,omitempty"`
	Created      int64        `json:"created"`
}

// ActiveIdentityRecord pins the active wallet identity for one client
// installation. Exactly one identity is active per installation; the
// resolver self-heals this record from the remote session when missing.
type ActiveIdentityRecord struct {
	BaseDocument `json:",inline"`
	InstallID    string       `json:"installId"`
	IdentityID   string       `json:"identityId"`
	Kind         IdentityKind `json:"kind"`
	Modified     int64        `json:"modified"`
}

// AccountSecurityProfile holds the per-account security attributes the
// unlock flow consults: whether the second factor is enabled, its TOTP
// secret and remaining backup codes.
type AccountSecurityProfile struct {
	BaseDocument     `json:",inline"`
	AccountID        string   `json:"accountId" validate:"required"`
	Email            string   `json:"email,omitempty"`
	TwoFactorEnabled bool     `json:"twoFactorEnabled"`
	TOTPSecret       string   `json:"totpSecret,omitempty"`       // base32, present only when two-factor is enabled
	BackupCodeHashes []string `json:"backupCodeHashes,omitempty"` // sha256 hex, entries removed as codes are consumed
	Created          int64    `json:"created"`
	Modified         int64    `json:"modified,omitempty"`
}
