package types

// EncryptedVaultRecord is the persisted, password-encrypted container for a
// wallet's recovery mnemonic. Ciphertext and verifier are opaque CBOR
// envelopes produced by the vault service; they are replaced wholesale on
// password change or recovery, never partially mutated.
type EncryptedVaultRecord struct {
	BaseDocument     `json:",inline"`
	WalletID         string `json:"walletId" validate:"required"`
	Ciphertext       []byte `json:"ciphertext" validate:"required"`
	PasswordVerifier []byte `json:"passwordVerifier" validate:"required"`
	// HasPassword false marks a transitional record created before the user
	// completed password setup; the orchestrator forces setup before unlock.
	HasPassword bool  `json:"hasPassword"`
	Created     int64 `json:"created"`
	Modified    int64 `json:"modified,omitempty"`
}

// VaultEnvelope is the CBOR layout of EncryptedVaultRecord.Ciphertext.
type VaultEnvelope struct {
	Version int    `cbor:"v"`
	Salt    []byte `cbor:"salt"`
	Nonce   []byte `cbor:"nonce"`
	ScryptN int    `cbor:"n"`
	ScryptR int    `cbor:"r"`
	ScryptP int    `cbor:"p"`
	Blob    []byte `cbor:"blob"`
}

// VerifierEnvelope is the CBOR layout of EncryptedVaultRecord.PasswordVerifier.
// The hash is checked in constant time and never decrypts anything.
type VerifierEnvelope struct {
	Version int    `cbor:"v"`
	Salt    []byte `cbor:"salt"`
	ScryptN int    `cbor:"n"`
	ScryptR int    `cbor:"r"`
	ScryptP int    `cbor:"p"`
	Hash    []byte `cbor:"hash"`
}
