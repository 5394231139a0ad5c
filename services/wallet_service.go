package services

import (
	"context"
	"strings"
	"time"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/tyler-smith/go-bip39"
)

// WalletService creates and imports wallets: a fresh identity, a generated
// or supplied mnemonic, and the encrypted vault holding it.
type WalletService struct {
	vaultService    *VaultService
	identityService *IdentityService
}

func NewWalletService(vaultService *VaultService, identityService *IdentityService) *WalletService {
	return &WalletService{
		vaultService:    vaultService,
		identityService: identityService,
	}
}

// CreateWallet generates a new 12-word mnemonic and stores it encrypted
// under the password. The mnemonic is returned exactly once, for the backup
// prompt; it is not retrievable again without unlocking.
func (ws *WalletService) CreateWallet(ctx context.Context, identityID string, kind types.IdentityKind, displayLabel string, password string) (string, types.PostCreationAction, error) {
	if !kind.Valid() {
		return "", types.PostCreationNone, types.ErrBadRequest
	}
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", types.PostCreationNone, err
	}
	mnemonic, mErr := bip39.NewMnemonic(entropy)
	if mErr != nil {
		return "", types.PostCreationNone, mErr
	}

	action, cErr := ws.create(ctx, identityID, kind, displayLabel, mnemonic, password)
	if cErr != nil {
		return "", types.PostCreationNone, cErr
	}
	return mnemonic, action, nil
}

// ImportWallet builds a wallet from an existing recovery phrase.
func (ws *WalletService) ImportWallet(ctx context.Context, identityID string, kind types.IdentityKind, displayLabel string, mnemonic string, password string) (types.PostCreationAction, error) {
	if !kind.Valid() {
		return types.PostCreationNone, types.ErrBadRequest
	}
	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return types.PostCreationNone, types.ErrInvalidMnemonic
	}
	return ws.create(ctx, identityID, kind, displayLabel, mnemonic, password)
}

// RecoverVault replaces a vault the user lost the password to, using the
// recovery phrase. Device trust and 2FA state stay untouched.
func (ws *WalletService) RecoverVault(ctx context.Context, identityID string, mnemonic string, newPassword string) error {
	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return types.ErrInvalidMnemonic
	}
	return ws.vaultService.ReplaceFromMnemonic(identityID, []byte(mnemonic), newPassword)
}

// RecoveryPhraseIdentityID derives a stable identity id from the mnemonic so
// the same phrase always resolves to the same wallet.
func RecoveryPhraseIdentityID(mnemonic string) string {
	seed := bip39.NewSeed(normalizeMnemonic(mnemonic), "")
	return "rp-" + util.Sha256Hex(seed)[:40]
}

func (ws *WalletService) create(ctx context.Context, identityID string, kind types.IdentityKind, displayLabel string, mnemonic string, password string) (types.PostCreationAction, error) {
	identity := &types.WalletIdentity{
		IdentityID:   identityID,
		Kind:         kind,
		DisplayLabel: displayLabel,
		Created:      time.Now().UTC().UnixMilli(),
	}
	if err := ws.identityService.SaveIdentity(ctx, identity); err != nil {
		return types.PostCreationNone, err
	}
	if _, err := ws.vaultService.CreateVault(identityID, password, []byte(mnemonic)); err != nil {
		return types.PostCreationNone, err
	}
	if password == "" {
		return types.PostCreationRequirePasswordSetup, nil
	}
	return types.PostCreationNone, nil
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(mnemonic))), " ")
}
