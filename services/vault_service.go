package services

import (
	"context"
	"errors"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/go-kit/log/level"
)

// VaultService owns the password-encrypted mnemonic container. The plaintext
// mnemonic exists only in the return value of Unlock and is never logged or
// persisted anywhere else.
type VaultService struct {
	vaultRepo repository.Repository
}

func NewVaultService(dbSelector repository.DBSelector) *VaultService {
	vaultRepo, err := dbSelector.ChooseDB(repository.Vault)
	if err != nil {
		panic(err)
	}
	return &VaultService{vaultRepo: vaultRepo}
}

// CreateVault encrypts the mnemonic under the given password and stores the
// record. An empty password produces a transitional record with
// HasPassword=false; the unlock orchestrator forces password setup before
// any unlock of such a vault.
func (vs *VaultService) CreateVault(walletID string, password string, mnemonic []byte) (*types.EncryptedVaultRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	existing, _ := vs.GetVault(walletID)
	if existing != nil {
		return nil, types.ErrConflict
	}

	ciphertext, err := util.EncryptVault(mnemonic, password)
	if err != nil {
		return nil, err
	}
	verifier, err := util.BuildPasswordVerifier(password)
	if err != nil {
		return nil, err
	}

	record := &types.EncryptedVaultRecord{
		WalletID:         walletID,
		Ciphertext:       ciphertext,
		PasswordVerifier: verifier,
		HasPassword:      password != "",
		Created:          time.Now().UTC().UnixMilli(),
	}
	if sErr := vs.vaultRepo.Save(ctx, walletID, record); sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to save vault record", "error", sErr)
		return nil, sErr
	}
	return record, nil
}

// GetVault returns the encrypted record, ErrNoVaultPresent when none exists.
func (vs *VaultService) GetVault(walletID string) (*types.EncryptedVaultRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := vs.vaultRepo.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrNoVaultPresent
		}
		return nil, err
	}
	var record types.EncryptedVaultRecord
	if mErr := repository.MapToObject(resp, &record); mErr != nil {
		return nil, mErr
	}
	if len(record.Ciphertext) == 0 || len(record.PasswordVerifier) == 0 {
		return nil, types.ErrVaultCorrupt
	}
	return &record, nil
}

// VerifyPassword checks the password against the stored verifier without
// touching the ciphertext. The comparison is constant time.
func (vs *VaultService) VerifyPassword(walletID string, password string) (bool, error) {
	record, err := vs.GetVault(walletID)
	if err != nil {
		return false, err
	}
	return util.VerifyPassword(password, record.PasswordVerifier)
}

// Unlock decrypts the vault and returns the plaintext mnemonic. The verifier
// is checked first so a wrong password never reaches the cipher.
func (vs *VaultService) Unlock(walletID string, password string) ([]byte, error) {
	record, err := vs.GetVault(walletID)
	if err != nil {
		return nil, err
	}
	ok, vErr := util.VerifyPassword(password, record.PasswordVerifier)
	if vErr != nil {
		return nil, vErr
	}
	if !ok {
		return nil, types.ErrInvalidPassword
	}
	return util.DecryptVault(record.Ciphertext, password)
}

// ChangePassword re-encrypts the vault under a new password. Both envelopes
// are replaced in a single document update.
func (vs *VaultService) ChangePassword(walletID string, oldPassword string, newPassword string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	record, err := vs.GetVault(walletID)
	if err != nil {
		return err
	}
	mnemonic, uErr := vs.Unlock(walletID, oldPassword)
	if uErr != nil {
		return uErr
	}

	ciphertext, eErr := util.EncryptVault(mnemonic, newPassword)
	if eErr != nil {
		return eErr
	}
	verifier, bErr := util.BuildPasswordVerifier(newPassword)
	if bErr != nil {
		return bErr
	}

	record.Ciphertext = ciphertext
	record.PasswordVerifier = verifier
	record.HasPassword = newPassword != ""
	record.Modified = time.Now().UTC().UnixMilli()
	return vs.vaultRepo.Update(ctx, walletID, record)
}

// ReplaceFromMnemonic rebuilds the vault from a recovery mnemonic, replacing
// whatever ciphertext was there. Used by the recovery flow after the
// mnemonic is validated.
func (vs *VaultService) ReplaceFromMnemonic(walletID string, mnemonic []byte, newPassword string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	ciphertext, err := util.EncryptVault(mnemonic, newPassword)
	if err != nil {
		return err
	}
	verifier, bErr := util.BuildPasswordVerifier(newPassword)
	if bErr != nil {
		return bErr
	}

	record, gErr := vs.GetVault(walletID)
	if gErr != nil {
		if !errors.Is(gErr, types.ErrNoVaultPresent) && !errors.Is(gErr, types.ErrVaultCorrupt) {
			return gErr
		}
		record = &types.EncryptedVaultRecord{
			WalletID: walletID,
			Created:  time.Now().UTC().UnixMilli(),
		}
	}
	record.Ciphertext = ciphertext
	record.PasswordVerifier = verifier
	record.HasPassword = newPassword != ""
	record.Modified = time.Now().UTC().UnixMilli()
	return vs.vaultRepo.Save(ctx, walletID, record)
}

// DeleteVault removes the record. Irreversible from the server's point of
// view: without the mnemonic the wallet cannot be rebuilt.
func (vs *VaultService) DeleteVault(walletID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return vs.vaultRepo.Delete(ctx, walletID)
}
