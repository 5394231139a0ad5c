package services

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/go-kit/log/level"
	"github.com/go-webauthn/webauthn/webauthn"
)

// BiometricService stores the binding between a wallet and its platform
// credential. The wrapped vault password surrogate lives in the same
// document, so removing the binding removes the surrogate with it.
type BiometricService struct {
	biometricRepo repository.Repository
	env           *types.Environment
}

func NewBiometricService(repoSelector repository.DBSelector, env *types.Environment) *BiometricService {
	if repoSelector == nil {
		panic("repoSelector cannot be nil")
	}
	biometricRepo, rErr := repoSelector.ChooseDB(repository.BiometricBinding)
	if rErr != nil {
		level.Error(global.Logger).Log("msg", "failed to choose biometric binding repository", "error", rErr)
		panic(rErr)
	}
	return &BiometricService{
		biometricRepo: biometricRepo,
		env:           env,
	}
}

// GetBinding returns the wallet's biometric binding, ErrBiometricUnavailable
// when the wallet never enrolled one.
func (s *BiometricService) GetBinding(walletID string) (*types.BiometricBinding, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := s.biometricRepo.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrBiometricUnavailable
		}
		level.Error(global.Logger).Log("msg", "failed to get biometric binding", "error", err)
		return nil, err
	}

	var binding types.BiometricBinding
	if mErr := repository.MapToObject(resp, &binding); mErr != nil {
		level.Error(global.Logger).Log("msg", "failed to map object", "error", mErr)
		return nil, mErr
	}
	if len(binding.Credentials) == 0 {
		return nil, types.ErrBiometricUnavailable
	}
	return &binding, nil
}

// SaveBinding stores a new binding created by a finished registration
// ceremony. The vault password is wrapped under the credential ID before it
// touches the document.
func (s *BiometricService) SaveBinding(walletID string, kind types.IdentityKind, name string, displayName string, credential *webauthn.Credential, vaultPassword string) (*types.BiometricBinding, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	surrogate, wErr := util.WrapSecret([]byte(vaultPassword), credential.ID)
	if wErr != nil {
		return nil, wErr
	}

	binding := &types.BiometricBinding{
		WalletID:                   walletID,
		Name:                       name,
		DisplayName:                displayName,
		IdentityKind:               kind,
		Credentials:                []webauthn.Credential{*credential},
		EncryptedPasswordSurrogate: surrogate,
		Created:                    time.Now().UTC().UnixMilli(),
	}

	// carry the revision when overwriting a prior enrollment
	existing, gErr := s.GetBinding(walletID)
	if gErr == nil {
		binding.UnderscoreRev = existing.UnderscoreRev
		binding.Created = existing.Created
	}

	if sErr := s.biometricRepo.Save(ctx, walletID, binding); sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to save biometric binding", "error", sErr)
		return nil, sErr
	}
	return binding, nil
}

// AddCredential appends an additional authenticator to an existing binding.
// The surrogate stays wrapped under the first credential.
func (s *BiometricService) AddCredential(walletID string, credential *webauthn.Credential) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	binding, err := s.GetBinding(walletID)
	if err != nil {
		return err
	}
	for _, cred := range binding.Credentials {
		if bytes.Equal(cred.ID, credential.ID) {
			return nil
		}
	}
	binding.Credentials = append(binding.Credentials, *credential)
	return s.biometricRepo.Update(ctx, walletID, binding)
}

// ReleasePassword unwraps the vault password surrogate after a successful
// assertion. The surrogate is always wrapped under the first enrolled
// credential; later additions authenticate but never re-key it.
func (s *BiometricService) ReleasePassword(binding *types.BiometricBinding) (string, error) {
	if len(binding.EncryptedPasswordSurrogate) == 0 || len(binding.Credentials) == 0 {
		return "", types.ErrBiometricUnavailable
	}
	secret, err := util.UnwrapSecret(binding.EncryptedPasswordSurrogate, binding.Credentials[0].ID)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// UpdateSurrogate re-wraps the surrogate after a vault password change so a
// biometric unlock keeps working.
func (s *BiometricService) UpdateSurrogate(walletID string, newPassword string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	binding, err := s.GetBinding(walletID)
	if err != nil {
		if errors.Is(err, types.ErrBiometricUnavailable) {
			return nil // nothing to update
		}
		return err
	}
	surrogate, wErr := util.WrapSecret([]byte(newPassword), binding.Credentials[0].ID)
	if wErr != nil {
		return wErr
	}
	binding.EncryptedPasswordSurrogate = surrogate
	return s.biometricRepo.Update(ctx, walletID, binding)
}

// RemoveBinding deletes the credential and its surrogate in one document
// delete.
func (s *BiometricService) RemoveBinding(walletID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err := s.biometricRepo.Delete(ctx, walletID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return nil
}
