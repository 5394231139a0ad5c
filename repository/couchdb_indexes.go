package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateTrustedDeviceAccountIndex creates an index on the trusted device
// database for listing a single account's devices ordered by last use
func CreateTrustedDeviceAccountIndex(deviceRepo Repository) error {
	dbName := TrustedDevice
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []map[string]interface{}{
				{"accountId": "desc"},
				{"lastUsedAt": "desc"},
			},
		},
		"name": "account-lastused-index",
		"type": "json",
		"ddoc": "account-lastused-index",
	}
	c := deviceRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", dbName, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		outErr := handleError(resp)
		return outErr
	}
	return nil
}

/**
 * CreateBiometricWalletIndex creates an index on the biometric binding database
 * for searching by wallet id
 */
func CreateBiometricWalletIndex(biometricRepo Repository) error {
	dbName := BiometricBinding
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"walletId"},
		},
		"name": "biometric-wallet-index",
		"type": "json",
		"ddoc": "biometric-wallet-index",
	}
	c := biometricRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", dbName, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		outErr := handleError(resp)
		return outErr
	}
	return nil
}

// CreateIdentityKindIndex creates an index for resolving identities by their
// external identifier and kind
func CreateIdentityKindIndex(identityRepo Repository) error {
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"identityId", "kind"},
		},
		"name": "identity-kind-index",
		"type": "json",
		"ddoc": "identity-kind-index",
	}
	c := identityRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", identityRepo.GetDBName(), "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		outErr := handleError(resp)
		return outErr
	}
	return nil
}
