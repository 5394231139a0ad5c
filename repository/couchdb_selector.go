package repository

import "github.com/emberwallet/go-vault-server/types"

const (
	// CouchDB database names
	Vault            = "vaults"             // encrypted vault records, one per wallet
	TrustedDevice    = "trusted_devices"    // per-account remembered devices
	DeviceChallenge  = "device_challenges"  // pending new-device verification codes
	BiometricBinding = "biometric_bindings" // webauthn credentials + wrapped password surrogate
	Identity         = "identities"         // primary wallet identity records
	IdentityLegacy   = "identities_legacy"  // pre-migration identity records, read-mostly
	ActiveIdentity   = "active_identities"  // active identity per client installation
	SecurityProfile  = "security_profiles"  // per-account 2FA settings (TOTP secret, backup codes)
)

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the databse selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}
