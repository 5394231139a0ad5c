package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/tj/assert"
)

// memRepo is an in-memory Repository for flow tests. Documents are stored as
// marshaled JSON, the same shape MapToObject consumes.
type memRepo struct {
	mu   sync.Mutex
	name string
	docs map[string]json.RawMessage
}

func (m *memRepo) GetByID(ctx context.Context, id string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return []byte(raw), nil
}

func (m *memRepo) Find(ctx context.Context, query map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	selector, _ := query["selector"].(map[string]interface{})
	docs := make([]json.RawMessage, 0)
	for _, raw := range m.docs {
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if matchesSelector(doc, selector) {
			docs = append(docs, raw)
		}
	}
	return json.Marshal(map[string]interface{}{"docs": docs})
}

func matchesSelector(doc map[string]interface{}, selector map[string]interface{}) bool {
	for field, condRaw := range selector {
		cond, ok := condRaw.(map[string]interface{})
		if !ok {
			return false
		}
		if want, has := cond["$eq"]; has {
			if fmt.Sprint(doc[field]) != fmt.Sprint(want) {
				return false
			}
		}
		if _, has := cond["$gt"]; has {
			if doc[field] == nil {
				return false
			}
		}
	}
	return true
}

func (m *memRepo) Save(ctx context.Context, docID string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docID] = raw
	return nil
}

func (m *memRepo) Update(ctx context.Context, id string, data interface{}) error {
	return m.Save(ctx, id, data)
}

func (m *memRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memRepo) GetDBName() string      { return m.name }
func (m *memRepo) GetClient() interface{} { return nil }

type memSelector struct {
	repos map[string]*memRepo
}

func newMemSelector() *memSelector {
	return &memSelector{repos: map[string]*memRepo{}}
}

func (s *memSelector) ChooseDB(dbName string) (repository.Repository, error) {
	if r, ok := s.repos[dbName]; ok {
		return r, nil
	}
	r := &memRepo{name: dbName, docs: map[string]json.RawMessage{}}
	s.repos[dbName] = r
	return r, nil
}

type unlockTestKit struct {
	selector  *memSelector
	env       *types.Environment
	vault     *VaultService
	device    *DeviceService
	twoFactor *TwoFactorService
	identity  *IdentityService
	rateLimit *RateLimitService
	unlock    *UnlockService
}

func newUnlockTestKit(t *testing.T) *unlockTestKit {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	env := types.NewEnvironment(client)

	global.Conf.Wallet.ServerDomain = "vault.example.com"
	global.Conf.Unlock.RiskScoreThreshold = 70
	global.Conf.Unlock.ReverifyDevice = false
	global.Conf.Unlock.AutoLockMinutes = 0

	selector := newMemSelector()
	vault := NewVaultService(selector)
	device := NewDeviceService(selector, env)
	twoFactor := NewTwoFactorService(selector, env)
	identity := NewIdentityService(selector, env)
	rateLimit := NewRateLimitService(env)
	unlock := NewUnlockService(vault, device, twoFactor, identity, rateLimit, env)

	return &unlockTestKit{
		selector:  selector,
		env:       env,
		vault:     vault,
		device:    device,
		twoFactor: twoFactor,
		identity:  identity,
		rateLimit: rateLimit,
		unlock:    unlock,
	}
}

func (kit *unlockTestKit) seedIdentity(t *testing.T, id string, kind types.IdentityKind, password string, mnemonic string) {
	t.Helper()
	ctx := context.Background()
	err := kit.identity.SaveIdentity(ctx, &types.WalletIdentity{
		IdentityID:   id,
		Kind:         kind,
		DisplayLabel: id + "@example.com",
	})
	assert.NoError(t, err)
	_, err = kit.vault.CreateVault(id, password, []byte(mnemonic))
	assert.NoError(t, err)
}

// enableTwoFactor stores an enabled profile and returns the TOTP secret so
// tests can mint valid codes.
func (kit *unlockTestKit) enableTwoFactor(t *testing.T, accountID string) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "vault.example.com",
		AccountName: accountID + "@example.com",
	})
	assert.NoError(t, err)
	err = kit.twoFactor.SaveProfile(context.Background(), &types.AccountSecurityProfile{
		AccountID:        accountID,
		Email:            accountID + "@example.com",
		TwoFactorEnabled: true,
		TOTPSecret:       key.Secret(),
	})
	assert.NoError(t, err)
	return key.Secret()
}

func (kit *unlockTestKit) trustDevice(t *testing.T, accountID string, deviceID string, fp *types.DeviceFingerprint) {
	t.Helper()
	ctx := context.Background()
	_, err := kit.device.RegisterDevice(ctx, accountID, deviceID, fp)
	assert.NoError(t, err)
	assert.NoError(t, kit.device.TrustDevice(ctx, accountID, deviceID))
}

func benignFingerprint() *types.DeviceFingerprint {
	return &types.DeviceFingerprint{
		FingerprintHash:  "fp-hash-stable",
		Browser:          "Firefox",
		BrowserVersion:   "126.0",
		OS:               "Linux",
		OSVersion:        "6.8",
		IPAddress:        "203.0.113.7",
		Country:          "DE",
		Timezone:         "Europe/Berlin",
		ScreenResolution: "2560x1440",
	}
}

func TestUnlockRecoveryPhraseSkipsDeviceAndSecondFactor(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "rp-alpha", types.IdentityKindRecoveryPhrase, "pw1", "legal winner thank year wave")

	// even a hostile-looking device never gates a recovery-phrase identity
	fp := benignFingerprint()
	fp.IsTor = true
	fp.RiskScore = 99

	result, err := kit.unlock.Unlock(context.Background(), &types.InputUnlock{
		IdentityID:  "rp-alpha",
		Kind:        types.IdentityKindRecoveryPhrase,
		Password:    "pw1",
		Fingerprint: fp,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusUnlocked, result.Status)
	assert.Equal(t, "legal winner thank year wave", result.Mnemonic)
}

func TestUnlockUnknownDeviceGatesBeforeSecondFactor(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "acc-1", types.IdentityKindEmail, "pw1", "mnemonic one")
	kit.enableTwoFactor(t, "acc-1")

	result, err := kit.unlock.Unlock(context.Background(), &types.InputUnlock{
		IdentityID:  "acc-1",
		Kind:        types.IdentityKindEmail,
		Password:    "pw1",
		DeviceID:    "dev-new",
		Fingerprint: benignFingerprint(),
	})
	assert.NoError(t, err)
	// the device challenge always comes first, even with 2FA enabled
	assert.Equal(t, types.UnlockStatusDeviceVerification, result.Status)
	assert.NotNil(t, result.Challenge)
	assert.Empty(t, result.AttemptToken)
}

func TestUnlockUnseenVPNDeviceRejected(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "acc-vpn", types.IdentityKindEmail, "pw1", "mnemonic two")

	fp := benignFingerprint()
	fp.IsVPN = true
	fp.RiskScore = 10

	result, err := kit.unlock.Unlock(context.Background(), &types.InputUnlock{
		IdentityID:  "acc-vpn",
		Kind:        types.IdentityKindEmail,
		Password:    "pw1",
		DeviceID:    "dev-new",
		Fingerprint: fp,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusFailed, result.Status)
	assert.Equal(t, types.FailureDeviceUntrusted, result.Reason)
}

func TestUnlockTrustedDeviceOnTorStaysTrusted(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "acc-tor", types.IdentityKindEmail, "pw1", "mnemonic three")
	fp := benignFingerprint()
	kit.trustDevice(t, "acc-tor", "dev-1", fp)

	// same device, now behind Tor: verified trust survives the exit node
	torFp := benignFingerprint()
	torFp.IsTor = true
	result, err := kit.unlock.Unlock(context.Background(), &types.InputUnlock{
		IdentityID:  "acc-tor",
		Kind:        types.IdentityKindEmail,
		Password:    "pw1",
		DeviceID:    "dev-1",
		Fingerprint: torFp,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusUnlocked, result.Status)
}

func TestSecondFactorRequiresPendingAttempt(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "acc-2fa", types.IdentityKindEmail, "pw1", "mnemonic four")
	secret := kit.enableTwoFactor(t, "acc-2fa")
	fp := benignFingerprint()
	kit.trustDevice(t, "acc-2fa", "dev-1", fp)

	ctx := context.Background()
	code, err := totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)

	// a valid code without a server-issued attempt token completes nothing
	result, attempt, err := kit.unlock.CompleteSecondFactor(ctx, &types.InputSecondFactor{
		Token: "forged-token",
		Code:  code,
	}, "", "")
	assert.NoError(t, err)
	assert.Nil(t, attempt)
	assert.Equal(t, types.UnlockStatusFailed, result.Status)
	assert.Equal(t, types.FailureSecondFactorExpiredSession, result.Reason)

	// the real flow hands out the token after password and device pass
	prompt, err := kit.unlock.Unlock(ctx, &types.InputUnlock{
		IdentityID:  "acc-2fa",
		Kind:        types.IdentityKindEmail,
		Password:    "pw1",
		DeviceID:    "dev-1",
		Fingerprint: fp,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusSecondFactor, prompt.Status)
	assert.NotEmpty(t, prompt.AttemptToken)

	code, err = totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)
	result, attempt, err = kit.unlock.CompleteSecondFactor(ctx, &types.InputSecondFactor{
		Token: prompt.AttemptToken,
		Code:  code,
	}, "", "")
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusUnlocked, result.Status)
	assert.NotNil(t, attempt)
	assert.Equal(t, "acc-2fa", attempt.AccountID)

	// the attempt is single use
	result, _, err = kit.unlock.CompleteSecondFactor(ctx, &types.InputSecondFactor{
		Token: prompt.AttemptToken,
		Code:  code,
	}, "", "")
	assert.NoError(t, err)
	assert.Equal(t, types.FailureSecondFactorExpiredSession, result.Reason)
}

func TestSecondFactorWrongCodeCountsAgainstRateLimit(t *testing.T) {
	kit := newUnlockTestKit(t)
	kit.seedIdentity(t, "acc-bad2fa", types.IdentityKindEmail, "pw1", "mnemonic five")
	kit.enableTwoFactor(t, "acc-bad2fa")
	fp := benignFingerprint()
	kit.trustDevice(t, "acc-bad2fa", "dev-1", fp)

	ctx := context.Background()
	prompt, err := kit.unlock.Unlock(ctx, &types.InputUnlock{
		IdentityID:  "acc-bad2fa",
		Kind:        types.IdentityKindEmail,
		Password:    "pw1",
		DeviceID:    "dev-1",
		Fingerprint: fp,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusSecondFactor, prompt.Status)

	result, attempt, err := kit.unlock.CompleteSecondFactor(ctx, &types.InputSecondFactor{
		Token: prompt.AttemptToken,
		Code:  "000000",
	}, "", "")
	assert.NoError(t, err)
	assert.NotNil(t, attempt)
	assert.Equal(t, types.FailureSecondFactorInvalid, result.Reason)

	decision, err := kit.rateLimit.Check(ctx, "acc-bad2fa")
	assert.NoError(t, err)
	assert.Equal(t, maxFailedAttempts-1, decision.AttemptsRemaining)
}

func TestNewChallengeExpiresPriorPendingOne(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()
	_, err := kit.device.RegisterDevice(ctx, "acc-ch", "dev-1", benignFingerprint())
	assert.NoError(t, err)

	first, err := kit.device.CreateChallenge(ctx, "acc-ch", "dev-1", types.ChallengeKindCode)
	assert.NoError(t, err)
	second, err := kit.device.CreateChallenge(ctx, "acc-ch", "dev-1", types.ChallengeKindCode)
	assert.NoError(t, err)

	_, vErr := kit.device.VerifyChallenge(ctx, first.Token, first.Code)
	assert.Equal(t, types.ErrDeviceChallengeExpired, vErr)

	verified, vErr := kit.device.VerifyChallenge(ctx, second.Token, second.Code)
	assert.NoError(t, vErr)
	assert.Equal(t, types.ChallengeVerified, verified.State)
}

func TestExpiredChallengeDoesNotPenalize(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	challenge, err := kit.device.CreateChallenge(ctx, "acc-exp", "dev-1", types.ChallengeKindCode)
	assert.NoError(t, err)
	challenge.ExpiresAt = time.Now().UTC().Add(-time.Minute).UnixMilli()
	repo, _ := kit.selector.ChooseDB(repository.DeviceChallenge)
	assert.NoError(t, repo.Update(ctx, challenge.Token, challenge))

	result, err := kit.unlock.CompleteDeviceChallenge(ctx, &types.InputDeviceCode{
		Token: challenge.Token,
		Code:  challenge.Code,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.FailureDeviceChallengeExpired, result.Reason)

	// running out the clock is not a credential failure
	decision, err := kit.rateLimit.Check(ctx, "acc-exp")
	assert.NoError(t, err)
	assert.Equal(t, maxFailedAttempts, decision.AttemptsRemaining)
}

func TestWrongDeviceCodePenalizes(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	challenge, err := kit.device.CreateChallenge(ctx, "acc-wrong", "dev-1", types.ChallengeKindCode)
	assert.NoError(t, err)

	wrong := "000000"
	if challenge.Code == wrong {
		wrong = "000001"
	}
	result, err := kit.unlock.CompleteDeviceChallenge(ctx, &types.InputDeviceCode{
		Token: challenge.Token,
		Code:  wrong,
	})
	assert.NoError(t, err)
	assert.Equal(t, types.UnlockStatusDeviceVerification, result.Status)
	assert.Equal(t, challengeAttempts-1, result.Challenge.AttemptsRemaining)

	decision, err := kit.rateLimit.Check(ctx, "acc-wrong")
	assert.NoError(t, err)
	assert.Equal(t, maxFailedAttempts-1, decision.AttemptsRemaining)
}

func TestSwitchIdentityDiscardsPriorUnlockState(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()
	kit.seedIdentity(t, "acc-a", types.IdentityKindEmail, "pw1", "mnemonic six")
	kit.seedIdentity(t, "acc-b", types.IdentityKindEmail, "pw2", "mnemonic seven")
	kit.enableTwoFactor(t, "acc-a")

	assert.NoError(t, kit.identity.SetActive(ctx, "install-1", "acc-a", types.IdentityKindEmail))
	_, err := kit.twoFactor.issueLease(ctx, "acc-a", "", "")
	assert.NoError(t, err)
	challenge, err := kit.device.CreateChallenge(ctx, "acc-a", "dev-1", types.ChallengeKindCode)
	assert.NoError(t, err)

	assert.NoError(t, kit.unlock.SwitchIdentity(ctx, "install-1", "acc-b", types.IdentityKindEmail))

	// the old identity's lease is gone, the next unlock re-prompts
	status, err := kit.twoFactor.Status(ctx, "acc-a")
	assert.NoError(t, err)
	assert.True(t, status.Required)

	// and its pending challenge no longer verifies
	_, vErr := kit.device.VerifyChallenge(ctx, challenge.Token, challenge.Code)
	assert.Equal(t, types.ErrDeviceChallengeExpired, vErr)

	active, err := kit.identity.ResolveActive(ctx, "install-1")
	assert.NoError(t, err)
	assert.Equal(t, "acc-b", active.IdentityID)
}
