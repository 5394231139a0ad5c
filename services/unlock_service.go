package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	inflightKeyPrefix = "unlock:inflight:"
	inflightTTL       = 30 * time.Second

	pendingAttemptPrefix = "unlock:pending2fa:"
	pendingAttemptTTL    = 10 * time.Minute
)

// UnlockService is the orchestrator: it sequences password verification,
// rate limiting, device trust and the second factor into a single tagged
// result. Device verification is always resolved before the second factor,
// and recovery-phrase identities skip both gates.
type UnlockService struct {
	vaultService     *VaultService
	deviceService    *DeviceService
	twoFactorService *TwoFactorService
	identityService  *IdentityService
	rateLimitService *RateLimitService
	env              *types.Environment
}

func NewUnlockService(
	vaultService *VaultService,
	deviceService *DeviceService,
	twoFactorService *TwoFactorService,
	identityService *IdentityService,
	rateLimitService *RateLimitService,
	env *types.Environment,
) *UnlockService {
	return &UnlockService{
		vaultService:     vaultService,
		deviceService:    deviceService,
		twoFactorService: twoFactorService,
		identityService:  identityService,
		rateLimitService: rateLimitService,
		env:              env,
	}
}

// Unlock runs the full flow for a password attempt. At most one unlock per
// identity is in flight; a concurrent attempt gets ErrUnlockInProgress.
func (us *UnlockService) Unlock(ctx context.Context, input *types.InputUnlock) (*types.UnlockResult, error) {
	release, err := us.acquire(ctx, input.IdentityID)
	if err != nil {
		return nil, err
	}
	defer release()

	identity, idErr := us.identityService.GetIdentity(ctx, input.IdentityID)
	if idErr != nil {
		if errors.Is(idErr, types.ErrNotFound) {
			return types.UnlockFailed(types.FailureNoVaultPresent), nil
		}
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	if identity.Kind != input.Kind {
		return nil, types.ErrBadRequest
	}

	// rate limit gate before any verifier work
	decision, rlErr := us.rateLimitService.Check(ctx, input.IdentityID)
	if rlErr != nil {
		level.Error(global.Logger).Log("msg", "rate limit check failed", "error", rlErr)
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	if !decision.Allowed {
		result := types.UnlockFailed(types.FailureRateLimited)
		result.RetryAfterSeconds = decision.RetryAfterSeconds
		return result, nil
	}

	mnemonic, vErr := us.vaultService.Unlock(input.IdentityID, input.Password)
	if vErr != nil {
		return us.failPassword(ctx, input.IdentityID, vErr)
	}

	// recovery-phrase identities carry no remote account; device and second
	// factor gates never apply to them
	if identity.Kind == types.IdentityKindRecoveryPhrase {
		return us.succeed(ctx, input.IdentityID, identity, mnemonic, input.DeviceID, input.Fingerprint)
	}

	trust, _, dErr := us.deviceService.Evaluate(ctx, input.IdentityID, input.DeviceID, input.Fingerprint)
	if dErr != nil {
		level.Error(global.Logger).Log("msg", "device evaluation failed", "error", dErr)
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	switch trust {
	case types.DeviceHighRisk:
		us.enqueueSecurityAlert(ctx, input.IdentityID, identity, input.Fingerprint)
		return types.UnlockFailed(types.FailureDeviceUntrusted), nil
	case types.DeviceUnknown:
		return us.issueDeviceChallenge(ctx, input.IdentityID, identity, input.DeviceID, input.Fingerprint)
	}

	return us.afterDeviceGate(ctx, input.IdentityID, identity, mnemonic, input.DeviceID, input.Fingerprint)
}

// CompleteDeviceChallenge consumes a code submission for a pending device
// challenge. On success the flow continues to the second factor gate; the
// password is not re-entered, so the vault stays locked until the final
// unlock call.
func (us *UnlockService) CompleteDeviceChallenge(ctx context.Context, input *types.InputDeviceCode) (*types.UnlockResult, error) {
	challenge, err := us.deviceService.VerifyChallenge(ctx, input.Token, input.Code)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrDeviceChallengeExpired):
			return types.UnlockFailed(types.FailureDeviceChallengeExpired), nil
		case errors.Is(err, types.ErrDeviceChallengeExhausted):
			us.recordFailure(ctx, challengeAccount(challenge))
			return types.UnlockFailed(types.FailureDeviceChallengeExhausted), nil
		case errors.Is(err, types.ErrDeviceCodeMismatch):
			// wrong code, attempts remain: stay in the verification state.
			// A mismatch is a credential failure, it counts against the
			// account like a wrong password does.
			us.recordFailure(ctx, challengeAccount(challenge))
			return &types.UnlockResult{
				Status: types.UnlockStatusDeviceVerification,
				Challenge: &types.DeviceChallengeInfo{
					Token:             challenge.Token,
					Kind:              challenge.Kind,
					ExpiresAt:         challenge.ExpiresAt,
					AttemptsRemaining: challenge.AttemptsRemaining,
				},
			}, nil
		}
		return nil, err
	}

	identity, idErr := us.identityService.GetIdentity(ctx, challenge.AccountID)
	if idErr != nil {
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}

	status, tfErr := us.twoFactorService.Status(ctx, challenge.AccountID)
	if tfErr != nil {
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	if status.Required {
		return us.issueSecondFactorPrompt(ctx, challenge.AccountID, identity.Kind)
	}
	// device verified, no second factor: the client re-submits the password
	// to obtain the mnemonic
	return &types.UnlockResult{Status: types.UnlockStatusUnlocked}, nil
}

// CompleteSecondFactor validates a TOTP or backup code against the pending
// attempt the token was issued for and grants the 2FA lease on success. A
// token only exists after the password and device gates passed, so the code
// alone never completes anything. The consumed attempt is returned so the
// caller knows which account it unlocked.
func (us *UnlockService) CompleteSecondFactor(ctx context.Context, input *types.InputSecondFactor, fingerprintHash string, userAgent string) (*types.UnlockResult, *types.PendingUnlockAttempt, error) {
	attempt, aErr := us.getPendingAttempt(ctx, input.Token)
	if aErr != nil {
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil, nil
	}
	if attempt == nil || attempt.ExpiresAt <= time.Now().UTC().UnixMilli() {
		return types.UnlockFailed(types.FailureSecondFactorExpiredSession), nil, nil
	}

	decision, rlErr := us.rateLimitService.Check(ctx, attempt.AccountID)
	if rlErr == nil && !decision.Allowed {
		result := types.UnlockFailed(types.FailureRateLimited)
		result.RetryAfterSeconds = decision.RetryAfterSeconds
		return result, attempt, nil
	}

	_, err := us.twoFactorService.VerifyCode(ctx, attempt.AccountID, input.Code, input.IsBackupCode, fingerprintHash, userAgent)
	if err != nil {
		if errors.Is(err, types.ErrSecondFactorInvalid) {
			us.recordFailure(ctx, attempt.AccountID)
			return types.UnlockFailed(types.FailureSecondFactorInvalid), attempt, nil
		}
		return types.UnlockFailed(types.FailureNetworkUnavailable), attempt, nil
	}

	us.env.RedisClient.Del(ctx, pendingAttemptPrefix+input.Token)
	us.rateLimitService.Reset(ctx, attempt.AccountID)
	return &types.UnlockResult{Status: types.UnlockStatusUnlocked}, attempt, nil
}

// BiometricUnlock finishes an unlock with the password released by a
// successful assertion. The released password walks the same gates as a
// typed one.
func (us *UnlockService) BiometricUnlock(ctx context.Context, walletID string, kind types.IdentityKind, password string, deviceID string, fp *types.DeviceFingerprint) (*types.UnlockResult, error) {
	return us.Unlock(ctx, &types.InputUnlock{
		IdentityID:  walletID,
		Kind:        kind,
		Password:    password,
		DeviceID:    deviceID,
		Fingerprint: fp,
	})
}

// SignOut clears the per-installation active identity and the 2FA lease.
// Device trust records survive: trust belongs to the device, not the
// session.
func (us *UnlockService) SignOut(ctx context.Context, identityID string, installID string) error {
	if installID != "" {
		if err := us.identityService.ClearActive(ctx, installID); err != nil {
			return err
		}
	}
	return us.twoFactorService.RevokeLease(ctx, identityID)
}

// SwitchIdentity activates another identity for the installation and discards
// whatever unlock state the previous identity had in flight: its 2FA lease,
// pending device challenges and the single-flight slot.
func (us *UnlockService) SwitchIdentity(ctx context.Context, installID string, identityID string, kind types.IdentityKind) error {
	prior, pErr := us.identityService.ResolveActive(ctx, installID)
	if pErr != nil && !errors.Is(pErr, types.ErrNotFound) {
		level.Error(global.Logger).Log("msg", "failed to resolve prior active identity", "error", pErr)
	}

	if err := us.identityService.SetActive(ctx, installID, identityID, kind); err != nil {
		return err
	}

	if prior != nil && prior.IdentityID != identityID {
		if lErr := us.twoFactorService.RevokeLease(ctx, prior.IdentityID); lErr != nil {
			level.Error(global.Logger).Log("msg", "failed to revoke prior 2fa lease", "error", lErr)
		}
		if cErr := us.deviceService.ExpirePendingChallenges(ctx, prior.IdentityID); cErr != nil {
			level.Error(global.Logger).Log("msg", "failed to expire prior device challenges", "error", cErr)
		}
		us.env.RedisClient.Del(ctx, inflightKeyPrefix+prior.IdentityID)
	}
	return nil
}

func (us *UnlockService) failPassword(ctx context.Context, accountID string, vErr error) (*types.UnlockResult, error) {
	switch {
	case errors.Is(vErr, types.ErrNoVaultPresent):
		return types.UnlockFailed(types.FailureNoVaultPresent), nil
	case errors.Is(vErr, types.ErrVaultCorrupt):
		return types.UnlockFailed(types.FailureVaultCorrupt), nil
	case errors.Is(vErr, types.ErrInvalidPassword):
		state, rErr := us.rateLimitService.RecordFailure(ctx, accountID)
		result := types.UnlockFailed(types.FailureInvalidPassword)
		if rErr == nil && state != nil {
			remaining := maxFailedAttempts - state.Count
			if remaining < 0 {
				remaining = 0
			}
			result.AttemptsRemaining = &remaining
			if state.LockedUntil > 0 {
				result.Reason = types.FailureRateLimited
				result.RetryAfterSeconds = (state.LockedUntil - time.Now().UTC().UnixMilli() + 999) / 1000
			}
		}
		return result, nil
	}
	level.Error(global.Logger).Log("msg", "vault unlock failed", "error", vErr)
	return types.UnlockFailed(types.FailureNetworkUnavailable), nil
}

func (us *UnlockService) afterDeviceGate(ctx context.Context, accountID string, identity *types.WalletIdentity, mnemonic []byte, deviceID string, fp *types.DeviceFingerprint) (*types.UnlockResult, error) {
	status, tfErr := us.twoFactorService.Status(ctx, accountID)
	if tfErr != nil {
		level.Error(global.Logger).Log("msg", "2fa status failed", "error", tfErr)
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	if status.Required {
		return us.issueSecondFactorPrompt(ctx, accountID, identity.Kind)
	}
	return us.succeed(ctx, accountID, identity, mnemonic, deviceID, fp)
}

func (us *UnlockService) succeed(ctx context.Context, accountID string, identity *types.WalletIdentity, mnemonic []byte, deviceID string, fp *types.DeviceFingerprint) (*types.UnlockResult, error) {
	us.rateLimitService.Reset(ctx, accountID)

	if identity.Kind == types.IdentityKindEmail && deviceID != "" {
		if _, err := us.deviceService.RegisterDevice(ctx, accountID, deviceID, fp); err != nil {
			level.Error(global.Logger).Log("msg", "failed to refresh device record", "error", err)
		}
	}

	autoLockAt := int64(0)
	if global.Conf.Unlock.AutoLockMinutes > 0 {
		autoLockAt = time.Now().UTC().Add(time.Duration(global.Conf.Unlock.AutoLockMinutes) * time.Minute).UnixMilli()
	}
	return types.Unlocked(string(mnemonic), "", autoLockAt), nil
}

// issueSecondFactorPrompt stores a pending attempt record and hands its token
// to the client. Only this path creates one, after the earlier gates passed.
func (us *UnlockService) issueSecondFactorPrompt(ctx context.Context, accountID string, kind types.IdentityKind) (*types.UnlockResult, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	now := time.Now().UTC()
	attempt := &types.PendingUnlockAttempt{
		AccountID: accountID,
		Kind:      kind,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(pendingAttemptTTL).UnixMilli(),
	}
	data, mErr := json.Marshal(attempt)
	if mErr != nil {
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	if sErr := us.env.RedisClient.Set(ctx, pendingAttemptPrefix+token, data, pendingAttemptTTL).Err(); sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to store pending unlock attempt", "error", sErr)
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}
	return &types.UnlockResult{
		Status:           types.UnlockStatusSecondFactor,
		SecondFactorHint: "totp",
		AttemptToken:     token,
	}, nil
}

func (us *UnlockService) getPendingAttempt(ctx context.Context, token string) (*types.PendingUnlockAttempt, error) {
	val, err := us.env.RedisClient.Get(ctx, pendingAttemptPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var attempt types.PendingUnlockAttempt
	if uErr := json.Unmarshal([]byte(val), &attempt); uErr != nil {
		return nil, uErr
	}
	return &attempt, nil
}

func (us *UnlockService) issueDeviceChallenge(ctx context.Context, accountID string, identity *types.WalletIdentity, deviceID string, fp *types.DeviceFingerprint) (*types.UnlockResult, error) {
	if _, err := us.deviceService.RegisterDevice(ctx, accountID, deviceID, fp); err != nil {
		level.Error(global.Logger).Log("msg", "failed to register pending device", "error", err)
	}

	challenge, cErr := us.deviceService.CreateChallenge(ctx, accountID, deviceID, types.ChallengeKindCode)
	if cErr != nil {
		level.Error(global.Logger).Log("msg", "failed to create device challenge", "error", cErr)
		return types.UnlockFailed(types.FailureNetworkUnavailable), nil
	}

	email := us.accountEmail(ctx, accountID, identity)
	us.enqueueChallengeEmail(email, challenge, fp)

	return &types.UnlockResult{
		Status: types.UnlockStatusDeviceVerification,
		Challenge: &types.DeviceChallengeInfo{
			Token:             challenge.Token,
			Kind:              challenge.Kind,
			ExpiresAt:         challenge.ExpiresAt,
			AttemptsRemaining: challenge.AttemptsRemaining,
			EmailHint:         util.MaskEmail(email),
		},
	}, nil
}

func (us *UnlockService) accountEmail(ctx context.Context, accountID string, identity *types.WalletIdentity) string {
	profile, err := us.twoFactorService.GetProfile(ctx, accountID)
	if err == nil && profile.Email != "" {
		return profile.Email
	}
	return identity.DisplayLabel
}

func (us *UnlockService) enqueueChallengeEmail(email string, challenge *types.DeviceVerificationChallenge, fp *types.DeviceFingerprint) {
	if us.env.TaskClient == nil || email == "" {
		return
	}
	task := &types.EmailTask{
		AccountID: challenge.AccountID,
		Recipient: email,
		Code:      challenge.Code,
	}
	if fp != nil {
		task.DeviceName = fp.DeviceName
		task.Location = fp.City
		if task.Location == "" {
			task.Location = fp.Country
		}
	}
	us.enqueueEmail(types.QueueTypeDeviceCodeEmail, task)
}

// enqueueSecurityAlert notifies the account owner that a high-risk device was
// rejected. Best effort.
func (us *UnlockService) enqueueSecurityAlert(ctx context.Context, accountID string, identity *types.WalletIdentity, fp *types.DeviceFingerprint) {
	if us.env.TaskClient == nil {
		return
	}
	task := &types.EmailTask{
		AccountID: accountID,
		Recipient: us.accountEmail(ctx, accountID, identity),
		Reason:    "high_risk_device",
	}
	if fp != nil {
		task.DeviceName = fp.DeviceName
		task.Location = fp.City
		if task.Location == "" {
			task.Location = fp.Country
		}
	}
	us.enqueueEmail(types.QueueTypeSecurityAlertEmail, task)
}

func (us *UnlockService) enqueueEmail(taskType string, task *types.EmailTask) {
	payload, err := json.Marshal(task)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to marshal email task", "error", err)
		return
	}
	t := asynq.NewTask(taskType, payload)
	if _, qErr := us.env.TaskClient.Enqueue(t, asynq.MaxRetry(3), asynq.Timeout(60*time.Second)); qErr != nil {
		level.Error(global.Logger).Log("msg", "failed to enqueue email task", "type", taskType, "error", qErr)
	}
}

func (us *UnlockService) recordFailure(ctx context.Context, accountID string) {
	if accountID == "" {
		return
	}
	if _, err := us.rateLimitService.RecordFailure(ctx, accountID); err != nil {
		level.Error(global.Logger).Log("msg", "failed to record unlock failure", "error", err)
	}
}

func challengeAccount(challenge *types.DeviceVerificationChallenge) string {
	if challenge == nil {
		return ""
	}
	return challenge.AccountID
}

// acquire takes the single-flight slot for an identity. The returned release
// must be called when the attempt finishes.
func (us *UnlockService) acquire(ctx context.Context, identityID string) (func(), error) {
	key := inflightKeyPrefix + identityID
	ok, err := us.env.RedisClient.SetNX(ctx, key, "1", inflightTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrUnlockInProgress
	}
	return func() {
		if dErr := us.env.RedisClient.Del(context.Background(), key).Err(); dErr != nil {
			level.Error(global.Logger).Log("msg", "failed to release unlock slot", "error", dErr)
		}
	}, nil
}
