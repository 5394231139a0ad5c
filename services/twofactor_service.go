package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/go-kit/log/level"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const (
	leaseDuration   = 30 * time.Minute
	nearExpiryBelow = 5 * time.Minute
	leaseKeyPrefix  = "2fa:lease:"

	backupCodeCount  = 10
	backupCodeLength = 10
)

// TwoFactorService manages TOTP enrollment and the time-boxed "second factor
// satisfied" lease. The lease waives re-prompting while it lasts; it never
// unlocks the vault by itself.
type TwoFactorService struct {
	profileRepo repository.Repository
	env         *types.Environment
}

func NewTwoFactorService(dbSelector repository.DBSelector, env *types.Environment) *TwoFactorService {
	profileRepo, err := dbSelector.ChooseDB(repository.SecurityProfile)
	if err != nil {
		panic(err)
	}
	return &TwoFactorService{profileRepo: profileRepo, env: env}
}

func leaseKey(accountID string) string {
	return leaseKeyPrefix + accountID
}

// GetProfile returns the account's security profile, ErrNotFound when the
// account never touched 2FA settings.
func (ts *TwoFactorService) GetProfile(ctx context.Context, accountID string) (*types.AccountSecurityProfile, error) {
	resp, err := ts.profileRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var profile types.AccountSecurityProfile
	if mErr := repository.MapToObject(resp, &profile); mErr != nil {
		return nil, mErr
	}
	return &profile, nil
}

// SaveProfile persists 2FA settings for the account.
func (ts *TwoFactorService) SaveProfile(ctx context.Context, profile *types.AccountSecurityProfile) error {
	if profile.Created == 0 {
		profile.Created = time.Now().UTC().UnixMilli()
	}
	profile.Modified = time.Now().UTC().UnixMilli()
	return ts.profileRepo.Save(ctx, profile.AccountID, profile)
}

// Enroll generates a fresh TOTP secret and backup codes. 2FA stays disabled
// until ConfirmEnrollment sees a valid code, so a user who abandons setup is
// not locked out.
func (ts *TwoFactorService) Enroll(ctx context.Context, accountID string, email string) (*types.AccountSecurityProfile, []string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      global.Conf.Wallet.ServerDomain,
		AccountName: email,
	})
	if err != nil {
		return nil, nil, "", err
	}

	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, cErr := util.GenerateBackupCode(backupCodeLength)
		if cErr != nil {
			return nil, nil, "", cErr
		}
		codes = append(codes, code)
		hashes = append(hashes, util.Sha256Hex([]byte(code)))
	}

	profile, gErr := ts.GetProfile(ctx, accountID)
	if gErr != nil {
		if !errors.Is(gErr, types.ErrNotFound) {
			return nil, nil, "", gErr
		}
		profile = &types.AccountSecurityProfile{AccountID: accountID, Email: email}
	}
	profile.TOTPSecret = key.Secret()
	profile.BackupCodeHashes = hashes
	profile.TwoFactorEnabled = false

	if sErr := ts.SaveProfile(ctx, profile); sErr != nil {
		return nil, nil, "", sErr
	}
	return profile, codes, key.URL(), nil
}

// ConfirmEnrollment flips 2FA on after the user proves possession of the
// authenticator with one valid code.
func (ts *TwoFactorService) ConfirmEnrollment(ctx context.Context, accountID string, code string) error {
	profile, err := ts.GetProfile(ctx, accountID)
	if err != nil {
		return err
	}
	if profile.TOTPSecret == "" {
		return types.ErrBadRequest
	}
	if !totp.Validate(strings.TrimSpace(code), profile.TOTPSecret) {
		return types.ErrSecondFactorInvalid
	}
	profile.TwoFactorEnabled = true
	return ts.SaveProfile(ctx, profile)
}

// Disable turns 2FA off and drops the secret and backup codes.
func (ts *TwoFactorService) Disable(ctx context.Context, accountID string) error {
	profile, err := ts.GetProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	profile.TwoFactorEnabled = false
	profile.TOTPSecret = ""
	profile.BackupCodeHashes = nil
	if sErr := ts.SaveProfile(ctx, profile); sErr != nil {
		return sErr
	}
	return ts.RevokeLease(ctx, accountID)
}

// Status answers whether the account needs a second factor right now,
// reporting lease expiry so clients can warn shortly before re-prompt.
func (ts *TwoFactorService) Status(ctx context.Context, accountID string) (*types.TwoFactorStatus, error) {
	profile, err := ts.GetProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &types.TwoFactorStatus{Required: false}, nil
		}
		return nil, err
	}
	if !profile.TwoFactorEnabled {
		return &types.TwoFactorStatus{Required: false}, nil
	}

	session, sErr := ts.getLease(ctx, accountID)
	if sErr != nil {
		return nil, sErr
	}
	now := time.Now().UTC().UnixMilli()
	if session == nil || session.ExpiresAt <= now {
		return &types.TwoFactorStatus{Required: true}, nil
	}
	remaining := (session.ExpiresAt - now) / 1000
	return &types.TwoFactorStatus{
		Required:         false,
		ExpiresAt:        session.ExpiresAt,
		SecondsRemaining: remaining,
		NearExpiry:       remaining < int64(nearExpiryBelow.Seconds()),
	}, nil
}

// VerifyCode validates a TOTP or backup code and, on success, issues a new
// lease. Backup codes are single use: the consumed hash is removed.
func (ts *TwoFactorService) VerifyCode(ctx context.Context, accountID string, code string, isBackupCode bool, fingerprintHash string, userAgent string) (*types.TwoFactorSession, error) {
	profile, err := ts.GetProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrSecondFactorInvalid
		}
		return nil, err
	}
	if !profile.TwoFactorEnabled {
		return nil, types.ErrSecondFactorInvalid
	}

	code = strings.TrimSpace(code)
	if isBackupCode {
		if !ts.consumeBackupCode(ctx, profile, code) {
			return nil, types.ErrSecondFactorInvalid
		}
	} else if !totp.Validate(code, profile.TOTPSecret) {
		return nil, types.ErrSecondFactorInvalid
	}

	return ts.issueLease(ctx, accountID, fingerprintHash, userAgent)
}

// ExtendLease renews a still-valid lease for another full duration. An
// expired or missing lease cannot be extended.
func (ts *TwoFactorService) ExtendLease(ctx context.Context, accountID string) (*types.TwoFactorSession, error) {
	session, err := ts.getLease(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if session == nil || session.ExpiresAt <= now.UnixMilli() {
		return nil, types.ErrSecondFactorExpiredSession
	}
	session.ExpiresAt = now.Add(leaseDuration).UnixMilli()
	if sErr := ts.storeLease(ctx, session); sErr != nil {
		return nil, sErr
	}
	return session, nil
}

// RevokeLease drops the lease; the next unlock re-prompts for the second
// factor.
func (ts *TwoFactorService) RevokeLease(ctx context.Context, accountID string) error {
	return ts.env.RedisClient.Del(ctx, leaseKey(accountID)).Err()
}

func (ts *TwoFactorService) issueLease(ctx context.Context, accountID string, fingerprintHash string, userAgent string) (*types.TwoFactorSession, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &types.TwoFactorSession{
		AccountID:         accountID,
		Token:             token,
		DeviceFingerprint: fingerprintHash,
		UserAgent:         userAgent,
		IssuedAt:          now.UnixMilli(),
		ExpiresAt:         now.Add(leaseDuration).UnixMilli(),
	}
	if sErr := ts.storeLease(ctx, session); sErr != nil {
		return nil, sErr
	}
	return session, nil
}

func (ts *TwoFactorService) storeLease(ctx context.Context, session *types.TwoFactorSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := time.Until(time.UnixMilli(session.ExpiresAt))
	if ttl <= 0 {
		return types.ErrSecondFactorExpiredSession
	}
	if sErr := ts.env.RedisClient.Set(ctx, leaseKey(session.AccountID), data, ttl).Err(); sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to store 2fa lease", "error", sErr)
		return sErr
	}
	return nil
}

func (ts *TwoFactorService) getLease(ctx context.Context, accountID string) (*types.TwoFactorSession, error) {
	val, err := ts.env.RedisClient.Get(ctx, leaseKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var session types.TwoFactorSession
	if uErr := json.Unmarshal([]byte(val), &session); uErr != nil {
		return nil, uErr
	}
	return &session, nil
}

// consumeBackupCode compares in constant time against every stored hash and
// removes the matched one.
func (ts *TwoFactorService) consumeBackupCode(ctx context.Context, profile *types.AccountSecurityProfile, code string) bool {
	hash := util.Sha256Hex([]byte(strings.ToLower(code)))
	for i, stored := range profile.BackupCodeHashes {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(stored)) == 1 {
			profile.BackupCodeHashes = append(profile.BackupCodeHashes[:i], profile.BackupCodeHashes[i+1:]...)
			if err := ts.SaveProfile(ctx, profile); err != nil {
				level.Error(global.Logger).Log("msg", "failed to consume backup code", "error", err)
				return false
			}
			return true
		}
	}
	return false
}
