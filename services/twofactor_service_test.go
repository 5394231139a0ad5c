package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/tj/assert"
)

func TestLeaseWaivesRepromptUntilExpiry(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()
	kit.enableTwoFactor(t, "acc-lease")

	session, err := kit.twoFactor.issueLease(ctx, "acc-lease", "fp-hash", "agent")
	assert.NoError(t, err)
	assert.True(t, session.ExpiresAt > session.IssuedAt)

	status, err := kit.twoFactor.Status(ctx, "acc-lease")
	assert.NoError(t, err)
	assert.False(t, status.Required)
	assert.True(t, status.SecondsRemaining > int64(leaseDuration.Seconds())-5)
	assert.True(t, status.SecondsRemaining <= int64(leaseDuration.Seconds()))
	assert.False(t, status.NearExpiry)
}

func TestLeaseNearExpiryWarning(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()
	kit.enableTwoFactor(t, "acc-near")

	session := &types.TwoFactorSession{
		AccountID: "acc-near",
		Token:     "tok",
		IssuedAt:  time.Now().UTC().UnixMilli(),
		ExpiresAt: time.Now().UTC().Add(4 * time.Minute).UnixMilli(),
	}
	assert.NoError(t, kit.twoFactor.storeLease(ctx, session))

	status, err := kit.twoFactor.Status(ctx, "acc-near")
	assert.NoError(t, err)
	assert.False(t, status.Required)
	assert.True(t, status.NearExpiry)
}

func TestExpiredLeaseRequiresSecondFactorAgain(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()
	kit.enableTwoFactor(t, "acc-expired")

	// plant a lease whose wall-clock expiry already passed
	session := &types.TwoFactorSession{
		AccountID: "acc-expired",
		Token:     "tok",
		IssuedAt:  time.Now().UTC().Add(-leaseDuration).UnixMilli(),
		ExpiresAt: time.Now().UTC().Add(-time.Second).UnixMilli(),
	}
	data, err := json.Marshal(session)
	assert.NoError(t, err)
	assert.NoError(t, kit.env.RedisClient.Set(ctx, leaseKey("acc-expired"), data, time.Minute).Err())

	status, err := kit.twoFactor.Status(ctx, "acc-expired")
	assert.NoError(t, err)
	assert.True(t, status.Required)

	_, eErr := kit.twoFactor.ExtendLease(ctx, "acc-expired")
	assert.Equal(t, types.ErrSecondFactorExpiredSession, eErr)
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	profile, codes, otpURL, err := kit.twoFactor.Enroll(ctx, "acc-backup", "acc-backup@example.com")
	assert.NoError(t, err)
	assert.NotEmpty(t, otpURL)
	assert.Len(t, codes, backupCodeCount)
	for _, code := range codes {
		assert.Len(t, code, backupCodeLength)
	}

	profile.TwoFactorEnabled = true
	assert.NoError(t, kit.twoFactor.SaveProfile(ctx, profile))

	_, err = kit.twoFactor.VerifyCode(ctx, "acc-backup", codes[0], true, "", "")
	assert.NoError(t, err)

	_, err = kit.twoFactor.VerifyCode(ctx, "acc-backup", codes[0], true, "", "")
	assert.Equal(t, types.ErrSecondFactorInvalid, err)
}
