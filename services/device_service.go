package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/emberwallet/go-vault-server/util"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// matching thresholds, tuned against real fingerprint drift between
	// browser updates on the same machine
	scoreAutoTrust = 120
	scoreChallenge = 90

	codeChallengeTTL  = 15 * time.Minute
	linkChallengeTTL  = 24 * time.Minute
	challengeAttempts = 5

	fingerprintCacheTTL    = 24 * time.Hour
	fingerprintCachePrefix = "device:seen:"
)

// DeviceService evaluates whether the current device is remembered for an
// account, scores approximate matches across several signals, and runs the
// email verification challenge for devices that fall short.
type DeviceService struct {
	deviceRepo    repository.Repository
	challengeRepo repository.Repository
	env           *types.Environment
}

type challengeExpiredView struct {
	TotalRows int64                 `json:"total_rows"`
	Offset    int64                 `json:"offset"`
	Rows      []challengeExpiredRow `json:"rows"`
}

type challengeExpiredRow struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"key"`   // key is the expiry timestamp
	Rev       string `json:"value"` // value is _rev which is needed for deletion
}

func NewDeviceService(dbSelector repository.DBSelector, env *types.Environment) *DeviceService {
	deviceRepo, err := dbSelector.ChooseDB(repository.TrustedDevice)
	if err != nil {
		panic(err)
	}
	challengeRepo, err := dbSelector.ChooseDB(repository.DeviceChallenge)
	if err != nil {
		panic(err)
	}
	return &DeviceService{
		deviceRepo:    deviceRepo,
		challengeRepo: challengeRepo,
		env:           env,
	}
}

func deviceDocID(accountID, deviceID string) string {
	return util.Sha256Hex([]byte(accountID + ":" + deviceID))
}

// Evaluate classifies the current device. A remembered, verified device stays
// trusted whatever the network looks like; high-risk signals (Tor, VPN,
// elevated risk score) only harden the outcome for devices the account has
// not verified. A fingerprint already verified inside the 24h cache window
// skips re-scoring unless the deployment opts into reverification.
func (ds *DeviceService) Evaluate(ctx context.Context, accountID string, deviceID string, fp *types.DeviceFingerprint) (types.DeviceTrust, *types.DeviceMatchResult, error) {
	if fp == nil {
		return types.DeviceUnknown, nil, nil
	}

	if !global.Conf.Unlock.ReverifyDevice {
		cached, cErr := ds.isRecentlyVerified(ctx, accountID, fp.FingerprintHash)
		if cErr != nil {
			level.Error(global.Logger).Log("msg", "fingerprint cache read failed", "error", cErr)
		}
		if cached {
			return types.DeviceTrusted, nil, nil
		}
	}

	match, mErr := ds.matchDevice(ctx, accountID, deviceID, fp)
	if mErr != nil {
		return types.DeviceUnknown, nil, mErr
	}
	if match != nil && match.Score >= scoreAutoTrust && match.Device.VerifiedAt > 0 {
		ds.touchDevice(ctx, match.Device, fp)
		ds.cacheVerified(ctx, accountID, fp.FingerprintHash)
		return types.DeviceTrusted, match, nil
	}

	if fp.IsTor || fp.IsVPN || fp.RiskScore > global.Conf.Unlock.RiskScoreThreshold {
		return types.DeviceHighRisk, match, nil
	}
	return types.DeviceUnknown, match, nil
}

// matchDevice scores the submitted fingerprint against every remembered
// device and returns the best candidate, nil when the account has none.
func (ds *DeviceService) matchDevice(ctx context.Context, accountID string, deviceID string, fp *types.DeviceFingerprint) (*types.DeviceMatchResult, error) {
	devices, err := ds.ListDevices(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	var best *types.DeviceMatchResult
	for i := range devices {
		d := devices[i]
		score, details := scoreDevice(d, fp)
		if d.DeviceID != "" && d.DeviceID == deviceID {
			// the stable installation id survives fingerprint drift
			score += 100
		}
		if best == nil || score > best.Score {
			best = &types.DeviceMatchResult{Device: d, Score: score, Details: details}
		}
	}
	return best, nil
}

func scoreDevice(d *types.TrustedDevice, fp *types.DeviceFingerprint) (int, *types.DeviceMatchDetails) {
	details := &types.DeviceMatchDetails{}
	score := 0

	if d.FingerprintHash != "" && d.FingerprintHash == fp.FingerprintHash {
		details.FingerprintSimilarity = 1.0
		score += 100
	} else if d.FingerprintHash != "" && fp.FingerprintHash != "" {
		sim := util.StringSimilarity(d.FingerprintHash, fp.FingerprintHash)
		details.FingerprintSimilarity = sim
		score += int(sim * 90)
	}

	if d.IPAddress != "" && d.IPAddress == fp.IPAddress {
		details.IPMatch = true
		score += 20
	} else if d.Country != "" && d.Country == fp.Country {
		details.LocationMatch = true
		score += 10
	}

	if d.Browser != "" && d.Browser == fp.Browser {
		details.BrowserMatch = true
		if d.BrowserVersion == fp.BrowserVersion {
			score += 15
		} else {
			// same browser, different version: normal auto-update drift
			score += 8
		}
	}

	if d.OS != "" && d.OS == fp.OS {
		details.OSMatch = true
		if d.OSVersion == fp.OSVersion {
			score += 15
		} else {
			score += 8
		}
	}

	if d.ScreenResolution != "" && d.ScreenResolution == fp.ScreenResolution {
		score += 10
	}
	if d.Timezone != "" && d.Timezone == fp.Timezone {
		score += 5
	}

	return score, details
}

// ListDevices returns the remembered devices for an account, most recently
// used first.
func (ds *DeviceService) ListDevices(ctx context.Context, accountID string) ([]*types.TrustedDevice, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"accountId": map[string]interface{}{
				"$eq": accountID,
			},
		},
		"sort":      []map[string]interface{}{{"accountId": "desc"}, {"lastUsedAt": "desc"}},
		"limit":     50,
		"use_index": "account-lastused-index",
	}
	resp, err := ds.deviceRepo.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	var result struct {
		Docs []*types.TrustedDevice `json:"docs"`
	}
	if mErr := repository.MapToObject(resp, &result); mErr != nil {
		return nil, mErr
	}
	return result.Docs, nil
}

// RegisterDevice stores (or refreshes) a device record in pending state.
// VerifiedAt stays zero until a challenge completes.
func (ds *DeviceService) RegisterDevice(ctx context.Context, accountID string, deviceID string, fp *types.DeviceFingerprint) (*types.TrustedDevice, error) {
	if deviceID == "" {
		// first contact from a client without a stored device id
		deviceID = uuid.NewString()
	}
	now := time.Now().UTC().UnixMilli()
	docID := deviceDocID(accountID, deviceID)

	device := &types.TrustedDevice{
		AccountID: accountID,
		DeviceID:  deviceID,
		Created:   now,
	}
	resp, gErr := ds.deviceRepo.GetByID(ctx, docID)
	if gErr == nil {
		var existing types.TrustedDevice
		if mErr := repository.MapToObject(resp, &existing); mErr == nil {
			device = &existing
		}
	} else if !errors.Is(gErr, types.ErrNotFound) {
		return nil, gErr
	}

	if fp != nil {
		device.DeviceName = fp.DeviceName
		device.FingerprintHash = fp.FingerprintHash
		device.Browser = fp.Browser
		device.BrowserVersion = fp.BrowserVersion
		device.OS = fp.OS
		device.OSVersion = fp.OSVersion
		device.IPAddress = fp.IPAddress
		device.Country = fp.Country
		device.Timezone = fp.Timezone
		device.ScreenResolution = fp.ScreenResolution
		device.UserAgent = fp.UserAgent
	}
	device.LastUsedAt = now

	if sErr := ds.deviceRepo.Save(ctx, docID, device); sErr != nil {
		return nil, sErr
	}
	return device, nil
}

// TrustDevice marks a device as verified after a successful challenge.
func (ds *DeviceService) TrustDevice(ctx context.Context, accountID string, deviceID string) error {
	docID := deviceDocID(accountID, deviceID)
	resp, err := ds.deviceRepo.GetByID(ctx, docID)
	if err != nil {
		return err
	}
	var device types.TrustedDevice
	if mErr := repository.MapToObject(resp, &device); mErr != nil {
		return mErr
	}
	now := time.Now().UTC().UnixMilli()
	device.VerifiedAt = now
	device.LastUsedAt = now
	if sErr := ds.deviceRepo.Update(ctx, docID, &device); sErr != nil {
		return sErr
	}
	ds.cacheVerified(ctx, accountID, device.FingerprintHash)
	return nil
}

// RevokeDevice forgets a remembered device. The next unlock from it walks
// through verification again.
func (ds *DeviceService) RevokeDevice(ctx context.Context, accountID string, deviceID string) error {
	resp, err := ds.deviceRepo.GetByID(ctx, deviceDocID(accountID, deviceID))
	if err == nil {
		var device types.TrustedDevice
		if mErr := repository.MapToObject(resp, &device); mErr == nil && device.FingerprintHash != "" {
			ds.env.RedisClient.Del(ctx, fingerprintCacheKey(accountID, device.FingerprintHash))
		}
	}
	return ds.deviceRepo.Delete(ctx, deviceDocID(accountID, deviceID))
}

func (ds *DeviceService) touchDevice(ctx context.Context, device *types.TrustedDevice, fp *types.DeviceFingerprint) {
	device.LastUsedAt = time.Now().UTC().UnixMilli()
	if fp.FingerprintHash != "" {
		device.FingerprintHash = fp.FingerprintHash
	}
	docID := deviceDocID(device.AccountID, device.DeviceID)
	if err := ds.deviceRepo.Update(ctx, docID, device); err != nil {
		level.Error(global.Logger).Log("msg", "failed to touch trusted device", "error", err)
	}
}

// CreateChallenge issues a new verification challenge for the account. Any
// prior pending challenge is expired first, so at most one code is valid per
// account at a time.
func (ds *DeviceService) CreateChallenge(ctx context.Context, accountID string, deviceID string, kind types.ChallengeKind) (*types.DeviceVerificationChallenge, error) {
	if eErr := ds.ExpirePendingChallenges(ctx, accountID); eErr != nil {
		return nil, eErr
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, err
	}
	code, cErr := util.GenerateDeviceCode()
	if cErr != nil {
		return nil, cErr
	}

	ttl := codeChallengeTTL
	if kind == types.ChallengeKindLink {
		ttl = linkChallengeTTL
	}
	now := time.Now().UTC()
	challenge := &types.DeviceVerificationChallenge{
		Token:             token,
		AccountID:         accountID,
		DeviceID:          deviceID,
		Kind:              kind,
		Code:              code,
		State:             types.ChallengePending,
		ExpiresAt:         now.Add(ttl).UnixMilli(),
		AttemptsRemaining: challengeAttempts,
		Created:           now.UnixMilli(),
	}
	if sErr := ds.challengeRepo.Save(ctx, token, challenge); sErr != nil {
		return nil, sErr
	}
	return challenge, nil
}

// VerifyChallenge consumes one attempt of a pending challenge. On success
// the device gets trusted; on exhaustion or expiry the challenge flips to
// its terminal state and a fresh unlock is required.
func (ds *DeviceService) VerifyChallenge(ctx context.Context, token string, code string) (*types.DeviceVerificationChallenge, error) {
	resp, err := ds.challengeRepo.GetByID(ctx, token)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrDeviceChallengeExpired
		}
		return nil, err
	}
	var challenge types.DeviceVerificationChallenge
	if mErr := repository.MapToObject(resp, &challenge); mErr != nil {
		return nil, mErr
	}

	now := time.Now().UTC().UnixMilli()
	switch challenge.State {
	case types.ChallengeExhausted:
		return &challenge, types.ErrDeviceChallengeExhausted
	case types.ChallengeExpired, types.ChallengeVerified:
		return &challenge, types.ErrDeviceChallengeExpired
	}
	if now > challenge.ExpiresAt {
		challenge.State = types.ChallengeExpired
		ds.saveChallenge(ctx, &challenge)
		return &challenge, types.ErrDeviceChallengeExpired
	}

	if strings.TrimSpace(code) != challenge.Code {
		challenge.AttemptsRemaining--
		if challenge.AttemptsRemaining <= 0 {
			challenge.State = types.ChallengeExhausted
			ds.saveChallenge(ctx, &challenge)
			return &challenge, types.ErrDeviceChallengeExhausted
		}
		ds.saveChallenge(ctx, &challenge)
		return &challenge, types.ErrDeviceCodeMismatch
	}

	challenge.State = types.ChallengeVerified
	ds.saveChallenge(ctx, &challenge)

	if tErr := ds.TrustDevice(ctx, challenge.AccountID, challenge.DeviceID); tErr != nil {
		return &challenge, tErr
	}
	return &challenge, nil
}

// ExpirePendingChallenges flips every pending challenge of the account to the
// expired state. An old leaked code stops working the moment a new challenge
// is issued or the identity is switched away.
func (ds *DeviceService) ExpirePendingChallenges(ctx context.Context, accountID string) error {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"accountId": map[string]interface{}{
				"$eq": accountID,
			},
			"state": map[string]interface{}{
				"$eq": string(types.ChallengePending),
			},
		},
		"limit": 50,
	}
	resp, err := ds.challengeRepo.Find(ctx, query)
	if err != nil {
		return err
	}
	var result struct {
		Docs []*types.DeviceVerificationChallenge `json:"docs"`
	}
	if mErr := repository.MapToObject(resp, &result); mErr != nil {
		return mErr
	}
	for _, challenge := range result.Docs {
		challenge.State = types.ChallengeExpired
		if uErr := ds.challengeRepo.Update(ctx, challenge.Token, challenge); uErr != nil {
			return uErr
		}
	}
	return nil
}

func (ds *DeviceService) saveChallenge(ctx context.Context, challenge *types.DeviceVerificationChallenge) {
	if err := ds.challengeRepo.Update(ctx, challenge.Token, challenge); err != nil {
		level.Error(global.Logger).Log("msg", "failed to update device challenge", "error", err)
	}
}

// RemoveExpiredChallenges loops and bulk deletes expired challenges until
// the view drains. Wired to the cleanup cron.
func (ds *DeviceService) RemoveExpiredChallenges() {
	totalRows := int64(1) // start value to enter the loop
	for totalRows > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		now := time.Now().UTC().UnixMilli()
		query := fmt.Sprintf("_design/challenge/_view/expired?descending=true&startkey=%d&limit=100", now)
		response, err := ds.challengeRepo.GetByID(ctx, query)
		if err != nil {
			level.Error(global.Logger).Log("msg", "error getting expired challenges", "error", err)
			return
		}

		var expired challengeExpiredView
		if mErr := repository.MapToObject(response, &expired); mErr != nil {
			level.Error(global.Logger).Log("msg", "error mapping expired challenges", "error", mErr)
			return
		}
		if len(expired.Rows) > 0 {
			bulkDelete := []types.BaseDocument{}
			for _, row := range expired.Rows {
				bulkDelete = append(bulkDelete, types.BaseDocument{
					UnderscoreID:  row.ID,
					UnderscoreRev: row.Rev,
					Deleted:       true,
				})
			}
			payload := map[string]interface{}{
				"docs": bulkDelete,
			}
			if bErr := ds.challengeRepo.Update(ctx, "_bulk_docs", payload); bErr != nil {
				level.Error(global.Logger).Log("msg", "error deleting expired challenges", "error", bErr)
				return
			}
		}
		totalRows = int64(len(expired.Rows))
	}
}

func fingerprintCacheKey(accountID, fingerprintHash string) string {
	return fingerprintCachePrefix + util.Sha256Hex([]byte(accountID+":"+fingerprintHash))
}

func (ds *DeviceService) cacheVerified(ctx context.Context, accountID, fingerprintHash string) {
	if fingerprintHash == "" {
		return
	}
	if err := ds.env.RedisClient.Set(ctx, fingerprintCacheKey(accountID, fingerprintHash), "1", fingerprintCacheTTL).Err(); err != nil {
		level.Error(global.Logger).Log("msg", "fingerprint cache write failed", "error", err)
	}
}

func (ds *DeviceService) isRecentlyVerified(ctx context.Context, accountID, fingerprintHash string) (bool, error) {
	if fingerprintHash == "" {
		return false, nil
	}
	_, err := ds.env.RedisClient.Get(ctx, fingerprintCacheKey(accountID, fingerprintHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
