package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

const sessionIdentityPrefix = "session:identity:"

// IdentityService resolves which wallet identity is active for a client
// installation. Resolution order: the primary store, then the legacy
// pre-migration store, then the remote session cache. Hits below the primary
// tier are written back so the next lookup is local.
type IdentityService struct {
	identityRepo repository.Repository
	legacyRepo   repository.Repository
	activeRepo   repository.Repository
	env          *types.Environment
}

func NewIdentityService(dbSelector repository.DBSelector, env *types.Environment) *IdentityService {
	identityRepo, err := dbSelector.ChooseDB(repository.Identity)
	if err != nil {
		panic(err)
	}
	legacyRepo, err := dbSelector.ChooseDB(repository.IdentityLegacy)
	if err != nil {
		panic(err)
	}
	activeRepo, err := dbSelector.ChooseDB(repository.ActiveIdentity)
	if err != nil {
		panic(err)
	}
	return &IdentityService{
		identityRepo: identityRepo,
		legacyRepo:   legacyRepo,
		activeRepo:   activeRepo,
		env:          env,
	}
}

// GetIdentity looks an identity up by id across the tiers, healing the
// primary store when a lower tier hits.
func (is *IdentityService) GetIdentity(ctx context.Context, identityID string) (*types.WalletIdentity, error) {
	resp, err := is.identityRepo.GetByID(ctx, identityID)
	if err == nil {
		var identity types.WalletIdentity
		if mErr := repository.MapToObject(resp, &identity); mErr != nil {
			return nil, mErr
		}
		return &identity, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	// legacy tier
	legacyResp, lErr := is.legacyRepo.GetByID(ctx, identityID)
	if lErr == nil {
		var identity types.WalletIdentity
		if mErr := repository.MapToObject(legacyResp, &identity); mErr != nil {
			return nil, mErr
		}
		is.writeBack(ctx, &identity)
		return &identity, nil
	}
	if !errors.Is(lErr, types.ErrNotFound) {
		return nil, lErr
	}

	// remote session cache
	identity, sErr := is.getSessionIdentity(ctx, identityID)
	if sErr != nil {
		return nil, sErr
	}
	if identity != nil {
		is.writeBack(ctx, identity)
		return identity, nil
	}
	return nil, types.ErrNotFound
}

// SaveIdentity stores an identity in the primary tier.
func (is *IdentityService) SaveIdentity(ctx context.Context, identity *types.WalletIdentity) error {
	if !identity.Kind.Valid() {
		return types.ErrBadRequest
	}
	if identity.Created == 0 {
		identity.Created = time.Now().UTC().UnixMilli()
	}
	return is.identityRepo.Save(ctx, identity.IdentityID, identity)
}

// ListIdentities returns every known identity, primary tier only.
func (is *IdentityService) ListIdentities(ctx context.Context, limit int) ([]*types.WalletIdentity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"identityId": map[string]interface{}{
				"$gt": nil,
			},
		},
		"limit": limit,
	}
	resp, err := is.identityRepo.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	var result struct {
		Docs []*types.WalletIdentity `json:"docs"`
	}
	if mErr := repository.MapToObject(resp, &result); mErr != nil {
		return nil, mErr
	}
	return result.Docs, nil
}

// ResolveActive returns the active identity for an installation. A missing
// active record is healed from the remote session when one exists.
func (is *IdentityService) ResolveActive(ctx context.Context, installID string) (*types.WalletIdentity, error) {
	resp, err := is.activeRepo.GetByID(ctx, installID)
	if err == nil {
		var record types.ActiveIdentityRecord
		if mErr := repository.MapToObject(resp, &record); mErr != nil {
			return nil, mErr
		}
		return is.GetIdentity(ctx, record.IdentityID)
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	identity, sErr := is.getSessionIdentity(ctx, installID)
	if sErr != nil {
		return nil, sErr
	}
	if identity == nil {
		return nil, types.ErrNotFound
	}
	if aErr := is.SetActive(ctx, installID, identity.IdentityID, identity.Kind); aErr != nil {
		level.Error(global.Logger).Log("msg", "failed to heal active identity record", "error", aErr)
	}
	return identity, nil
}

// SetActive pins the active identity for an installation. The identity must
// resolve first; an unknown id is rejected.
func (is *IdentityService) SetActive(ctx context.Context, installID string, identityID string, kind types.IdentityKind) error {
	if !kind.Valid() {
		return types.ErrBadRequest
	}
	identity, err := is.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Kind != kind {
		return types.ErrBadRequest
	}

	record := &types.ActiveIdentityRecord{
		InstallID:  installID,
		IdentityID: identityID,
		Kind:       kind,
		Modified:   time.Now().UTC().UnixMilli(),
	}
	resp, gErr := is.activeRepo.GetByID(ctx, installID)
	if gErr == nil {
		var existing types.ActiveIdentityRecord
		if mErr := repository.MapToObject(resp, &existing); mErr == nil {
			record.UnderscoreRev = existing.UnderscoreRev
		}
	}
	if sErr := is.activeRepo.Save(ctx, installID, record); sErr != nil {
		return sErr
	}

	identity.LastUsedAt = time.Now().UTC().UnixMilli()
	if uErr := is.identityRepo.Update(ctx, identity.IdentityID, identity); uErr != nil {
		level.Error(global.Logger).Log("msg", "failed to update identity last use", "error", uErr)
	}
	return nil
}

// ClearActive removes the per-installation active record on sign-out. The
// identity itself and any device trust records stay.
func (is *IdentityService) ClearActive(ctx context.Context, installID string) error {
	err := is.activeRepo.Delete(ctx, installID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	is.env.RedisClient.Del(ctx, sessionIdentityPrefix+installID)
	return nil
}

// CacheSessionIdentity mirrors an identity into the remote session cache so
// a reinstalled client can recover its active identity.
func (is *IdentityService) CacheSessionIdentity(ctx context.Context, key string, identity *types.WalletIdentity, ttl time.Duration) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return is.env.RedisClient.Set(ctx, sessionIdentityPrefix+key, data, ttl).Err()
}

func (is *IdentityService) getSessionIdentity(ctx context.Context, key string) (*types.WalletIdentity, error) {
	val, err := is.env.RedisClient.Get(ctx, sessionIdentityPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var identity types.WalletIdentity
	if uErr := json.Unmarshal([]byte(val), &identity); uErr != nil {
		return nil, uErr
	}
	return &identity, nil
}

// writeBack heals the primary tier; failure is logged, never surfaced, the
// caller already has its identity.
func (is *IdentityService) writeBack(ctx context.Context, identity *types.WalletIdentity) {
	cp := *identity
	cp.BaseDocument = types.BaseDocument{}
	if err := is.identityRepo.Save(ctx, cp.IdentityID, &cp); err != nil {
		level.Error(global.Logger).Log("msg", "identity write-back failed", "error", err)
	}
}
