package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

const (
	maxFailedAttempts  = 5
	failureWindow      = 15 * time.Minute
	baseLockout        = 1 * time.Minute
	maxLockout         = 60 * time.Minute
	rateLimitKeyPrefix = "unlock:fail:"
)

// RateLimitService tracks failed unlock attempts per account. After 5
// failures inside a 15 minute window the account is locked with an
// exponentially growing cooldown, capped at 60 minutes. Successful unlock
// clears the state.
type RateLimitService struct {
	env *types.Environment
}

func NewRateLimitService(env *types.Environment) *RateLimitService {
	return &RateLimitService{env: env}
}

func rateLimitKey(accountID string) string {
	return rateLimitKeyPrefix + accountID
}

// Check reports whether an unlock attempt is currently allowed.
func (rl *RateLimitService) Check(ctx context.Context, accountID string) (*types.RateLimitDecision, error) {
	state, err := rl.getState(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().UnixMilli()
	if state == nil {
		return &types.RateLimitDecision{Allowed: true, AttemptsRemaining: maxFailedAttempts}, nil
	}
	if state.LockedUntil > now {
		return &types.RateLimitDecision{
			Allowed:           false,
			RetryAfterSeconds: (state.LockedUntil - now + 999) / 1000,
		}, nil
	}
	remaining := maxFailedAttempts - state.Count
	if remaining < 0 {
		remaining = 0
	}
	return &types.RateLimitDecision{Allowed: true, AttemptsRemaining: remaining}, nil
}

// RecordFailure bumps the failure counter. The window restarts when the
// previous one has lapsed; crossing the threshold arms the lockout.
func (rl *RateLimitService) RecordFailure(ctx context.Context, accountID string) (*types.RateLimitState, error) {
	now := time.Now().UTC().UnixMilli()
	state, err := rl.getState(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if state == nil || now-state.WindowStart > failureWindow.Milliseconds() {
		state = &types.RateLimitState{WindowStart: now}
	}
	state.Count++
	if state.Count >= maxFailedAttempts {
		// 1, 2, 4, 8 ... minutes, capped
		over := state.Count - maxFailedAttempts
		lockout := baseLockout << over
		if lockout > maxLockout || lockout <= 0 {
			lockout = maxLockout
		}
		state.LockedUntil = now + lockout.Milliseconds()
	}

	data, mErr := json.Marshal(state)
	if mErr != nil {
		return nil, mErr
	}
	// keep the state around long enough for the longest lockout to be visible
	ttl := failureWindow + maxLockout
	if sErr := rl.env.RedisClient.Set(ctx, rateLimitKey(accountID), data, ttl).Err(); sErr != nil {
		level.Error(global.Logger).Log("msg", "failed to persist rate limit state", "error", sErr)
		return nil, sErr
	}
	return state, nil
}

// Reset clears the failure state after a successful unlock.
func (rl *RateLimitService) Reset(ctx context.Context, accountID string) error {
	return rl.env.RedisClient.Del(ctx, rateLimitKey(accountID)).Err()
}

func (rl *RateLimitService) getState(ctx context.Context, accountID string) (*types.RateLimitState, error) {
	val, err := rl.env.RedisClient.Get(ctx, rateLimitKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rate limit state: %w", err)
	}
	var state types.RateLimitState
	if uErr := json.Unmarshal([]byte(val), &state); uErr != nil {
		return nil, uErr
	}
	return &state, nil
}
