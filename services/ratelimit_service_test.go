package services

import (
	"context"
	"testing"

	"github.com/tj/assert"
)

func TestRateLimitLockoutAfterFiveFailures(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	for i := 0; i < maxFailedAttempts-1; i++ {
		_, err := kit.rateLimit.RecordFailure(ctx, "acc-rl")
		assert.NoError(t, err)
		decision, dErr := kit.rateLimit.Check(ctx, "acc-rl")
		assert.NoError(t, dErr)
		assert.True(t, decision.Allowed)
		assert.Equal(t, maxFailedAttempts-i-1, decision.AttemptsRemaining)
	}

	state, err := kit.rateLimit.RecordFailure(ctx, "acc-rl")
	assert.NoError(t, err)
	assert.Equal(t, maxFailedAttempts, state.Count)
	assert.True(t, state.LockedUntil > 0)

	decision, err := kit.rateLimit.Check(ctx, "acc-rl")
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, decision.RetryAfterSeconds > 0)
	assert.True(t, decision.RetryAfterSeconds <= int64(maxLockout.Seconds()))
}

func TestRateLimitResetClearsState(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	for i := 0; i < maxFailedAttempts; i++ {
		_, err := kit.rateLimit.RecordFailure(ctx, "acc-rl2")
		assert.NoError(t, err)
	}
	decision, err := kit.rateLimit.Check(ctx, "acc-rl2")
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)

	assert.NoError(t, kit.rateLimit.Reset(ctx, "acc-rl2"))
	decision, err = kit.rateLimit.Check(ctx, "acc-rl2")
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, maxFailedAttempts, decision.AttemptsRemaining)
}

func TestRateLimitLockoutGrowsExponentially(t *testing.T) {
	kit := newUnlockTestKit(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 3; i++ {
		state, err := kit.rateLimit.RecordFailure(ctx, "acc-rl3")
		assert.NoError(t, err)
		if state.Count > maxFailedAttempts {
			assert.True(t, state.LockedUntil >= prev)
		}
		prev = state.LockedUntil
	}
	for i := 0; i < 4; i++ {
		state, err := kit.rateLimit.RecordFailure(ctx, "acc-rl3")
		assert.NoError(t, err)
		assert.True(t, state.LockedUntil >= prev)
		prev = state.LockedUntil
	}
}
