package types

// RateLimitState is the per (identity, operation) failure counter, stored in
// redis. Mutated on every failed password or code submission, cleared on
// success; expired challenges never count against it.
type RateLimitState struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
	LockedUntil int64 `json:"lockedUntil,omitempty"`
}

// RateLimitDecision answers a pre-submission check.
type RateLimitDecision struct {
	Allowed           bool
	RetryAfterSeconds int64
	AttemptsRemaining int
}
