package types

// UnlockStatus is the top-level tag of an UnlockResult.
type UnlockStatus string

const (
	UnlockStatusUnlocked           UnlockStatus = "unlocked"
	UnlockStatusDeviceVerification UnlockStatus = "device_verification"
	UnlockStatusSecondFactor       UnlockStatus = "second_factor"
	UnlockStatusFailed             UnlockStatus = "failed"
)

// FailureReason is the specific classification of a failed unlock. The
// surface never collapses these into a generic failure: wrong password,
// expired code, rate limited and offline all demand different next actions
// from the user.
type FailureReason string

const (
	FailureInvalidPassword            FailureReason = "invalid_password"
	FailureRateLimited                FailureReason = "rate_limited"
	FailureDeviceUntrusted            FailureReason = "device_untrusted"
	FailureDeviceChallengeExpired     FailureReason = "device_challenge_expired"
	FailureDeviceChallengeExhausted   FailureReason = "device_challenge_exhausted"
	FailureSecondFactorInvalid        FailureReason = "second_factor_invalid"
	FailureSecondFactorExpiredSession FailureReason = "second_factor_expired_session"
	FailureBiometricUnavailable       FailureReason = "biometric_unavailable"
	FailureBiometricCeremonyFailed    FailureReason = "biometric_ceremony_failed"
	FailureVaultCorrupt               FailureReason = "vault_corrupt"
	FailureNoVaultPresent             FailureReason = "no_vault_present"
	FailureNetworkUnavailable         FailureReason = "network_unavailable"
)

// DeviceChallengeInfo is the client-visible part of an issued challenge; the
// code itself travels by email, never in the response.
type DeviceChallengeInfo struct {
	Token             string        `json:"token"`
	Kind              ChallengeKind `json:"kind"`
	ExpiresAt         int64         `json:"expiresAt"`
	AttemptsRemaining int           `json:"attemptsRemaining"`
	EmailHint         string        `json:"emailHint,omitempty"`
}

// UnlockResult is the tagged outcome of every unlock-flow operation.
type UnlockResult struct {
	Status UnlockStatus `json:"status"`

	// set when Status == UnlockStatusUnlocked
	Mnemonic     string `json:"mnemonic,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	AutoLockAt   int64  `json:"autoLockAt,omitempty"` // 0 = never

	// set when Status == UnlockStatusDeviceVerification
	Challenge *DeviceChallengeInfo `json:"challenge,omitempty"`

	// set when Status == UnlockStatusSecondFactor
	SecondFactorHint string `json:"secondFactorHint,omitempty"`
	AttemptToken     string `json:"attemptToken,omitempty"`

	// set when Status == UnlockStatusFailed
	Reason            FailureReason `json:"reason,omitempty"`
	RetryAfterSeconds int64         `json:"retryAfterSeconds,omitempty"`
	AttemptsRemaining *int          `json:"attemptsRemaining,omitempty"`
}

// Unlocked builds a success result.
func Unlocked(mnemonic, token string, autoLockAt int64) *UnlockResult {
	return &UnlockResult{
		Status:       UnlockStatusUnlocked,
		Mnemonic:     mnemonic,
		SessionToken: token,
		AutoLockAt:   autoLockAt,
	}
}

// UnlockFailed builds a failure result.
func UnlockFailed(reason FailureReason) *UnlockResult {
	return &UnlockResult{Status: UnlockStatusFailed, Reason: reason}
}

// PendingUnlockAttempt is the server-side record behind an issued
// AttemptToken. It exists only after the password and device gates passed,
// so a second factor submission carrying its token is always bound to a
// verified attempt.
type PendingUnlockAttempt struct {
	AccountID string       `json:"accountId"`
	Kind      IdentityKind `json:"kind"`
	IssuedAt  int64        `json:"issuedAt"`
	ExpiresAt int64        `json:"expiresAt"`
}
