package types

// DeviceFingerprint is computed client-side and submitted with every unlock
// attempt. It is derived, never secret; the server canonicalizes it into
// FingerprintHash when the client did not.
type DeviceFingerprint struct {
	FingerprintHash  string `json:"fingerprintHash"`
	DeviceName       string `json:"deviceName"`
	Browser          string `json:"browser"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
	OS               string `json:"os"`
	OSVersion        string `json:"osVersion,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"` // best effort, filled from the request when absent
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Language         string `json:"language,omitempty"`
	RiskScore        int    `json:"riskScore"` // 0-100
	IsTor            bool   `json:"isTor"`
	IsVPN            bool   `json:"isVPN"`
	IsIncognito      bool   `json:"isIncognito"`
}

// TrustedDevice is the server-side record of a device that completed
// verification for an account. The persisted DeviceID is stable across
// browser updates while the fingerprint hash may drift; both are consulted.
type TrustedDevice struct {
	BaseDocument     `json:",inline"`
	AccountID        string `json:"accountId" validate:"required"`
	DeviceID         string `json:"deviceId" validate:"required"`
	DeviceName       string `json:"deviceName"`
	FingerprintHash  string `json:"fingerprintHash"`
	Browser          string `json:"browser,omitempty"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
	OS               string `json:"os,omitempty"`
	OSVersion        string `json:"osVersion,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
	Country          string `json:"country,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
	VerifiedAt       int64  `json:"verifiedAt,omitempty"` // 0 = pending verification
	LastUsedAt       int64  `json:"lastUsedAt,omitempty"`
	Created          int64  `json:"created"`
}

// DeviceTrust is the evaluator's classification of the current device.
type DeviceTrust int

const (
	DeviceTrusted DeviceTrust = iota
	DeviceUnknown
	DeviceHighRisk
)

func (t DeviceTrust) String() string {
	switch t {
	case DeviceTrusted:
		return "trusted"
	case DeviceUnknown:
		return "unknown"
	case DeviceHighRisk:
		return "high_risk"
	}
	return "unknown"
}

// ChallengeKind selects the delivery variant of a device verification
// challenge: a 6-digit code typed into the app, or an emailed link.
type ChallengeKind string

const (
	ChallengeKindCode ChallengeKind = "code"
	ChallengeKindLink ChallengeKind = "link"
)

// ChallengeState tracks a challenge to one of its terminal states.
type ChallengeState string

const (
	ChallengePending   ChallengeState = "pending"
	ChallengeVerified  ChallengeState = "verified"
	ChallengeExpired   ChallengeState = "expired"
	ChallengeExhausted ChallengeState = "exhausted"
)

// DeviceVerificationChallenge is ephemeral and server-issued. One challenge
// is active per account; issuing a new one expires the prior.
type DeviceVerificationChallenge struct {
	BaseDocument      `json:",inline"`
	Token             string         `json:"token"`
	AccountID         string         `json:"accountId"`
	DeviceID          string         `json:"deviceId"`
	Kind              ChallengeKind  `json:"kind"`
	Code              string         `json:"code"` // 6 digits for the code variant
	State             ChallengeState `json:"state"`
	ExpiresAt         int64          `json:"expiresAt"`
	AttemptsRemaining int            `json:"attemptsRemaining"`
	Created           int64          `json:"created"`
}

// DeviceMatchDetails records which signals contributed to an approximate
// fingerprint match when the persisted device id was not found.
type DeviceMatchDetails struct {
	FingerprintSimilarity float64 `json:"fingerprintSimilarity"`
	IPMatch               bool    `json:"ipMatch"`
	BrowserMatch          bool    `json:"browserMatch"`
	OSMatch               bool    `json:"osMatch"`
	LocationMatch         bool    `json:"locationMatch"`
}

// DeviceMatchResult is the outcome of multi-signal device matching.
type DeviceMatchResult struct {
	Device  *TrustedDevice      `json:"device,omitempty"`
	Score   int                 `json:"score"`
	Details *DeviceMatchDetails `json:"details,omitempty"`
}
