package types

// TwoFactorSession is the time-boxed "second factor satisfied" lease for an
// account. Its presence waives re-prompting; it never unlocks the vault by
// itself. Stored in redis with a TTL matching ExpiresAt, one lease per
// account (creating a new one overwrites the prior).
type TwoFactorSession struct {
	AccountID         string `json:"accountId"`
	Token             string `json:"token"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`
	IssuedAt          int64  `json:"issuedAt"`
	ExpiresAt         int64  `json:"expiresAt"`
}

// TwoFactorStatus answers "does this account need a second factor right now".
type TwoFactorStatus struct {
	Required         bool  `json:"required"`
	ExpiresAt        int64 `json:"expiresAt,omitempty"`
	SecondsRemaining int64 `json:"secondsRemaining,omitempty"`
	NearExpiry       bool  `json:"nearExpiry,omitempty"` // less than 5 minutes remaining
}
