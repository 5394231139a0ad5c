package types

// asynq task type names
const (
	QueueTypeDeviceCodeEmail    = "email:device_code"
	QueueTypeSecurityAlertEmail = "email:security_alert"
)

// EmailTask is the payload of both email task types. Recipient may be empty
// when AccountID is set; the queue worker resolves it from the account's
// security profile.
type EmailTask struct {
	AccountID  string `json:"accountId,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Location   string `json:"location,omitempty"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
