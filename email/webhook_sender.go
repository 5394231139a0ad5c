package email

import (
	"fmt"
	"time"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-resty/resty/v2"
)

// WebhookSender posts email payloads to a provider webhook (mailgun-style
// HTTP API). One instance per configured hook.
type WebhookSender struct {
	client     *resty.Client
	webhookURL string
	sender     string
}

func NewWebhookSender(webhookURL string, webhookKey string, sender string) *WebhookSender {
	client := resty.New().
		SetTimeout(time.Second*10).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+webhookKey)
	return &WebhookSender{
		client:     client,
		webhookURL: webhookURL,
		sender:     sender,
	}
}

func (w *WebhookSender) SendDeviceCode(task *types.EmailTask) error {
	subject := "Your verification code"
	body := fmt.Sprintf(
		"A sign-in attempt from a new device requires verification.\n\nDevice: %s\nLocation: %s\n\nYour code: %s\n\nIf this wasn't you, change your password immediately.",
		orUnknown(task.DeviceName), orUnknown(task.Location), task.Code)
	return w.post(task.Recipient, subject, body)
}

func (w *WebhookSender) SendSecurityAlert(task *types.EmailTask) error {
	subject := "Security alert"
	body := fmt.Sprintf(
		"Security event on your wallet account: %s\n\nDevice: %s\nLocation: %s\n\nIf this wasn't you, change your password immediately.",
		task.Reason, orUnknown(task.DeviceName), orUnknown(task.Location))
	return w.post(task.Recipient, subject, body)
}

func (w *WebhookSender) post(recipient string, subject string, body string) error {
	var errResp map[string]interface{}
	resp, err := w.client.R().
		SetBody(map[string]interface{}{
			"from":    w.sender,
			"to":      recipient,
			"subject": subject,
			"text":    body,
		}).
		SetError(&errResp).
		Post(w.webhookURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("email webhook returned %d: %v", resp.StatusCode(), errResp)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
