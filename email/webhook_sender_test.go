package email

import (
	"testing"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestSenderRegistry(t *testing.T) {
	defer UnregisterAllSenders()

	s := NewWebhookSender("https://hooks.example.com/mail", "key", "security@example.com")
	RegisterSender("example", s)

	assert.Equal(t, []string{"example"}, Senders())
	assert.NotNil(t, GetSender("example"))
	assert.Nil(t, GetSender("missing"))
}

func TestSendDeviceCode(t *testing.T) {
	s := NewWebhookSender("https://hooks.example.com/mail", "key", "security@example.com")
	httpmock.ActivateNonDefault(s.client.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/mail",
		httpmock.NewStringResponder(200, `{"id":"msg-1"}`))

	err := s.SendDeviceCode(&types.EmailTask{
		Recipient:  "alice@example.com",
		DeviceName: "Chrome on macOS",
		Location:   "Berlin",
		Code:       "123456",
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSendDeviceCodeWebhookError(t *testing.T) {
	s := NewWebhookSender("https://hooks.example.com/mail", "key", "security@example.com")
	httpmock.ActivateNonDefault(s.client.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/mail",
		httpmock.NewStringResponder(500, `{"error":"boom"}`))

	err := s.SendDeviceCode(&types.EmailTask{Recipient: "alice@example.com", Code: "123456"})
	assert.Error(t, err)
}
