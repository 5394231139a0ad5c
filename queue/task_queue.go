package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emberwallet/go-vault-server/email"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
)

// TaskQueue processes the security email tasks enqueued by the unlock flow:
// device verification codes and security alerts. Delivery goes through the
// registered sender hooks; with several hooks configured the first success
// wins.
type TaskQueue struct {
	twoFactorService *services.TwoFactorService
	env              *types.Environment
}

func NewTaskQueue(dbSelector *repository.CouchDBSelector, env *types.Environment) *TaskQueue {
	twoFactorService := services.NewTwoFactorService(dbSelector, env)
	return &TaskQueue{
		twoFactorService: twoFactorService,
		env:              env,
	}
}

// ProcessEmailTask handles both email task types.
func (tq *TaskQueue) ProcessEmailTask(ctx context.Context, t *asynq.Task) error {
	var task types.EmailTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if task.Recipient == "" && task.AccountID != "" {
		profile, pErr := tq.twoFactorService.GetProfile(ctx, task.AccountID)
		if pErr == nil {
			task.Recipient = profile.Email
		}
	}
	if task.Recipient == "" {
		return fmt.Errorf("email task without recipient: %w", asynq.SkipRetry)
	}

	switch t.Type() {
	case types.QueueTypeDeviceCodeEmail:
		return tq.deliver(func(s email.Sender) error { return s.SendDeviceCode(&task) })
	case types.QueueTypeSecurityAlertEmail:
		return tq.deliver(func(s email.Sender) error { return s.SendSecurityAlert(&task) })
	default:
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}
}

func (tq *TaskQueue) deliver(send func(email.Sender) error) error {
	names := email.Senders()
	if len(names) == 0 {
		level.Error(global.Logger).Log("msg", "no email senders registered, dropping task")
		return asynq.SkipRetry
	}
	var lastErr error
	for _, name := range names {
		sender := email.GetSender(name)
		if sender == nil {
			continue
		}
		if err := send(sender); err != nil {
			level.Error(global.Logger).Log("msg", "email delivery failed", "sender", name, "error", err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
