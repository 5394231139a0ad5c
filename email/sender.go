package email

import (
	"sort"
	"sync"

	"github.com/emberwallet/go-vault-server/types"
)

// Sender delivers a transactional security email (device verification code,
// security alert) through a specific provider.
type Sender interface {
	SendDeviceCode(task *types.EmailTask) error
	SendSecurityAlert(task *types.EmailTask) error
}

var (
	sendersMu sync.RWMutex
	senders   = make(map[string]Sender)
)

// RegisterSender makes a sender available by the provided name.
// If RegisterSender is called twice with the same name or if sender is nil,
// it panics.
func RegisterSender(name string, s Sender) {
	sendersMu.Lock()
	defer sendersMu.Unlock()
	if s == nil {
		panic("email: Register sender is nil")
	}
	if _, dup := senders[name]; dup {
		panic("email: Register called twice for sender " + name)
	}
	senders[name] = s
}

// for tests only
func UnregisterAllSenders() {
	sendersMu.Lock()
	defer sendersMu.Unlock()
	senders = make(map[string]Sender)
}

// Senders returns a sorted list of the names of the registered senders.
func Senders() []string {
	sendersMu.RLock()
	defer sendersMu.RUnlock()
	list := make([]string, 0, len(senders))
	for name := range senders {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func GetSender(name string) Sender {
	sendersMu.RLock()
	defer sendersMu.RUnlock()
	if s, ok := senders[name]; ok {
		return s
	}
	return nil
}
