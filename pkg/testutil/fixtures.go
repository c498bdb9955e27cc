// Package testutil provides chain and notification fakes shared by tests.
package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/notify"
	"github.com/R3E-Network/subscription_layer/internal/chain"
)

// ChainStub serves canned application logs by transaction hash.
type ChainStub struct {
	mu   sync.RWMutex
	logs map[string]*chain.ApplicationLog
	err  error
}

// NewChainStub creates an empty stub. Unknown hashes are not found.
func NewChainStub() *ChainStub {
	return &ChainStub{logs: make(map[string]*chain.ApplicationLog)}
}

// Add registers log under hash.
func (c *ChainStub) Add(hash string, log *chain.ApplicationLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[hash] = log
}

// Fail makes every lookup return err. Nil restores normal behaviour.
func (c *ChainStub) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *ChainStub) GetApplicationLog(_ context.Context, hash string) (*chain.ApplicationLog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	if l, ok := c.logs[hash]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", chain.ErrTransactionNotFound, hash)
}

// TransferState encodes a NEP-17 Transfer notification state. An empty from
// encodes a mint.
func TransferState(from, to string, amount int64) (json.RawMessage, error) {
	enc := func(h string) (string, error) {
		if h == "" {
			return `{"type":"Any"}`, nil
		}
		u, err := chain.ParseScriptHash(h)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"type":"ByteString","value":%q}`, base64.StdEncoding.EncodeToString(u.BytesBE())), nil
	}
	fromItem, err := enc(from)
	if err != nil {
		return nil, err
	}
	toItem, err := enc(to)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"Array","value":[%s,%s,{"type":"Integer","value":"%d"}]}`, fromItem, toItem, amount)), nil
}

// TransferLog builds a halted application log holding one transfer of token.
func TransferLog(txHash, token, from, to string, amount int64) (*chain.ApplicationLog, error) {
	state, err := TransferState(from, to, amount)
	if err != nil {
		return nil, err
	}
	return &chain.ApplicationLog{
		TxID: txHash,
		Executions: []chain.Execution{{
			Trigger: chain.TriggerApplication,
			VMState: chain.VMStateHalt,
			Notifications: []chain.Notification{{
				Contract:  token,
				EventName: chain.TransferEvent,
				State:     state,
			}},
		}},
	}, nil
}

// RecordingSender reaches users with a webhook URL and records deliveries.
type RecordingSender struct {
	mu   sync.Mutex
	sent []Delivery
	err  error
}

// Delivery is one recorded send.
type Delivery struct {
	Wallet  string
	Message notify.Message
}

// FailWith makes subsequent sends return err.
func (r *RecordingSender) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingSender) CanReach(u subscription.User) bool { return u.NotificationURL != "" }

func (r *RecordingSender) Send(_ context.Context, u subscription.User, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, Delivery{Wallet: u.WalletAddress, Message: msg})
	return nil
}

// Sent returns a copy of the deliveries so far.
func (r *RecordingSender) Sent() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.sent...)
}
