package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

const (
	// TriggerApplication is the execution trigger of a regular transaction.
	TriggerApplication = "Application"
	// VMStateHalt marks a successful execution.
	VMStateHalt = "HALT"
	// TransferEvent is the NEP-17 transfer notification name.
	TransferEvent = "Transfer"
)

// ApplicationLog is the application log for a transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution in the application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	Exception     string         `json:"exception,omitempty"`
	GasConsumed   string         `json:"gasconsumed"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract notification. State keeps the typed stack item JSON.
type Notification struct {
	Contract  string          `json:"contract"`
	EventName string          `json:"eventname"`
	State     json.RawMessage `json:"state"`
}

// Succeeded reports whether the transaction's application execution halted cleanly.
func (l *ApplicationLog) Succeeded() bool {
	found := false
	for _, exec := range l.Executions {
		if !strings.EqualFold(exec.Trigger, TriggerApplication) {
			continue
		}
		found = true
		if !strings.EqualFold(exec.VMState, VMStateHalt) {
			return false
		}
	}
	return found
}

// Transfers decodes every Transfer notification emitted by token.
// Malformed notifications are skipped.
func (l *ApplicationLog) Transfers(token util.Uint160) []Transfer {
	var out []Transfer
	for _, exec := range l.Executions {
		if !strings.EqualFold(exec.Trigger, TriggerApplication) {
			continue
		}
		for _, n := range exec.Notifications {
			if n.EventName != TransferEvent {
				continue
			}
			contract, err := ParseScriptHash(n.Contract)
			if err != nil || !contract.Equals(token) {
				continue
			}
			tr, err := DecodeTransfer(n)
			if err != nil {
				continue
			}
			out = append(out, *tr)
		}
	}
	return out
}

// Transfer is a decoded NEP-17 Transfer notification.
// From or To is nil for mint and burn respectively.
type Transfer struct {
	Contract util.Uint160
	From     *util.Uint160
	To       *util.Uint160
	Amount   *big.Int
}

// DecodeTransfer parses [from, to, amount] from a Transfer notification state.
func DecodeTransfer(n Notification) (*Transfer, error) {
	contract, err := ParseScriptHash(n.Contract)
	if err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	item, err := stackitem.FromJSONWithTypes(n.State)
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	fields, ok := item.Value().([]stackitem.Item)
	if !ok || len(fields) != 3 {
		return nil, fmt.Errorf("transfer state: expected 3-element array")
	}

	from, err := hash160Field(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	to, err := hash160Field(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	amount, err := fields[2].TryInteger()
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &Transfer{Contract: contract, From: from, To: to, Amount: amount}, nil
}

func hash160Field(item stackitem.Item) (*util.Uint160, error) {
	if item.Type() == stackitem.AnyT {
		return nil, nil
	}
	raw, err := item.TryBytes()
	if err != nil {
		return nil, err
	}
	u, err := util.Uint160DecodeBytesBE(raw)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
