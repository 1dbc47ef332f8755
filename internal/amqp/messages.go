package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"conti/internal/core"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindTransactionEvent Kind = "transaction_event"
	KindLedgerRepair     Kind = "ledger_repair"
)

// Action is the mutation a TransactionEvent reports.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// TransactionEvent reports a completed mutation. Transaction holds the
// persisted state, or the last state for deletes.
type TransactionEvent struct {
	Action      Action      `json:"action"`
	OwnerUID    string      `json:"ownerUid"`
	Transaction core.Record `json:"transaction"`
}

// Envelope is the single message shape on the queue.
type Envelope struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Event     *TransactionEvent `json:"event,omitempty"`
	Repair    *core.Repair      `json:"repair,omitempty"`
}

func NewTransactionEvent(action Action, tx core.Transaction) *Envelope {
	return &Envelope{
		Kind:      KindTransactionEvent,
		Timestamp: time.Now(),
		Event: &TransactionEvent{
			Action:      action,
			OwnerUID:    tx.OwnerUID,
			Transaction: tx.Record(),
		},
	}
}

// NewLedgerRepair wraps adjustments the worker should re-apply.
func NewLedgerRepair(repair core.Repair) *Envelope {
	return &Envelope{
		Kind:      KindLedgerRepair,
		Timestamp: time.Now(),
		Repair:    &repair,
	}
}

// ToJSON converts the message to JSON bytes
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EnvelopeFromJSON decodes a message and checks that the payload matches its kind.
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindTransactionEvent:
		if env.Event == nil {
			return nil, fmt.Errorf("%s message without event", env.Kind)
		}
	case KindLedgerRepair:
		if env.Repair == nil {
			return nil, fmt.Errorf("%s message without repair", env.Kind)
		}
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
	return &env, nil
}
