package amqp

import (
	"encoding/json"
	"time"
)

// Routing keys on the direct exchange. The ledger queue binds to both.
const (
	RoutingKeyExpenseCreated = "expense.created"
	RoutingKeyExpenseDeleted = "expense.deleted"
)

// MessageVersion is the envelope schema version carried by every message.
const MessageVersion = 1

// ExpenseCreatedMessage announces a stored expense that still needs a ledger
// row. It carries only identifiers, the worker fetches the full expense from
// the database.
type ExpenseCreatedMessage struct {
	ExpenseID string    `json:"expense_id"`
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExpenseCreatedMessage creates a new created message for an expense
func NewExpenseCreatedMessage(expenseID, userID string) *ExpenseCreatedMessage {
	return &ExpenseCreatedMessage{
		ExpenseID: expenseID,
		UserID:    userID,
		Version:   MessageVersion,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseCreatedMessageFromJSON creates a message from JSON bytes
func ExpenseCreatedMessageFromJSON(data []byte) (*ExpenseCreatedMessage, error) {
	var msg ExpenseCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ExpenseDeletedMessage announces a deleted expense. The expense row is gone
// by the time the worker sees this, so the ledger ref rides along.
type ExpenseDeletedMessage struct {
	ExpenseID string    `json:"expense_id"`
	UserID    string    `json:"user_id"`
	LedgerRef string    `json:"ledger_ref,omitempty"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExpenseDeletedMessage creates a new deleted message for an expense
func NewExpenseDeletedMessage(expenseID, userID, ledgerRef string) *ExpenseDeletedMessage {
	return &ExpenseDeletedMessage{
		ExpenseID: expenseID,
		UserID:    userID,
		LedgerRef: ledgerRef,
		Version:   MessageVersion,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseDeletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseDeletedMessageFromJSON creates a message from JSON bytes
func ExpenseDeletedMessageFromJSON(data []byte) (*ExpenseDeletedMessage, error) {
	var msg ExpenseDeletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
