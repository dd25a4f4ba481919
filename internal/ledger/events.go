package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names a transaction lifecycle change
type EventKind string

const (
	EventTransactionPending    EventKind = "transaction.pending"
	EventTransactionProcessing EventKind = "transaction.processing"
	EventTransactionCompleted  EventKind = "transaction.completed"
	EventTransactionFailed     EventKind = "transaction.failed"
	EventTransactionReversed   EventKind = "transaction.reversed"
)

// Event is published once per committed lifecycle change
type Event struct {
	Kind                EventKind         `json:"kind"`
	TransactionID       uuid.UUID         `json:"transaction_id"`
	Reference           string            `json:"reference"`
	Type                TransactionType   `json:"type"`
	Status              TransactionStatus `json:"status"`
	Amount              string            `json:"amount"`
	Currency            string            `json:"currency"`
	SourceWalletID      *uuid.UUID        `json:"source_wallet_id,omitempty"`
	DestinationWalletID *uuid.UUID        `json:"destination_wallet_id,omitempty"`
	ReversalOf          *uuid.UUID        `json:"reversal_of,omitempty"`
	OccurredAt          time.Time         `json:"occurred_at"`
}

// NewEvent snapshots tx into an event of the given kind
func NewEvent(kind EventKind, tx *Transaction) Event {
	return Event{
		Kind:                kind,
		TransactionID:       tx.ID,
		Reference:           tx.Reference,
		Type:                tx.Type,
		Status:              tx.Status,
		Amount:              tx.Amount.String(),
		Currency:            tx.Currency,
		SourceWalletID:      tx.SourceWalletID,
		DestinationWalletID: tx.DestinationWalletID,
		ReversalOf:          tx.ReversalOf,
		OccurredAt:          tx.UpdatedAt,
	}
}

// NoopPublisher discards events
type NoopPublisher struct{}

// Publish implements EventPublisher
func (NoopPublisher) Publish(context.Context, Event) error { return nil }
