package payments

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Provider event types acted upon. Anything else is recorded and ignored.
const (
	EventChargeSuccess    = "charge.success"
	EventChargeFailed     = "charge.failed"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// DefaultProvider names the provider when a webhook does not say
const DefaultProvider = "paystack"

// EventStatus is the processing status of a recorded provider event
type EventStatus string

const (
	EventStatusReceived  EventStatus = "RECEIVED"
	EventStatusProcessed EventStatus = "PROCESSED"
	EventStatusFailed    EventStatus = "FAILED"
	EventStatusIgnored   EventStatus = "IGNORED"
)

// IsFinal reports whether a redelivery of the event must be suppressed
func (s EventStatus) IsFinal() bool {
	return s == EventStatusProcessed || s == EventStatusIgnored
}

// Event is a provider notification as received
type Event struct {
	Provider  string
	EventID   string
	Type      string
	Reference string
	Reason    string
	Payload   map[string]interface{}
}

// ProviderEvent is the audit record of one provider notification.
// (Provider, EventID) is unique; it is how redeliveries are recognized.
type ProviderEvent struct {
	ID            uuid.UUID              `json:"id"`
	Provider      string                 `json:"provider"`
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Reference     string                 `json:"reference"`
	Payload       map[string]interface{} `json:"payload"`
	Status        EventStatus            `json:"status"`
	Error         *string                `json:"error,omitempty"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	ReceivedAt    time.Time              `json:"received_at"`
	ProcessedAt   *time.Time             `json:"processed_at,omitempty"`
}

// HandleResult is what HandleEvent did with an event
type HandleResult struct {
	Event *ProviderEvent `json:"event"`
	// Duplicate is true when the event had already been handled and nothing was done
	Duplicate bool `json:"duplicate"`
}

// EventFilters controls listing of recorded events
type EventFilters struct {
	Status *EventStatus
	Limit  int
	Offset int
}

// DepositRequest starts a two-phase deposit into the user's wallet
type DepositRequest struct {
	UserID         uuid.UUID
	Amount         *big.Int // minor units
	Currency       string
	Email          string
	IdempotencyKey string
	Metadata       map[string]interface{}
}

// WithdrawalRequest moves money out of the user's wallet to an external account
type WithdrawalRequest struct {
	UserID         uuid.UUID
	Amount         *big.Int // minor units
	Currency       string
	Destination    map[string]interface{} // bank account details, passed through to metadata
	Description    string
	IdempotencyKey string
}
