package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TransactionType is the kind of money movement a transaction records
type TransactionType string

const (
	TxTypeDeposit         TransactionType = "DEPOSIT"
	TxTypeWithdrawal      TransactionType = "WITHDRAWAL"
	TxTypeTransfer        TransactionType = "TRANSFER"
	TxTypeReversal        TransactionType = "REVERSAL"
	TxTypeAllocationTopup TransactionType = "ALLOCATION_TOPUP"
)

// AllTransactionTypes returns every supported transaction type
func AllTransactionTypes() []TransactionType {
	return []TransactionType{
		TxTypeDeposit,
		TxTypeWithdrawal,
		TxTypeTransfer,
		TxTypeReversal,
		TxTypeAllocationTopup,
	}
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	_, ok := typeCodes[t]
	return ok
}

// Code returns the three-letter code used in references
func (t TransactionType) Code() string {
	return typeCodes[t]
}

// Label returns a human-readable label
func (t TransactionType) Label() string {
	switch t {
	case TxTypeDeposit:
		return "Deposit"
	case TxTypeWithdrawal:
		return "Withdrawal"
	case TxTypeTransfer:
		return "Transfer"
	case TxTypeReversal:
		return "Reversal"
	case TxTypeAllocationTopup:
		return "Allocation Top-up"
	default:
		return "Unknown"
	}
}

var typeCodes = map[TransactionType]string{
	TxTypeDeposit:         "DEP",
	TxTypeWithdrawal:      "WTH",
	TxTypeTransfer:        "TRF",
	TxTypeReversal:        "REV",
	TxTypeAllocationTopup: "ALC",
}

// TransactionStatus is the lifecycle status of a transaction
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusReversed   TransactionStatus = "REVERSED"
)

// transitions lists, for every status, the statuses it may move to
var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusCompleted, TransactionStatusProcessing, TransactionStatusFailed},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusReversed},
	TransactionStatusCompleted:  {TransactionStatusReversed},
}

// IsValid checks if the status is valid
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusReversed:
		return true
	}
	return false
}

// IsTerminal reports whether normal flow ends in this status
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusReversed
}

// CanTransitionTo reports whether s → next is an allowed move
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Direction is the side of a ledger entry
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Opposite returns the other side
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Transaction records one money-movement intent and its lifecycle
type Transaction struct {
	ID                  uuid.UUID              `json:"id"`
	Reference           string                 `json:"reference"`
	IdempotencyKey      string                 `json:"idempotency_key"`
	Type                TransactionType        `json:"type"`
	Status              TransactionStatus      `json:"status"`
	Amount              *big.Int               `json:"amount"` // minor units, > 0
	Currency            string                 `json:"currency"`
	InitiatedBy         uuid.UUID              `json:"initiated_by"`
	SourceWalletID      *uuid.UUID             `json:"source_wallet_id,omitempty"`
	DestinationWalletID *uuid.UUID             `json:"destination_wallet_id,omitempty"`
	ProviderReference   *string                `json:"provider_reference,omitempty"`
	ProviderResponse    map[string]interface{} `json:"provider_response,omitempty"`
	FailureReason       *string                `json:"failure_reason,omitempty"`
	ReversalOf          *uuid.UUID             `json:"reversal_of,omitempty"`
	Description         string                 `json:"description,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
}

// Validate validates the transaction
func (t *Transaction) Validate() error {
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, t.Type)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, t.Status)
	}
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if t.SourceWalletID == nil && t.DestinationWalletID == nil {
		return ErrMissingWallet
	}
	if t.SourceWalletID != nil && t.DestinationWalletID != nil && *t.SourceWalletID == *t.DestinationWalletID {
		return ErrSameWallet
	}
	if t.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if t.Reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidIntent)
	}
	return nil
}

// WalletIDs returns the wallets the transaction touches, source first
func (t *Transaction) WalletIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.SourceWalletID != nil {
		ids = append(ids, *t.SourceWalletID)
	}
	if t.DestinationWalletID != nil {
		ids = append(ids, *t.DestinationWalletID)
	}
	return ids
}

// transitionTo moves the transaction to next, enforcing the state machine
func (t *Transaction) transitionTo(next TransactionStatus, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s (transaction %s)", ErrInvalidTransition, t.Status, next, t.ID)
	}
	t.Status = next
	t.UpdatedAt = at
	if next == TransactionStatusCompleted {
		t.CompletedAt = &at
	}
	return nil
}

// mergeProviderResponse folds new provider metadata over the stored response
func (t *Transaction) mergeProviderResponse(resp map[string]interface{}) {
	if len(resp) == 0 {
		return
	}
	if t.ProviderResponse == nil {
		t.ProviderResponse = make(map[string]interface{}, len(resp))
	}
	for k, v := range resp {
		t.ProviderResponse[k] = v
	}
}

// Entry is one immutable debit or credit against a wallet
type Entry struct {
	ID            ulid.ULID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	Direction     Direction `json:"direction"`
	Amount        *big.Int  `json:"amount"`
	Currency      string    `json:"currency"`
	BalanceAfter  *big.Int  `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate validates the entry
func (e *Entry) Validate() error {
	if e.Direction != Debit && e.Direction != Credit {
		return ErrInvalidDirection
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.BalanceAfter == nil || e.BalanceAfter.Sign() < 0 {
		return ErrNegativeBalance
	}
	return nil
}

// SignedAmount returns +amount for credits and -amount for debits
func (e *Entry) SignedAmount() *big.Int {
	if e.Direction == Debit {
		return new(big.Int).Neg(e.Amount)
	}
	return new(big.Int).Set(e.Amount)
}

// Result is a transaction together with the ledger entries it posted
type Result struct {
	Transaction *Transaction `json:"transaction"`
	Entries     []*Entry     `json:"entries"`
}

// Intent describes a requested money movement
type Intent struct {
	Type                TransactionType
	Amount              *big.Int // minor units
	Currency            string
	InitiatedBy         uuid.UUID
	SourceWalletID      *uuid.UUID
	DestinationWalletID *uuid.UUID
	ProviderReference   *string
	ProviderResponse    map[string]interface{}
	Metadata            map[string]interface{}
	Description         string
	// IdempotencyKey is generated when empty
	IdempotencyKey string
	// Guard runs inside the unit of work once the wallets are locked.
	// An error from it aborts the posting.
	Guard func(ctx context.Context) error

	reversalOf *uuid.UUID
}

// Validate checks the intent before anything is written
func (i *Intent) Validate() error {
	if !i.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, i.Type)
	}
	if i.Type == TxTypeReversal && i.reversalOf == nil {
		return fmt.Errorf("%w: reversals are posted through ReverseTransaction or FailTransaction", ErrInvalidIntent)
	}
	if i.Amount == nil || i.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if i.SourceWalletID == nil && i.DestinationWalletID == nil {
		return ErrMissingWallet
	}
	if i.SourceWalletID != nil && i.DestinationWalletID != nil && *i.SourceWalletID == *i.DestinationWalletID {
		return ErrSameWallet
	}
	if i.InitiatedBy == uuid.Nil {
		return fmt.Errorf("%w: initiator is required", ErrInvalidIntent)
	}
	return nil
}

// EntryFilters controls pagination of a wallet statement
type EntryFilters struct {
	Limit  int
	Offset int
	// Descending returns newest entries first
	Descending bool
}

// TransactionFilters controls listing of a wallet's transactions
type TransactionFilters struct {
	Type   *TransactionType
	Status *TransactionStatus
	Limit  int
	Offset int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Normalize clamps pagination to sane bounds
func (f EntryFilters) Normalize() EntryFilters {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return f
}

// Normalize clamps pagination to sane bounds
func (f TransactionFilters) Normalize() TransactionFilters {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return f
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
