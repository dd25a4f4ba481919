package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// EventRepository persists the provider event audit trail
type EventRepository interface {
	// Create inserts a RECEIVED event; an existing (provider, event ID) yields ErrDuplicateEvent
	Create(ctx context.Context, event *ProviderEvent) error
	GetByEventID(ctx context.Context, provider, eventID string) (*ProviderEvent, error)
	// UpdateOutcome stores status, error, transaction ID and processed time
	UpdateOutcome(ctx context.Context, event *ProviderEvent) error
	List(ctx context.Context, filters EventFilters) ([]*ProviderEvent, error)
}

// Ledger is the part of the posting engine the payment flows drive
type Ledger interface {
	CreatePendingTransaction(ctx context.Context, intent ledger.Intent) (*ledger.Transaction, error)
	CompletePendingTransaction(ctx context.Context, id uuid.UUID, providerResponse map[string]interface{}) (*ledger.Result, error)
	ProcessPendingTransaction(ctx context.Context, id uuid.UUID, providerReference *string, providerResponse map[string]interface{}) (*ledger.Result, error)
	FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*ledger.Transaction, error)
	ReverseTransaction(ctx context.Context, id uuid.UUID, reason string, providerResponse map[string]interface{}) (*ledger.Result, error)
	GetTransactionWithEntries(ctx context.Context, id uuid.UUID) (*ledger.Result, error)
	GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
	GetTransactionByProviderReference(ctx context.Context, providerReference string) (*ledger.Transaction, error)
}

// WalletResolver finds user wallets
type WalletResolver interface {
	// Create returns the owner's wallet in the currency, creating it on first use
	Create(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
	GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
}
