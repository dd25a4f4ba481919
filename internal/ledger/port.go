package ledger

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// Repository defines the interface for ledger persistence operations.
// Methods that mutate balances or lock rows only work inside a unit of work opened with BeginTx.
type Repository interface {
	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// GetTransactionForUpdate locks the transaction row until the unit of work ends
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	GetTransactionByProviderReference(ctx context.Context, providerReference string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, filters TransactionFilters) ([]*Transaction, error)

	// Entry operations (append-only - entries are immutable)
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*Entry, error)
	ListEntriesByWallet(ctx context.Context, walletID uuid.UUID, filters EntryFilters) ([]*Entry, error)

	// Wallet balance operations
	// LockWallet reads the wallet row under an exclusive lock held until the unit of work ends
	LockWallet(ctx context.Context, walletID uuid.UUID) (*wallet.Wallet, error)
	// UpdateWalletBalance is the only writer of cached balances
	UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance *big.Int) error

	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// EventPublisher receives lifecycle events after the unit of work commits
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// BalanceCache drops stale wallet snapshots after balances change
type BalanceCache interface {
	Invalidate(ctx context.Context, walletIDs ...uuid.UUID) error
}
