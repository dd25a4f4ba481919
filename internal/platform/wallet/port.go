package wallet

import (
	"context"
	"math/big"

	"github.com/google/uuid"
)

// Repository defines the interface for wallet data access.
// It deliberately has no balance setter: cached balances are written only by the
// ledger posting engine while it holds the wallet row lock.
type Repository interface {
	// Create inserts the wallet unless one already exists for its (owner type, owner ID, currency)
	// and returns the canonical row either way
	Create(ctx context.Context, wallet *Wallet) (*Wallet, error)

	// GetByID retrieves a wallet by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error)

	// GetByOwner retrieves the wallet of an owner in a currency
	GetByOwner(ctx context.Context, ownerType OwnerType, ownerID uuid.UUID, currency string) (*Wallet, error)

	// ListByOwner retrieves all wallets of an owner
	ListByOwner(ctx context.Context, ownerType OwnerType, ownerID uuid.UUID) ([]*Wallet, error)

	// SetStatus changes the status only; the balance is untouched
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Wallet, error)

	// Close marks the wallet CLOSED if, and only if, its cached balance is zero
	Close(ctx context.Context, id uuid.UUID) (*Wallet, error)

	// SumLedgerEntries returns credits minus debits over every ledger entry of the wallet
	SumLedgerEntries(ctx context.Context, id uuid.UUID) (*big.Int, error)

	// BalanceSnapshot reads the cached balance and the ledger sum in one statement,
	// so both reflect the same set of committed postings
	BalanceSnapshot(ctx context.Context, id uuid.UUID) (cached, ledger *big.Int, err error)
}

// Cache is an optional read-through snapshot cache for wallets.
// Snapshots are advisory; the posting engine always reads the locked row.
//
// Every Invalidate bumps the wallet's version. A reader takes the version before
// it loads the row and hands it to Set, which drops the snapshot if an
// invalidation happened in between.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*Wallet, bool, error)
	Version(ctx context.Context, id uuid.UUID) (int64, error)
	Set(ctx context.Context, wallet *Wallet, version int64) error
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}
