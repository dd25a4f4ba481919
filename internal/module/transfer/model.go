package transfer

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// Request moves money from one user's wallet to another's
type Request struct {
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	Amount         *big.Int // minor units
	Currency       string
	Description    string
	IdempotencyKey string
}

// Validate checks the request before any wallet is looked up
func (r *Request) Validate() error {
	if r.SenderID == uuid.Nil {
		return ErrMissingSender
	}
	if r.RecipientID == uuid.Nil {
		return ErrMissingRecipient
	}
	if r.SenderID == r.RecipientID {
		return ErrSelfTransfer
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Ledger posts transfers
type Ledger interface {
	PostTransaction(ctx context.Context, intent ledger.Intent) (*ledger.Result, error)
}

// WalletRepository defines the interface for wallet lookups
type WalletRepository interface {
	GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
}
