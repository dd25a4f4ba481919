package wallet

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// OwnerType identifies what kind of party owns a wallet
type OwnerType string

const (
	OwnerTypeUser       OwnerType = "USER"
	OwnerTypeOrg        OwnerType = "ORG"
	OwnerTypeAllocation OwnerType = "ALLOCATION"
)

// IsValid checks if the owner type is valid
func (t OwnerType) IsValid() bool {
	switch t {
	case OwnerTypeUser, OwnerTypeOrg, OwnerTypeAllocation:
		return true
	}
	return false
}

// Status is the lifecycle status of a wallet
type Status string

const (
	StatusActive Status = "ACTIVE" // Debits and credits allowed
	StatusFrozen Status = "FROZEN" // Credits only
	StatusClosed Status = "CLOSED" // Nothing; terminal
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// CanDebit reports whether money may leave a wallet in this status
func (s Status) CanDebit() bool {
	return s == StatusActive
}

// CanCredit reports whether money may enter a wallet in this status
func (s Status) CanCredit() bool {
	return s == StatusActive || s == StatusFrozen
}

// Wallet holds a cached balance in minor units for a single owner and currency.
// CachedBalance always equals the sum of the wallet's CREDIT entries minus its DEBIT entries.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	OwnerType     OwnerType `json:"owner_type"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	CachedBalance *big.Int  `json:"cached_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate validates wallet fields for creation
func (w *Wallet) Validate() error {
	if !w.OwnerType.IsValid() {
		return ErrInvalidOwnerType
	}
	if w.OwnerID == uuid.Nil {
		return ErrInvalidOwnerID
	}
	if len(w.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if !w.Status.IsValid() {
		return ErrInvalidStatus
	}
	if w.CachedBalance == nil || w.CachedBalance.Sign() < 0 {
		return ErrNegativeBalance
	}
	return nil
}

// Balance returns a copy of the cached balance, never nil
func (w *Wallet) Balance() *big.Int {
	if w.CachedBalance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(w.CachedBalance)
}

// Reconciliation is the outcome of comparing a wallet's cached balance with its ledger
type Reconciliation struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	CachedBalance *big.Int  `json:"cached_balance"`
	LedgerBalance *big.Int  `json:"ledger_balance"`
	Matches       bool      `json:"matches"`
	CheckedAt     time.Time `json:"checked_at"`
}
