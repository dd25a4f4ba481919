package allocation

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// Repository defines the interface for allocation data access
type Repository interface {
	Create(ctx context.Context, a *Allocation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Allocation, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*Allocation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error

	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*Rule, error)
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListRules(ctx context.Context, allocationID uuid.UUID) ([]*Rule, error)

	// SumDebitsSince sums the DEBIT entries of a wallet created at or after since
	SumDebitsSince(ctx context.Context, walletID uuid.UUID, since time.Time) (*big.Int, error)
}

// MemberDirectory is the role-check contract of the org module
type MemberDirectory interface {
	RequireRole(ctx context.Context, orgID, userID uuid.UUID, roles ...org.Role) (*org.Member, error)
}

// Ledger posts funding and spending
type Ledger interface {
	PostTransaction(ctx context.Context, intent ledger.Intent) (*ledger.Result, error)
}

// Wallets manages the wallets allocations move money between
type Wallets interface {
	Create(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
	Freeze(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	Unfreeze(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
}

// UnitOfWork runs fn atomically; every repository call made with the ctx it passes joins it
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
