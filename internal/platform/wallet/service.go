package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Service provides business logic for wallet operations
type Service struct {
	repo   Repository
	cache  Cache
	logger *logger.Logger
}

// NewService creates a new wallet service. cache may be nil.
func NewService(repo Repository, cache Cache, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: log.WithComponent("wallet"),
	}
}

// Create returns the wallet of the owner in the currency, creating it on first use.
// Calling it twice for the same owner and currency yields the same wallet.
func (s *Service) Create(ctx context.Context, ownerType OwnerType, ownerID uuid.UUID, currency string) (*Wallet, error) {
	if currency == "" {
		currency = money.DefaultCurrency
	}

	now := time.Now().UTC()
	candidate := &Wallet{
		ID:            uuid.New(),
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		Currency:      strings.ToUpper(currency),
		Status:        StatusActive,
		CachedBalance: big.NewInt(0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	w, err := s.repo.Create(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if w.ID == candidate.ID {
		s.logger.Info("wallet created",
			"wallet_id", w.ID,
			"owner_type", w.OwnerType,
			"owner_id", w.OwnerID,
			"currency", w.Currency,
		)
	}

	return w, nil
}

// GetByID retrieves a wallet by ID, serving from the snapshot cache when possible.
// A row loaded while a posting invalidates the wallet is returned but not cached.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	cacheable := false
	var version int64
	if s.cache != nil {
		if w, ok, err := s.cache.Get(ctx, id); err == nil && ok {
			return w, nil
		}
		v, err := s.cache.Version(ctx, id)
		if err != nil {
			s.logger.Warn("failed to read wallet cache version", "wallet_id", id, "error", err)
		} else {
			cacheable, version = true, v
		}
	}

	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.Set(ctx, w, version); err != nil {
			s.logger.Warn("failed to cache wallet", "wallet_id", id, "error", err)
		}
	}

	return w, nil
}

// GetByOwner retrieves an owner's wallet in a currency
func (s *Service) GetByOwner(ctx context.Context, ownerType OwnerType, ownerID uuid.UUID, currency string) (*Wallet, error) {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return s.repo.GetByOwner(ctx, ownerType, ownerID, strings.ToUpper(currency))
}

// ListByOwner retrieves all wallets of an owner
func (s *Service) ListByOwner(ctx context.Context, ownerType OwnerType, ownerID uuid.UUID) ([]*Wallet, error) {
	wallets, err := s.repo.ListByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// Freeze blocks debits on the wallet. Credits still land.
func (s *Service) Freeze(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return s.transition(ctx, id, StatusFrozen)
}

// Unfreeze re-enables debits on a frozen wallet
func (s *Service) Unfreeze(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return s.transition(ctx, id, StatusActive)
}

// Close permanently retires an empty wallet
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status == StatusClosed {
		return w, nil
	}

	closed, err := s.repo.Close(ctx, id)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.logger.Info("wallet closed", "wallet_id", id)
	return closed, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status) (*Wallet, error) {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case w.Status == to:
		return w, nil
	case w.Status == StatusClosed:
		return nil, fmt.Errorf("%w: wallet %s", ErrWalletClosed, id)
	}

	updated, err := s.repo.SetStatus(ctx, id, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet status: %w", err)
	}

	s.invalidate(ctx, id)
	s.logger.Info("wallet status changed", "wallet_id", id, "from", w.Status, "to", to)
	return updated, nil
}

// GetCachedBalance reads the balance maintained by the posting engine
func (s *Service) GetCachedBalance(ctx context.Context, id uuid.UUID) (*big.Int, error) {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.Balance(), nil
}

// GetLedgerBalance computes the balance from the wallet's ledger entries
func (s *Service) GetLedgerBalance(ctx context.Context, id uuid.UUID) (*big.Int, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	sum, err := s.repo.SumLedgerEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}

// Reconcile compares the cached balance against the ledger.
// Both come from the store in a single read; the snapshot cache is not consulted.
// A mismatch is reported as ErrBalanceMismatch and logged at ERROR; nothing is repaired.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	cached, computed, err := s.repo.BalanceSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance snapshot: %w", err)
	}

	rec := &Reconciliation{
		WalletID:      id,
		CachedBalance: cached,
		LedgerBalance: computed,
		Matches:       cached.Cmp(computed) == 0,
		CheckedAt:     time.Now().UTC(),
	}

	if !rec.Matches {
		s.logger.Error("wallet balance mismatch",
			"wallet_id", id,
			"cached", cached.String(),
			"ledger", computed.String(),
		)
		return rec, fmt.Errorf("%w: wallet %s cached=%s ledger=%s", ErrBalanceMismatch, id, cached, computed)
	}

	return rec, nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate wallet cache", "wallet_id", id, "error", err)
	}
}
