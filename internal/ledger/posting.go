package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// inUnitOfWork runs fn inside one database transaction.
// Any error, or a panic, rolls back every write fn made.
func (s *Service) inUnitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Rollback on any error - ignore rollback errors as the commit failed anyway
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	committed = true
	return nil
}

// post writes the ledger entries of tx and moves the cached balances.
// Wallet rows are locked in ascending ID order so that two postings over the same
// pair of wallets in opposite directions cannot deadlock.
func (s *Service) post(ctx context.Context, tx *Transaction, guard func(ctx context.Context) error) ([]*Entry, error) {
	locked, err := s.lockWallets(ctx, tx.WalletIDs())
	if err != nil {
		return nil, err
	}

	if guard != nil {
		if err := guard(ctx); err != nil {
			return nil, err
		}
	}

	entries := make([]*Entry, 0, 2)

	if tx.SourceWalletID != nil {
		entry, err := s.debit(ctx, tx, locked[*tx.SourceWalletID])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if tx.DestinationWalletID != nil {
		entry, err := s.credit(ctx, tx, locked[*tx.DestinationWalletID])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *Service) lockWallets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*wallet.Wallet, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})

	locked := make(map[uuid.UUID]*wallet.Wallet, len(ordered))
	for _, id := range ordered {
		w, err := s.repo.LockWallet(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock wallet %s: %w", id, err)
		}
		locked[id] = w
	}

	return locked, nil
}

func (s *Service) debit(ctx context.Context, tx *Transaction, w *wallet.Wallet) (*Entry, error) {
	if !canDebit(tx.Type, w.Status) {
		return nil, fmt.Errorf("%w: wallet %s is %s", ErrWalletNotUsable, w.ID, w.Status)
	}
	if w.Currency != tx.Currency {
		return nil, fmt.Errorf("%w: wallet %s holds %s, transaction is %s", ErrCurrencyMismatch, w.ID, w.Currency, tx.Currency)
	}

	balance := w.Balance()
	if balance.Cmp(tx.Amount) < 0 {
		return nil, fmt.Errorf("%w: wallet %s has %s, needs %s", ErrInsufficientBalance, w.ID, balance, tx.Amount)
	}

	return s.appendEntry(ctx, tx, w, Debit, new(big.Int).Sub(balance, tx.Amount))
}

func (s *Service) credit(ctx context.Context, tx *Transaction, w *wallet.Wallet) (*Entry, error) {
	if !w.Status.CanCredit() {
		return nil, fmt.Errorf("%w: wallet %s is %s", ErrWalletNotUsable, w.ID, w.Status)
	}
	if w.Currency != tx.Currency {
		return nil, fmt.Errorf("%w: wallet %s holds %s, transaction is %s", ErrCurrencyMismatch, w.ID, w.Currency, tx.Currency)
	}

	return s.appendEntry(ctx, tx, w, Credit, new(big.Int).Add(w.Balance(), tx.Amount))
}

func (s *Service) appendEntry(ctx context.Context, tx *Transaction, w *wallet.Wallet, dir Direction, balanceAfter *big.Int) (*Entry, error) {
	now := s.now()
	entry := &Entry{
		ID:            newEntryID(now),
		TransactionID: tx.ID,
		WalletID:      w.ID,
		Direction:     dir,
		Amount:        new(big.Int).Set(tx.Amount),
		Currency:      tx.Currency,
		BalanceAfter:  balanceAfter,
		CreatedAt:     now,
	}

	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s entry: %w", dir, err)
	}

	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append %s entry: %w", dir, err)
	}

	if err := s.repo.UpdateWalletBalance(ctx, w.ID, balanceAfter); err != nil {
		return nil, fmt.Errorf("failed to update balance of wallet %s: %w", w.ID, err)
	}
	w.CachedBalance = new(big.Int).Set(balanceAfter)

	return entry, nil
}

// canDebit allows compensating reversals to pull money back out of a frozen wallet.
// Closed wallets are never debited.
func canDebit(t TransactionType, status wallet.Status) bool {
	if status.CanDebit() {
		return true
	}
	return t == TxTypeReversal && status == wallet.StatusFrozen
}

// compensate posts a REVERSAL that undoes every entry of original: each debited
// wallet is credited back and each credited wallet is debited.
// It must run inside the unit of work that holds original's row lock.
func (s *Service) compensate(ctx context.Context, original *Transaction, reason string) (*Result, error) {
	entries, err := s.repo.GetEntriesByTransaction(ctx, original.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries of %s: %w", original.Reference, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToReverse, original.Reference)
	}

	originalID := original.ID
	intent := Intent{
		Type:           TxTypeReversal,
		Amount:         new(big.Int).Set(original.Amount),
		Currency:       original.Currency,
		InitiatedBy:    original.InitiatedBy,
		IdempotencyKey: reversalKey(original.ID),
		Description:    fmt.Sprintf("Reversal of %s: %s", original.Reference, reason),
		Metadata: map[string]interface{}{
			"reason":             reason,
			"original_reference": original.Reference,
		},
		reversalOf: &originalID,
	}

	for _, e := range entries {
		walletID := e.WalletID
		switch e.Direction {
		case Debit:
			intent.DestinationWalletID = &walletID
		case Credit:
			intent.SourceWalletID = &walletID
		}
	}

	reversal, err := s.newTransaction(intent)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateTransaction(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to create reversal of %s: %w", original.Reference, err)
	}

	revEntries, err := s.post(ctx, reversal, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to post reversal of %s: %w", original.Reference, err)
	}

	if err := reversal.transitionTo(TransactionStatusCompleted, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTransaction(ctx, reversal); err != nil {
		return nil, fmt.Errorf("failed to complete reversal of %s: %w", original.Reference, err)
	}

	return &Result{Transaction: reversal, Entries: revEntries}, nil
}
