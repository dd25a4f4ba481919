package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// Service is the posting engine. Every balance change in the system goes through it.
type Service struct {
	repo      Repository
	publisher EventPublisher
	cache     BalanceCache
	logger    *logger.Logger
	clock     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPublisher sets the sink for lifecycle events
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithBalanceCache sets the cache to invalidate after balances change
func WithBalanceCache(c BalanceCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates a new ledger service
func NewService(repo Repository, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Discard()
	}
	s := &Service{
		repo:      repo,
		publisher: NoopPublisher{},
		logger:    log.WithComponent("ledger"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now returns UTC time at the precision storage keeps, so a replayed result
// carries exactly the timestamps of the original call
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) newTransaction(intent Intent) (*Transaction, error) {
	now := s.now()

	reference, err := GenerateReference(intent.Type, now)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:                  uuid.New(),
		Reference:           reference,
		IdempotencyKey:      intent.IdempotencyKey,
		Type:                intent.Type,
		Status:              TransactionStatusPending,
		Amount:              new(big.Int).Set(intent.Amount),
		Currency:            intent.Currency,
		InitiatedBy:         intent.InitiatedBy,
		SourceWalletID:      intent.SourceWalletID,
		DestinationWalletID: intent.DestinationWalletID,
		ProviderReference:   intent.ProviderReference,
		ReversalOf:          intent.reversalOf,
		Description:         intent.Description,
		Metadata:            intent.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	tx.mergeProviderResponse(intent.ProviderResponse)

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	return tx, nil
}

// PostTransaction validates and posts a money movement in one atomic unit of work.
// Repeating a call with the idempotency key of a completed transaction returns the
// stored result without posting again. A failed posting leaves nothing behind.
func (s *Service) PostTransaction(ctx context.Context, intent Intent) (*Result, error) {
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = GenerateIdempotencyKey()
	}

	var result *Result
	posted := false

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetTransactionByIdempotencyKey(ctx, intent.IdempotencyKey)
		switch {
		case err == nil:
			result, err = s.replay(ctx, existing)
			return err
		case !errors.Is(err, ErrTransactionNotFound):
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		if err := intent.Validate(); err != nil {
			return err
		}

		tx, err := s.newTransaction(intent)
		if err != nil {
			return err
		}

		if err := s.repo.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		entries, err := s.post(ctx, tx, intent.Guard)
		if err != nil {
			return err
		}

		if err := tx.transitionTo(TransactionStatusCompleted, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to complete transaction: %w", err)
		}

		result = &Result{Transaction: tx, Entries: entries}
		posted = true
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "post transaction", err,
			"type", intent.Type,
			"idempotency_key", intent.IdempotencyKey,
		)
		return nil, err
	}

	if posted {
		s.afterCommit(ctx, EventTransactionCompleted, result.Transaction)
		s.logger.WithContext(ctx).Info("transaction posted",
			"transaction_id", result.Transaction.ID,
			"reference", result.Transaction.Reference,
			"type", result.Transaction.Type,
			"amount", result.Transaction.Amount.String(),
		)
	}

	return result, nil
}

// replay answers a repeated PostTransaction from what is already stored
func (s *Service) replay(ctx context.Context, existing *Transaction) (*Result, error) {
	switch existing.Status {
	case TransactionStatusCompleted:
		entries, err := s.repo.GetEntriesByTransaction(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load entries of %s: %w", existing.Reference, err)
		}
		return &Result{Transaction: existing, Entries: entries}, nil
	case TransactionStatusPending, TransactionStatusProcessing:
		return nil, fmt.Errorf("%w: %s is %s", ErrTransactionInProgress, existing.Reference, existing.Status)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrIdempotencyKeyUsed, existing.Reference, existing.Status)
	}
}

// CreatePendingTransaction records an intent whose money moves later, once an
// external provider confirms it. No entries are written and no balance changes.
// An existing transaction with the same idempotency key is returned as is.
func (s *Service) CreatePendingTransaction(ctx context.Context, intent Intent) (*Transaction, error) {
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = GenerateIdempotencyKey()
	}

	var tx *Transaction
	created := false

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetTransactionByIdempotencyKey(ctx, intent.IdempotencyKey)
		switch {
		case err == nil:
			tx = existing
			return nil
		case !errors.Is(err, ErrTransactionNotFound):
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		if err := intent.Validate(); err != nil {
			return err
		}

		pending, err := s.newTransaction(intent)
		if err != nil {
			return err
		}

		if err := s.repo.CreateTransaction(ctx, pending); err != nil {
			return fmt.Errorf("failed to create pending transaction: %w", err)
		}

		tx = pending
		created = true
		return nil
	})

	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent request won the insert; its record is the answer
		return s.repo.GetTransactionByIdempotencyKey(ctx, intent.IdempotencyKey)
	}
	if err != nil {
		s.logFailure(ctx, "create pending transaction", err,
			"type", intent.Type,
			"idempotency_key", intent.IdempotencyKey,
		)
		return nil, err
	}

	if created {
		s.afterCommit(ctx, EventTransactionPending, tx)
	}

	return tx, nil
}

// CompletePendingTransaction finalizes a PENDING or PROCESSING transaction.
// PENDING transactions post their entries now; PROCESSING ones already did.
// Completing a COMPLETED transaction returns the stored result.
func (s *Service) CompletePendingTransaction(ctx context.Context, id uuid.UUID, providerResponse map[string]interface{}) (*Result, error) {
	var result *Result
	changed := false

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		tx, err := s.repo.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}

		var entries []*Entry
		switch tx.Status {
		case TransactionStatusCompleted:
			entries, err = s.repo.GetEntriesByTransaction(ctx, tx.ID)
			if err != nil {
				return fmt.Errorf("failed to load entries of %s: %w", tx.Reference, err)
			}
			result = &Result{Transaction: tx, Entries: entries}
			return nil
		case TransactionStatusPending:
			entries, err = s.post(ctx, tx, nil)
			if err != nil {
				return err
			}
		case TransactionStatusProcessing:
			entries, err = s.repo.GetEntriesByTransaction(ctx, tx.ID)
			if err != nil {
				return fmt.Errorf("failed to load entries of %s: %w", tx.Reference, err)
			}
		default:
			return fmt.Errorf("%w: cannot complete %s transaction %s", ErrInvalidTransition, tx.Status, tx.Reference)
		}

		tx.mergeProviderResponse(providerResponse)
		if err := tx.transitionTo(TransactionStatusCompleted, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to complete transaction: %w", err)
		}

		result = &Result{Transaction: tx, Entries: entries}
		changed = true
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "complete transaction", err, "transaction_id", id)
		return nil, err
	}

	if changed {
		s.afterCommit(ctx, EventTransactionCompleted, result.Transaction)
	}

	return result, nil
}

// ProcessPendingTransaction moves a PENDING transaction to PROCESSING and posts its
// entries, reserving the money while an external provider works on it.
// Calling it on a PROCESSING transaction returns the stored result.
func (s *Service) ProcessPendingTransaction(ctx context.Context, id uuid.UUID, providerReference *string, providerResponse map[string]interface{}) (*Result, error) {
	var result *Result
	changed := false

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		tx, err := s.repo.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch tx.Status {
		case TransactionStatusProcessing:
			entries, err := s.repo.GetEntriesByTransaction(ctx, tx.ID)
			if err != nil {
				return fmt.Errorf("failed to load entries of %s: %w", tx.Reference, err)
			}
			result = &Result{Transaction: tx, Entries: entries}
			return nil
		case TransactionStatusPending:
		default:
			return fmt.Errorf("%w: cannot process %s transaction %s", ErrInvalidTransition, tx.Status, tx.Reference)
		}

		if err := setProviderReference(tx, providerReference); err != nil {
			return err
		}

		entries, err := s.post(ctx, tx, nil)
		if err != nil {
			return err
		}

		tx.mergeProviderResponse(providerResponse)
		if err := tx.transitionTo(TransactionStatusProcessing, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to mark transaction processing: %w", err)
		}

		result = &Result{Transaction: tx, Entries: entries}
		changed = true
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "process transaction", err, "transaction_id", id)
		return nil, err
	}

	if changed {
		s.afterCommit(ctx, EventTransactionProcessing, result.Transaction)
	}

	return result, nil
}

// FailTransaction marks a transaction FAILED. A PROCESSING transaction has already
// moved money, so a compensating REVERSAL is posted in the same unit of work.
// Failing a FAILED transaction returns it unchanged.
func (s *Service) FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	var failed *Transaction
	var reversal *Result
	changed := false

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		tx, err := s.repo.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch tx.Status {
		case TransactionStatusFailed:
			failed = tx
			return nil
		case TransactionStatusPending:
		case TransactionStatusProcessing:
			reversal, err = s.compensate(ctx, tx, reason)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: cannot fail %s transaction %s", ErrInvalidTransition, tx.Status, tx.Reference)
		}

		if err := tx.transitionTo(TransactionStatusFailed, s.now()); err != nil {
			return err
		}
		tx.FailureReason = &reason
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to mark transaction failed: %w", err)
		}

		failed = tx
		changed = true
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "fail transaction", err, "transaction_id", id)
		return nil, err
	}

	if changed {
		if reversal != nil {
			s.afterCommit(ctx, EventTransactionCompleted, reversal.Transaction)
		}
		s.afterCommit(ctx, EventTransactionFailed, failed)
		s.logger.WithContext(ctx).Info("transaction failed",
			"transaction_id", failed.ID,
			"reference", failed.Reference,
			"reason", reason,
			"compensated", reversal != nil,
		)
	}

	return failed, nil
}

// ReverseTransaction undoes a PROCESSING or COMPLETED transaction by posting a
// compensating REVERSAL, and marks the original REVERSED. Reversing a REVERSED
// transaction returns the reversal that was already posted.
func (s *Service) ReverseTransaction(ctx context.Context, id uuid.UUID, reason string, providerResponse map[string]interface{}) (*Result, error) {
	var reversal *Result
	var original *Transaction

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		tx, err := s.repo.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch tx.Status {
		case TransactionStatusReversed:
			reversal, err = s.existingReversal(ctx, tx)
			return err
		case TransactionStatusProcessing, TransactionStatusCompleted:
		default:
			return fmt.Errorf("%w: cannot reverse %s transaction %s", ErrInvalidTransition, tx.Status, tx.Reference)
		}

		reversal, err = s.compensate(ctx, tx, reason)
		if err != nil {
			return err
		}

		tx.mergeProviderResponse(providerResponse)
		if err := tx.transitionTo(TransactionStatusReversed, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to mark transaction reversed: %w", err)
		}

		original = tx
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "reverse transaction", err, "transaction_id", id)
		return nil, err
	}

	if original != nil {
		s.afterCommit(ctx, EventTransactionCompleted, reversal.Transaction)
		s.afterCommit(ctx, EventTransactionReversed, original)
		s.logger.WithContext(ctx).Info("transaction reversed",
			"transaction_id", original.ID,
			"reference", original.Reference,
			"reversal_reference", reversal.Transaction.Reference,
			"reason", reason,
		)
	}

	return reversal, nil
}

func (s *Service) existingReversal(ctx context.Context, original *Transaction) (*Result, error) {
	rev, err := s.repo.GetTransactionByIdempotencyKey(ctx, reversalKey(original.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to find reversal of %s: %w", original.Reference, err)
	}
	entries, err := s.repo.GetEntriesByTransaction(ctx, rev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries of %s: %w", rev.Reference, err)
	}
	return &Result{Transaction: rev, Entries: entries}, nil
}

// AnnotateProviderResponse merges provider metadata into a transaction in any status.
// A provider reference is set once; a different one later is a conflict.
func (s *Service) AnnotateProviderResponse(ctx context.Context, id uuid.UUID, providerReference *string, providerResponse map[string]interface{}) (*Transaction, error) {
	var annotated *Transaction

	err := s.inUnitOfWork(ctx, func(ctx context.Context) error {
		tx, err := s.repo.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if err := setProviderReference(tx, providerReference); err != nil {
			return err
		}
		tx.mergeProviderResponse(providerResponse)
		tx.UpdatedAt = s.now()

		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to annotate transaction: %w", err)
		}

		annotated = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	return annotated, nil
}

func setProviderReference(tx *Transaction, ref *string) error {
	if ref == nil || *ref == "" {
		return nil
	}
	if tx.ProviderReference != nil && *tx.ProviderReference != *ref {
		return fmt.Errorf("%w: %s has %q", ErrProviderReferenceSet, tx.Reference, *tx.ProviderReference)
	}
	value := *ref
	tx.ProviderReference = &value
	return nil
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// GetTransactionWithEntries retrieves a transaction together with its ledger entries
func (s *Service) GetTransactionWithEntries(ctx context.Context, id uuid.UUID) (*Result, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.GetEntriesByTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Transaction: tx, Entries: entries}, nil
}

// GetTransactionByReference retrieves a transaction by its human-readable reference
func (s *Service) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidIntent)
	}
	return s.repo.GetTransactionByReference(ctx, reference)
}

// GetTransactionByProviderReference retrieves a transaction by the external provider's reference
func (s *Service) GetTransactionByProviderReference(ctx context.Context, providerReference string) (*Transaction, error) {
	if providerReference == "" {
		return nil, fmt.Errorf("%w: provider reference is required", ErrInvalidIntent)
	}
	return s.repo.GetTransactionByProviderReference(ctx, providerReference)
}

// GetEntries retrieves the ledger entries of a transaction
func (s *Service) GetEntries(ctx context.Context, transactionID uuid.UUID) ([]*Entry, error) {
	return s.repo.GetEntriesByTransaction(ctx, transactionID)
}

// ListWalletEntries returns a page of a wallet's statement
func (s *Service) ListWalletEntries(ctx context.Context, walletID uuid.UUID, filters EntryFilters) ([]*Entry, error) {
	return s.repo.ListEntriesByWallet(ctx, walletID, filters.Normalize())
}

// ListWalletTransactions returns a page of the transactions touching a wallet
func (s *Service) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, filters TransactionFilters) ([]*Transaction, error) {
	return s.repo.ListTransactionsByWallet(ctx, walletID, filters.Normalize())
}

// afterCommit notifies subscribers and drops cached wallet snapshots.
// The money already moved, so failures here are logged and never returned.
func (s *Service) afterCommit(ctx context.Context, kind EventKind, tx *Transaction) {
	log := s.logger.WithContext(ctx).WithField("transaction_id", tx.ID)

	if err := s.publisher.Publish(ctx, NewEvent(kind, tx)); err != nil {
		log.WithError(err).Warn("failed to publish transaction event", "kind", kind)
	}

	if s.cache != nil {
		if ids := tx.WalletIDs(); len(ids) > 0 {
			if err := s.cache.Invalidate(ctx, ids...); err != nil {
				log.WithError(err).Warn("failed to invalidate wallet cache")
			}
		}
	}
}

// logFailure logs expected business rejections at debug and everything else at error
func (s *Service) logFailure(ctx context.Context, op string, err error, args ...any) {
	log := s.logger.WithContext(ctx).WithError(err)
	switch apperrors.CodeOf(err) {
	case apperrors.CodeStorageFailure, apperrors.CodeInternal:
		log.Error(op+" failed", args...)
	default:
		log.Debug(op+" rejected", args...)
	}
}
