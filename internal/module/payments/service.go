package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Service runs the provider-backed money flows: two-phase deposits, withdrawals
// to external accounts, and the provider notifications that settle them.
type Service struct {
	events  EventRepository
	ledger  Ledger
	wallets WalletResolver
	logger  *logger.Logger
	clock   func() time.Time
}

// NewService creates a new payments service
func NewService(events EventRepository, ledgerSvc Ledger, wallets WalletResolver, log *logger.Logger) *Service {
	return &Service{
		events:  events,
		ledger:  ledgerSvc,
		wallets: wallets,
		logger:  log.WithComponent("payments"),
		clock:   time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// InitializeDeposit records a PENDING deposit into the user's wallet. Money moves
// only when the provider confirms the charge.
func (s *Service) InitializeDeposit(ctx context.Context, req DepositRequest) (*ledger.Transaction, error) {
	if req.UserID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	w, err := s.wallets.Create(ctx, wallet.OwnerTypeUser, req.UserID, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user wallet: %w", err)
	}

	metadata := copyMap(req.Metadata)
	if req.Email != "" {
		metadata["email"] = req.Email
	}

	tx, err := s.ledger.CreatePendingTransaction(ctx, ledger.Intent{
		Type:                ledger.TxTypeDeposit,
		Amount:              req.Amount,
		Currency:            w.Currency,
		InitiatedBy:         req.UserID,
		DestinationWalletID: &w.ID,
		Metadata:            metadata,
		Description:         "Deposit via " + DefaultProvider,
		IdempotencyKey:      req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize deposit: %w", err)
	}

	s.logger.WithContext(ctx).Info("deposit initialized",
		"transaction_id", tx.ID,
		"reference", tx.Reference,
		"amount", tx.Amount.String(),
	)
	return tx, nil
}

// ConfirmDeposit credits a PENDING deposit once the provider reports the charge succeeded
func (s *Service) ConfirmDeposit(ctx context.Context, reference string, providerResponse map[string]interface{}) (*ledger.Result, error) {
	tx, err := s.findTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.Type != ledger.TxTypeDeposit {
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnexpectedTransactionType, tx.Reference, tx.Type)
	}
	return s.ledger.CompletePendingTransaction(ctx, tx.ID, providerResponse)
}

// RequestWithdrawal debits the user's wallet and leaves the withdrawal PROCESSING
// until the provider reports the payout. If the debit cannot be made the
// withdrawal is recorded FAILED and the debit error is returned. Replaying the
// key of a failed or reversed withdrawal is rejected like any other posting.
func (s *Service) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*ledger.Result, error) {
	if req.UserID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}
	w, err := s.wallets.GetByOwner(ctx, wallet.OwnerTypeUser, req.UserID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user wallet: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Withdrawal to bank account"
	}

	pending, err := s.ledger.CreatePendingTransaction(ctx, ledger.Intent{
		Type:           ledger.TxTypeWithdrawal,
		Amount:         req.Amount,
		Currency:       w.Currency,
		InitiatedBy:    req.UserID,
		SourceWalletID: &w.ID,
		Metadata:       map[string]interface{}{"destination": copyMap(req.Destination)},
		Description:    description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	// A replayed key returns what the first request left behind, unless that
	// withdrawal never went through
	switch pending.Status {
	case ledger.TransactionStatusPending:
	case ledger.TransactionStatusFailed, ledger.TransactionStatusReversed:
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrIdempotencyKeyUsed, pending.Reference, pending.Status)
	default:
		return s.ledger.GetTransactionWithEntries(ctx, pending.ID)
	}

	// Our reference doubles as the payout reference the provider reports back
	result, err := s.ledger.ProcessPendingTransaction(ctx, pending.ID, &pending.Reference, nil)
	if err != nil {
		if _, failErr := s.ledger.FailTransaction(ctx, pending.ID, err.Error()); failErr != nil {
			s.logger.WithContext(ctx).WithError(failErr).Error("failed to record withdrawal failure",
				"transaction_id", pending.ID,
			)
		}
		return nil, fmt.Errorf("failed to debit wallet for withdrawal: %w", err)
	}

	s.logger.WithContext(ctx).Info("withdrawal processing",
		"transaction_id", result.Transaction.ID,
		"reference", result.Transaction.Reference,
		"amount", result.Transaction.Amount.String(),
	)
	return result, nil
}

// HandleEvent records a provider notification and settles the transaction it refers to.
// Redeliveries of an event that was already processed or ignored do nothing.
// Events that failed, or never finished, are processed again.
func (s *Service) HandleEvent(ctx context.Context, event Event) (*HandleResult, error) {
	if event.EventID == "" {
		return nil, ErrMissingEventID
	}
	if event.Type == "" {
		return nil, ErrMissingEventType
	}
	if event.Provider == "" {
		event.Provider = DefaultProvider
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"provider":   event.Provider,
		"event_id":   event.EventID,
		"event_type": event.Type,
	})

	record := &ProviderEvent{
		ID:         uuid.New(),
		Provider:   event.Provider,
		EventID:    event.EventID,
		EventType:  event.Type,
		Reference:  event.Reference,
		Payload:    event.Payload,
		Status:     EventStatusReceived,
		ReceivedAt: s.now(),
	}

	err := s.events.Create(ctx, record)
	if errors.Is(err, ErrDuplicateEvent) {
		record, err = s.events.GetByEventID(ctx, event.Provider, event.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load recorded event: %w", err)
		}
		if record.Status.IsFinal() {
			log.Info("duplicate provider event suppressed", "status", record.Status)
			return &HandleResult{Event: record, Duplicate: true}, nil
		}
		log.Info("retrying provider event", "status", record.Status)
	} else if err != nil {
		return nil, fmt.Errorf("failed to record provider event: %w", err)
	}

	txID, ignoredBecause, dispatchErr := s.dispatch(ctx, event)

	processedAt := s.now()
	record.ProcessedAt = &processedAt
	record.TransactionID = txID
	switch {
	case dispatchErr != nil:
		msg := dispatchErr.Error()
		record.Status = EventStatusFailed
		record.Error = &msg
	case ignoredBecause != "":
		record.Status = EventStatusIgnored
		record.Error = &ignoredBecause
	default:
		record.Status = EventStatusProcessed
		record.Error = nil
	}

	if err := s.events.UpdateOutcome(ctx, record); err != nil {
		log.WithError(err).Error("failed to store provider event outcome", "status", record.Status)
		if dispatchErr == nil {
			return nil, fmt.Errorf("failed to store provider event outcome: %w", err)
		}
	}

	if dispatchErr != nil {
		log.WithError(dispatchErr).Warn("provider event failed")
		return nil, fmt.Errorf("failed to handle %s event %s: %w", event.Type, event.EventID, dispatchErr)
	}

	log.Info("provider event handled", "status", record.Status)
	return &HandleResult{Event: record}, nil
}

// dispatch applies one event to the ledger. It calls at most one of complete, fail
// or reverse, and returns a reason instead when the event has nothing to do.
func (s *Service) dispatch(ctx context.Context, event Event) (*uuid.UUID, string, error) {
	switch event.Type {
	case EventChargeSuccess, EventChargeFailed, EventTransferSuccess, EventTransferFailed, EventTransferReversed:
	default:
		return nil, "unhandled event type", nil
	}

	if event.Reference == "" {
		return nil, "event carries no reference", nil
	}

	tx, err := s.findTransaction(ctx, event.Reference)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, "no transaction for reference " + event.Reference, nil
	}
	if err != nil {
		return nil, "", err
	}
	id := tx.ID

	want := ledger.TxTypeWithdrawal
	if event.Type == EventChargeSuccess || event.Type == EventChargeFailed {
		want = ledger.TxTypeDeposit
	}
	if tx.Type != want {
		return &id, "", fmt.Errorf("%w: %s is a %s", ErrUnexpectedTransactionType, tx.Reference, tx.Type)
	}

	reason := event.Reason
	if reason == "" {
		reason = event.Type
	}

	switch event.Type {
	case EventChargeSuccess, EventTransferSuccess:
		if tx.Status == ledger.TransactionStatusCompleted {
			return &id, "transaction already completed", nil
		}
		_, err = s.ledger.CompletePendingTransaction(ctx, tx.ID, event.Payload)

	case EventChargeFailed, EventTransferFailed:
		if tx.Status == ledger.TransactionStatusFailed || tx.Status == ledger.TransactionStatusReversed {
			return &id, "transaction already " + strings.ToLower(string(tx.Status)), nil
		}
		_, err = s.ledger.FailTransaction(ctx, tx.ID, reason)

	case EventTransferReversed:
		if tx.Status == ledger.TransactionStatusReversed || tx.Status == ledger.TransactionStatusFailed {
			return &id, "transaction already " + strings.ToLower(string(tx.Status)), nil
		}
		_, err = s.ledger.ReverseTransaction(ctx, tx.ID, reason, event.Payload)
	}

	return &id, "", err
}

// findTransaction resolves a provider-reported reference, which is either the
// provider's own reference or ours
func (s *Service) findTransaction(ctx context.Context, reference string) (*ledger.Transaction, error) {
	tx, err := s.ledger.GetTransactionByProviderReference(ctx, reference)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, err
	}
	return s.ledger.GetTransactionByReference(ctx, reference)
}

// ListEvents returns recorded provider events, newest first
func (s *Service) ListEvents(ctx context.Context, filters EventFilters) ([]*ProviderEvent, error) {
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return s.events.List(ctx, filters)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
