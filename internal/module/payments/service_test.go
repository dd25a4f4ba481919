package payments_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/payments"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// MockEventRepository is a mock implementation of payments.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Create(ctx context.Context, ev *payments.ProviderEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventRepository) GetByEventID(ctx context.Context, provider, eventID string) (*payments.ProviderEvent, error) {
	args := m.Called(ctx, provider, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.ProviderEvent), args.Error(1)
}

func (m *MockEventRepository) UpdateOutcome(ctx context.Context, ev *payments.ProviderEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventRepository) List(ctx context.Context, filters payments.EventFilters) ([]*payments.ProviderEvent, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payments.ProviderEvent), args.Error(1)
}

// MockLedger is a mock implementation of payments.Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreatePendingTransaction(ctx context.Context, intent ledger.Intent) (*ledger.Transaction, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockLedger) CompletePendingTransaction(ctx context.Context, id uuid.UUID, resp map[string]interface{}) (*ledger.Result, error) {
	args := m.Called(ctx, id, resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func (m *MockLedger) ProcessPendingTransaction(ctx context.Context, id uuid.UUID, ref *string, resp map[string]interface{}) (*ledger.Result, error) {
	args := m.Called(ctx, id, ref, resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func (m *MockLedger) FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*ledger.Transaction, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockLedger) ReverseTransaction(ctx context.Context, id uuid.UUID, reason string, resp map[string]interface{}) (*ledger.Result, error) {
	args := m.Called(ctx, id, reason, resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func (m *MockLedger) GetTransactionWithEntries(ctx context.Context, id uuid.UUID) (*ledger.Result, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func (m *MockLedger) GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockLedger) GetTransactionByProviderReference(ctx context.Context, ref string) (*ledger.Transaction, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

// MockWallets is a mock implementation of payments.WalletResolver
type MockWallets struct {
	mock.Mock
}

func (m *MockWallets) Create(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error) {
	args := m.Called(ctx, ownerType, ownerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWallets) GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error) {
	args := m.Called(ctx, ownerType, ownerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

type fixture struct {
	events  *MockEventRepository
	ledger  *MockLedger
	wallets *MockWallets
	svc     *payments.Service
}

func newFixture() *fixture {
	f := &fixture{
		events:  new(MockEventRepository),
		ledger:  new(MockLedger),
		wallets: new(MockWallets),
	}
	f.svc = payments.NewService(f.events, f.ledger, f.wallets, logger.Discard())
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.events.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.wallets.AssertExpectations(t)
}

func userWallet(userID uuid.UUID) *wallet.Wallet {
	return &wallet.Wallet{
		ID:            uuid.New(),
		OwnerType:     wallet.OwnerTypeUser,
		OwnerID:       userID,
		Currency:      "NGN",
		Status:        wallet.StatusActive,
		CachedBalance: big.NewInt(0),
	}
}

func txn(txType ledger.TransactionType, status ledger.TransactionStatus) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        uuid.New(),
		Reference: "TXN-20260309-" + txType.Code() + "-ABCDEF",
		Type:      txType,
		Status:    status,
		Amount:    big.NewInt(5000),
		Currency:  "NGN",
	}
}

func withStatus(status payments.EventStatus) interface{} {
	return mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
		return ev.Status == status
	})
}

// =============================================================================
// Deposit Tests
// =============================================================================

func TestService_InitializeDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	w := userWallet(userID)
	pending := txn(ledger.TxTypeDeposit, ledger.TransactionStatusPending)

	f.wallets.On("Create", ctx, wallet.OwnerTypeUser, userID, "").Return(w, nil)
	f.ledger.On("CreatePendingTransaction", ctx, mock.MatchedBy(func(i ledger.Intent) bool {
		return i.Type == ledger.TxTypeDeposit &&
			i.Amount.Cmp(big.NewInt(5000)) == 0 &&
			i.Currency == "NGN" &&
			i.InitiatedBy == userID &&
			i.SourceWalletID == nil &&
			*i.DestinationWalletID == w.ID &&
			i.Metadata["email"] == "ada@example.com" &&
			i.IdempotencyKey == "dep-1"
	})).Return(pending, nil)

	tx, err := f.svc.InitializeDeposit(ctx, payments.DepositRequest{
		UserID:         userID,
		Amount:         big.NewInt(5000),
		Email:          "ada@example.com",
		IdempotencyKey: "dep-1",
	})

	require.NoError(t, err)
	assert.Equal(t, pending, tx)
	f.assertExpectations(t)
}

func TestService_InitializeDeposit_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.InitializeDeposit(context.Background(), payments.DepositRequest{UserID: uuid.New(), Amount: big.NewInt(0)})
	assert.ErrorIs(t, err, payments.ErrInvalidAmount)

	_, err = f.svc.InitializeDeposit(context.Background(), payments.DepositRequest{Amount: big.NewInt(10)})
	assert.ErrorIs(t, err, payments.ErrInvalidUserID)

	f.wallets.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ConfirmDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := txn(ledger.TxTypeDeposit, ledger.TransactionStatusPending)
	resp := map[string]interface{}{"status": "success"}

	f.ledger.On("GetTransactionByProviderReference", ctx, pending.Reference).Return(nil, ledger.ErrTransactionNotFound)
	f.ledger.On("GetTransactionByReference", ctx, pending.Reference).Return(pending, nil)
	f.ledger.On("CompletePendingTransaction", ctx, pending.ID, resp).Return(&ledger.Result{Transaction: pending}, nil)

	result, err := f.svc.ConfirmDeposit(ctx, pending.Reference, resp)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, result.Transaction.ID)
	f.assertExpectations(t)
}

func TestService_ConfirmDeposit_WrongType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	withdrawal := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)

	f.ledger.On("GetTransactionByProviderReference", ctx, "ref").Return(withdrawal, nil)

	_, err := f.svc.ConfirmDeposit(ctx, "ref", nil)
	assert.ErrorIs(t, err, payments.ErrUnexpectedTransactionType)
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
}

// =============================================================================
// Withdrawal Tests
// =============================================================================

func TestService_RequestWithdrawal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	w := userWallet(userID)
	pending := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusPending)
	processing := *pending
	processing.Status = ledger.TransactionStatusProcessing

	f.wallets.On("GetByOwner", ctx, wallet.OwnerTypeUser, userID, "NGN").Return(w, nil)
	f.ledger.On("CreatePendingTransaction", ctx, mock.MatchedBy(func(i ledger.Intent) bool {
		dest, ok := i.Metadata["destination"].(map[string]interface{})
		return i.Type == ledger.TxTypeWithdrawal &&
			*i.SourceWalletID == w.ID &&
			i.DestinationWalletID == nil &&
			ok && dest["account_number"] == "0123456789"
	})).Return(pending, nil)
	f.ledger.On("ProcessPendingTransaction", ctx, pending.ID, mock.MatchedBy(func(ref *string) bool {
		return ref != nil && *ref == pending.Reference
	}), mock.Anything).Return(&ledger.Result{Transaction: &processing}, nil)

	result, err := f.svc.RequestWithdrawal(ctx, payments.WithdrawalRequest{
		UserID:      userID,
		Amount:      big.NewInt(5000),
		Destination: map[string]interface{}{"account_number": "0123456789", "bank_code": "058"},
	})

	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionStatusProcessing, result.Transaction.Status)
	f.ledger.AssertNotCalled(t, "FailTransaction", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestService_RequestWithdrawal_InsufficientBalanceRecordsFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	w := userWallet(userID)
	pending := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusPending)
	debitErr := ledger.ErrInsufficientBalance

	f.wallets.On("GetByOwner", ctx, wallet.OwnerTypeUser, userID, "NGN").Return(w, nil)
	f.ledger.On("CreatePendingTransaction", ctx, mock.Anything).Return(pending, nil)
	f.ledger.On("ProcessPendingTransaction", ctx, pending.ID, mock.Anything, mock.Anything).Return(nil, debitErr)
	f.ledger.On("FailTransaction", ctx, pending.ID, debitErr.Error()).Return(pending, nil)

	_, err := f.svc.RequestWithdrawal(ctx, payments.WithdrawalRequest{UserID: userID, Amount: big.NewInt(5000), Currency: "ngn"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, apperrors.CodeInsufficientBalance, apperrors.CodeOf(err))
	f.assertExpectations(t)
}

func TestService_RequestWithdrawal_ReplayReturnsStoredResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	w := userWallet(userID)
	existing := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)
	stored := &ledger.Result{Transaction: existing}

	f.wallets.On("GetByOwner", ctx, wallet.OwnerTypeUser, userID, "NGN").Return(w, nil)
	f.ledger.On("CreatePendingTransaction", ctx, mock.Anything).Return(existing, nil)
	f.ledger.On("GetTransactionWithEntries", ctx, existing.ID).Return(stored, nil)

	result, err := f.svc.RequestWithdrawal(ctx, payments.WithdrawalRequest{UserID: userID, Amount: big.NewInt(5000), IdempotencyKey: "wd-1"})

	require.NoError(t, err)
	assert.Same(t, stored, result)
	f.ledger.AssertNotCalled(t, "ProcessPendingTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestService_RequestWithdrawal_ReplayOfFailedIsRejected(t *testing.T) {
	for _, status := range []ledger.TransactionStatus{ledger.TransactionStatusFailed, ledger.TransactionStatusReversed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			userID := uuid.New()
			existing := txn(ledger.TxTypeWithdrawal, status)

			f.wallets.On("GetByOwner", ctx, wallet.OwnerTypeUser, userID, "NGN").Return(userWallet(userID), nil)
			f.ledger.On("CreatePendingTransaction", ctx, mock.Anything).Return(existing, nil)

			result, err := f.svc.RequestWithdrawal(ctx, payments.WithdrawalRequest{UserID: userID, Amount: big.NewInt(5000), IdempotencyKey: "wd-1"})

			assert.Nil(t, result)
			assert.ErrorIs(t, err, ledger.ErrIdempotencyKeyUsed)
			assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
			f.ledger.AssertNotCalled(t, "GetTransactionWithEntries", mock.Anything, mock.Anything)
			f.ledger.AssertNotCalled(t, "ProcessPendingTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.assertExpectations(t)
		})
	}
}

func TestService_RequestWithdrawal_NoWallet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()

	f.wallets.On("GetByOwner", ctx, wallet.OwnerTypeUser, userID, "NGN").Return(nil, wallet.ErrWalletNotFound)

	_, err := f.svc.RequestWithdrawal(ctx, payments.WithdrawalRequest{UserID: userID, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

// =============================================================================
// Provider Event Tests
// =============================================================================

func TestService_HandleEvent_ChargeSuccessCompletesDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := txn(ledger.TxTypeDeposit, ledger.TransactionStatusPending)
	payload := map[string]interface{}{"reference": pending.Reference}

	f.events.On("Create", ctx, mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
		return ev.Status == payments.EventStatusReceived && ev.EventID == "evt-1" && ev.Provider == payments.DefaultProvider
	})).Return(nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, pending.Reference).Return(nil, ledger.ErrTransactionNotFound)
	f.ledger.On("GetTransactionByReference", ctx, pending.Reference).Return(pending, nil)
	f.ledger.On("CompletePendingTransaction", ctx, pending.ID, payload).Return(&ledger.Result{Transaction: pending}, nil)
	f.events.On("UpdateOutcome", ctx, mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
		return ev.Status == payments.EventStatusProcessed &&
			ev.TransactionID != nil && *ev.TransactionID == pending.ID &&
			ev.ProcessedAt != nil && ev.Error == nil
	})).Return(nil)

	result, err := f.svc.HandleEvent(ctx, payments.Event{
		EventID:   "evt-1",
		Type:      payments.EventChargeSuccess,
		Reference: pending.Reference,
		Payload:   payload,
	})

	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, payments.EventStatusProcessed, result.Event.Status)
	f.assertExpectations(t)
}

func TestService_HandleEvent_DuplicateSuppressed(t *testing.T) {
	for _, status := range []payments.EventStatus{payments.EventStatusProcessed, payments.EventStatusIgnored} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			recorded := &payments.ProviderEvent{ID: uuid.New(), Provider: payments.DefaultProvider, EventID: "evt-1", Status: status}

			f.events.On("Create", ctx, mock.Anything).Return(payments.ErrDuplicateEvent)
			f.events.On("GetByEventID", ctx, payments.DefaultProvider, "evt-1").Return(recorded, nil)

			result, err := f.svc.HandleEvent(ctx, payments.Event{
				EventID:   "evt-1",
				Type:      payments.EventChargeSuccess,
				Reference: "TXN-1",
			})

			require.NoError(t, err)
			assert.True(t, result.Duplicate)
			assert.Same(t, recorded, result.Event)
			f.events.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything)
			f.ledger.AssertNotCalled(t, "CompletePendingTransaction", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_HandleEvent_FailedEventIsRetried(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	processing := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)
	prevErr := "storage failure"
	recorded := &payments.ProviderEvent{ID: uuid.New(), Provider: payments.DefaultProvider, EventID: "evt-9", Status: payments.EventStatusFailed, Error: &prevErr}

	f.events.On("Create", ctx, mock.Anything).Return(payments.ErrDuplicateEvent)
	f.events.On("GetByEventID", ctx, payments.DefaultProvider, "evt-9").Return(recorded, nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, processing.Reference).Return(processing, nil)
	f.ledger.On("CompletePendingTransaction", ctx, processing.ID, mock.Anything).Return(&ledger.Result{Transaction: processing}, nil)
	f.events.On("UpdateOutcome", ctx, mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
		return ev.ID == recorded.ID && ev.Status == payments.EventStatusProcessed && ev.Error == nil
	})).Return(nil)

	result, err := f.svc.HandleEvent(ctx, payments.Event{EventID: "evt-9", Type: payments.EventTransferSuccess, Reference: processing.Reference})

	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	f.assertExpectations(t)
}

func TestService_HandleEvent_TransferFailedFailsWithdrawal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	processing := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)

	f.events.On("Create", ctx, mock.Anything).Return(nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, processing.Reference).Return(processing, nil)
	f.ledger.On("FailTransaction", ctx, processing.ID, "Account closed").Return(processing, nil)
	f.events.On("UpdateOutcome", ctx, withStatus(payments.EventStatusProcessed)).Return(nil)

	_, err := f.svc.HandleEvent(ctx, payments.Event{
		EventID:   "evt-2",
		Type:      payments.EventTransferFailed,
		Reference: processing.Reference,
		Reason:    "Account closed",
	})

	require.NoError(t, err)
	f.ledger.AssertNotCalled(t, "ReverseTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestService_HandleEvent_TransferReversedReversesWithdrawal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	completed := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusCompleted)

	f.events.On("Create", ctx, mock.Anything).Return(nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, completed.Reference).Return(completed, nil)
	f.ledger.On("ReverseTransaction", ctx, completed.ID, payments.EventTransferReversed, mock.Anything).Return(&ledger.Result{Transaction: completed}, nil)
	f.events.On("UpdateOutcome", ctx, withStatus(payments.EventStatusProcessed)).Return(nil)

	_, err := f.svc.HandleEvent(ctx, payments.Event{EventID: "evt-3", Type: payments.EventTransferReversed, Reference: completed.Reference})

	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestService_HandleEvent_Ignored(t *testing.T) {
	completedDeposit := txn(ledger.TxTypeDeposit, ledger.TransactionStatusCompleted)

	tests := []struct {
		name  string
		event payments.Event
		setup func(f *fixture)
	}{
		{
			name:  "unhandled type",
			event: payments.Event{EventID: "e1", Type: "subscription.create", Reference: "x"},
		},
		{
			name:  "no reference",
			event: payments.Event{EventID: "e2", Type: payments.EventChargeSuccess},
		},
		{
			name:  "unknown reference",
			event: payments.Event{EventID: "e3", Type: payments.EventChargeSuccess, Reference: "nope"},
			setup: func(f *fixture) {
				f.ledger.On("GetTransactionByProviderReference", mock.Anything, "nope").Return(nil, ledger.ErrTransactionNotFound)
				f.ledger.On("GetTransactionByReference", mock.Anything, "nope").Return(nil, ledger.ErrTransactionNotFound)
			},
		},
		{
			name:  "already completed",
			event: payments.Event{EventID: "e4", Type: payments.EventChargeSuccess, Reference: completedDeposit.Reference},
			setup: func(f *fixture) {
				f.ledger.On("GetTransactionByProviderReference", mock.Anything, completedDeposit.Reference).Return(completedDeposit, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.events.On("Create", mock.Anything, mock.Anything).Return(nil)
			f.events.On("UpdateOutcome", mock.Anything, mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
				return ev.Status == payments.EventStatusIgnored && ev.Error != nil && *ev.Error != ""
			})).Return(nil)
			if tt.setup != nil {
				tt.setup(f)
			}

			result, err := f.svc.HandleEvent(context.Background(), tt.event)

			require.NoError(t, err)
			assert.Equal(t, payments.EventStatusIgnored, result.Event.Status)
			f.ledger.AssertNotCalled(t, "CompletePendingTransaction", mock.Anything, mock.Anything, mock.Anything)
			f.ledger.AssertNotCalled(t, "FailTransaction", mock.Anything, mock.Anything, mock.Anything)
			f.ledger.AssertNotCalled(t, "ReverseTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.assertExpectations(t)
		})
	}
}

func TestService_HandleEvent_EngineErrorMarksEventFailed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	processing := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)
	storageErr := apperrors.StorageFailure("failed to commit transaction", errors.New("connection reset"))

	f.events.On("Create", ctx, mock.Anything).Return(nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, processing.Reference).Return(processing, nil)
	f.ledger.On("FailTransaction", ctx, processing.ID, mock.Anything).Return(nil, storageErr)
	f.events.On("UpdateOutcome", ctx, mock.MatchedBy(func(ev *payments.ProviderEvent) bool {
		return ev.Status == payments.EventStatusFailed && ev.Error != nil
	})).Return(nil)

	_, err := f.svc.HandleEvent(ctx, payments.Event{EventID: "evt-5", Type: payments.EventTransferFailed, Reference: processing.Reference})

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStorageFailure, apperrors.CodeOf(err))
	f.assertExpectations(t)
}

func TestService_HandleEvent_WrongTransactionType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	withdrawal := txn(ledger.TxTypeWithdrawal, ledger.TransactionStatusProcessing)

	f.events.On("Create", ctx, mock.Anything).Return(nil)
	f.ledger.On("GetTransactionByProviderReference", ctx, withdrawal.Reference).Return(withdrawal, nil)
	f.events.On("UpdateOutcome", ctx, withStatus(payments.EventStatusFailed)).Return(nil)

	_, err := f.svc.HandleEvent(ctx, payments.Event{EventID: "evt-6", Type: payments.EventChargeSuccess, Reference: withdrawal.Reference})

	assert.ErrorIs(t, err, payments.ErrUnexpectedTransactionType)
	f.ledger.AssertNotCalled(t, "CompletePendingTransaction", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestService_HandleEvent_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleEvent(context.Background(), payments.Event{Type: payments.EventChargeSuccess})
	assert.ErrorIs(t, err, payments.ErrMissingEventID)

	_, err = f.svc.HandleEvent(context.Background(), payments.Event{EventID: "x"})
	assert.ErrorIs(t, err, payments.ErrMissingEventType)

	f.events.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_ListEvents_ClampsPage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.events.On("List", ctx, payments.EventFilters{Limit: 50, Offset: 0}).Return([]*payments.ProviderEvent{}, nil)

	_, err := f.svc.ListEvents(ctx, payments.EventFilters{Limit: 1000, Offset: -1})
	require.NoError(t, err)
	f.assertExpectations(t)
}
