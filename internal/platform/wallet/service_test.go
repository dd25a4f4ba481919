package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// MockWalletRepository is a mock implementation of wallet.Repository
type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Create(ctx context.Context, w *wallet.Wallet) (*wallet.Wallet, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, *wallet.Wallet) *wallet.Wallet); ok {
		return fn(ctx, w), args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error) {
	args := m.Called(ctx, ownerType, ownerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) ListByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID) ([]*wallet.Wallet, error) {
	args := m.Called(ctx, ownerType, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) SetStatus(ctx context.Context, id uuid.UUID, status wallet.Status) (*wallet.Wallet, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Close(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockWalletRepository) SumLedgerEntries(ctx context.Context, id uuid.UUID) (*big.Int, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockWalletRepository) BalanceSnapshot(ctx context.Context, id uuid.UUID) (*big.Int, *big.Int, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*big.Int), args.Get(1).(*big.Int), args.Error(2)
}

// MockCache is a mock implementation of wallet.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, id uuid.UUID) (*wallet.Wallet, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*wallet.Wallet), args.Bool(1), args.Error(2)
}

func (m *MockCache) Version(ctx context.Context, id uuid.UUID) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, w *wallet.Wallet, version int64) error {
	return m.Called(ctx, w, version).Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	return m.Called(ctx, ids).Error(0)
}

// versionedCache keeps snapshots in memory with the same version fencing as the Redis cache
type versionedCache struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*wallet.Wallet
	versions  map[uuid.UUID]int64
}

func newVersionedCache() *versionedCache {
	return &versionedCache{
		snapshots: make(map[uuid.UUID]*wallet.Wallet),
		versions:  make(map[uuid.UUID]int64),
	}
}

func (c *versionedCache) Get(_ context.Context, id uuid.UUID) (*wallet.Wallet, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.snapshots[id]
	return w, ok, nil
}

func (c *versionedCache) Version(_ context.Context, id uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[id], nil
}

func (c *versionedCache) Set(_ context.Context, w *wallet.Wallet, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[w.ID] == version {
		c.snapshots[w.ID] = w
	}
	return nil
}

func (c *versionedCache) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.versions[id]++
		delete(c.snapshots, id)
	}
	return nil
}

func newWallet(status wallet.Status, balance int64) *wallet.Wallet {
	return &wallet.Wallet{
		ID:            uuid.New(),
		OwnerType:     wallet.OwnerTypeUser,
		OwnerID:       uuid.New(),
		Currency:      "NGN",
		Status:        status,
		CachedBalance: big.NewInt(balance),
	}
}

func TestWalletService_Create(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	tests := []struct {
		name      string
		ownerType wallet.OwnerType
		ownerID   uuid.UUID
		currency  string
		setupMock func(*MockWalletRepository)
		wantErr   error
	}{
		{
			name:      "defaults currency and starts active with zero balance",
			ownerType: wallet.OwnerTypeUser,
			ownerID:   ownerID,
			setupMock: func(m *MockWalletRepository) {
				m.On("Create", ctx, mock.MatchedBy(func(w *wallet.Wallet) bool {
					return w.Currency == "NGN" && w.Status == wallet.StatusActive && w.CachedBalance.Sign() == 0
				})).Return(func(_ context.Context, w *wallet.Wallet) *wallet.Wallet { return w }, nil)
			},
		},
		{
			name:      "invalid owner type",
			ownerType: wallet.OwnerType("BANK"),
			ownerID:   ownerID,
			setupMock: func(m *MockWalletRepository) {},
			wantErr:   wallet.ErrInvalidOwnerType,
		},
		{
			name:      "nil owner",
			ownerType: wallet.OwnerTypeOrg,
			ownerID:   uuid.Nil,
			setupMock: func(m *MockWalletRepository) {},
			wantErr:   wallet.ErrInvalidOwnerID,
		},
		{
			name:      "bad currency",
			ownerType: wallet.OwnerTypeOrg,
			ownerID:   ownerID,
			currency:  "NAIRA",
			setupMock: func(m *MockWalletRepository) {},
			wantErr:   wallet.ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockWalletRepository)
			tt.setupMock(repo)
			svc := wallet.NewService(repo, nil, logger.Discard())

			w, err := svc.Create(ctx, tt.ownerType, tt.ownerID, tt.currency)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ownerID, w.OwnerID)
			repo.AssertExpectations(t)
		})
	}
}

func TestWalletService_Create_ReturnsExisting(t *testing.T) {
	ctx := context.Background()
	existing := newWallet(wallet.StatusActive, 500)

	repo := new(MockWalletRepository)
	repo.On("Create", ctx, mock.AnythingOfType("*wallet.Wallet")).Return(existing, nil)
	svc := wallet.NewService(repo, nil, logger.Discard())

	w, err := svc.Create(ctx, existing.OwnerType, existing.OwnerID, "ngn")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, w.ID)
	assert.Equal(t, int64(500), w.CachedBalance.Int64())
}

func TestWalletService_FreezeUnfreeze(t *testing.T) {
	ctx := context.Background()

	t.Run("freeze active wallet", func(t *testing.T) {
		w := newWallet(wallet.StatusActive, 100)
		frozen := *w
		frozen.Status = wallet.StatusFrozen

		repo := new(MockWalletRepository)
		cache := new(MockCache)
		repo.On("GetByID", ctx, w.ID).Return(w, nil)
		repo.On("SetStatus", ctx, w.ID, wallet.StatusFrozen).Return(&frozen, nil)
		cache.On("Invalidate", ctx, []uuid.UUID{w.ID}).Return(nil)

		got, err := wallet.NewService(repo, cache, logger.Discard()).Freeze(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, wallet.StatusFrozen, got.Status)
		assert.Equal(t, int64(100), got.CachedBalance.Int64(), "freeze must not touch balance")
		repo.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("freeze is idempotent", func(t *testing.T) {
		w := newWallet(wallet.StatusFrozen, 100)
		repo := new(MockWalletRepository)
		repo.On("GetByID", ctx, w.ID).Return(w, nil)

		got, err := wallet.NewService(repo, nil, logger.Discard()).Freeze(ctx, w.ID)
		require.NoError(t, err)
		assert.Same(t, w, got)
		repo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("closed wallet cannot be unfrozen", func(t *testing.T) {
		w := newWallet(wallet.StatusClosed, 0)
		repo := new(MockWalletRepository)
		repo.On("GetByID", ctx, w.ID).Return(w, nil)

		_, err := wallet.NewService(repo, nil, logger.Discard()).Unfreeze(ctx, w.ID)
		assert.ErrorIs(t, err, wallet.ErrWalletClosed)
		assert.Equal(t, apperrors.CodeWalletNotUsable, apperrors.CodeOf(err))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		id := uuid.New()
		repo := new(MockWalletRepository)
		repo.On("GetByID", ctx, id).Return(nil, wallet.ErrWalletNotFound)

		_, err := wallet.NewService(repo, nil, logger.Discard()).Freeze(ctx, id)
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func TestWalletService_Close(t *testing.T) {
	ctx := context.Background()
	w := newWallet(wallet.StatusActive, 10)

	repo := new(MockWalletRepository)
	repo.On("GetByID", ctx, w.ID).Return(w, nil)
	repo.On("Close", ctx, w.ID).Return(nil, wallet.ErrNonZeroBalance)

	_, err := wallet.NewService(repo, nil, logger.Discard()).Close(ctx, w.ID)
	assert.ErrorIs(t, err, wallet.ErrNonZeroBalance)
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
}

func TestWalletService_GetByID_UsesCache(t *testing.T) {
	ctx := context.Background()
	w := newWallet(wallet.StatusActive, 42)

	t.Run("hit", func(t *testing.T) {
		repo := new(MockWalletRepository)
		cache := new(MockCache)
		cache.On("Get", ctx, w.ID).Return(w, true, nil)

		got, err := wallet.NewService(repo, cache, logger.Discard()).GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.ID, got.ID)
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("miss populates cache", func(t *testing.T) {
		repo := new(MockWalletRepository)
		cache := new(MockCache)
		cache.On("Get", ctx, w.ID).Return(nil, false, nil)
		cache.On("Version", ctx, w.ID).Return(int64(3), nil)
		repo.On("GetByID", ctx, w.ID).Return(w, nil)
		cache.On("Set", ctx, w, int64(3)).Return(nil)

		_, err := wallet.NewService(repo, cache, logger.Discard()).GetByID(ctx, w.ID)
		require.NoError(t, err)
		cache.AssertExpectations(t)
	})

	t.Run("cache error falls back to store", func(t *testing.T) {
		repo := new(MockWalletRepository)
		cache := new(MockCache)
		cache.On("Get", ctx, w.ID).Return(nil, false, errors.New("redis down"))
		cache.On("Version", ctx, w.ID).Return(int64(0), nil)
		repo.On("GetByID", ctx, w.ID).Return(w, nil)
		cache.On("Set", ctx, w, int64(0)).Return(errors.New("redis down"))

		got, err := wallet.NewService(repo, cache, logger.Discard()).GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.ID, got.ID)
	})

	t.Run("unreadable version skips caching", func(t *testing.T) {
		repo := new(MockWalletRepository)
		cache := new(MockCache)
		cache.On("Get", ctx, w.ID).Return(nil, false, nil)
		cache.On("Version", ctx, w.ID).Return(int64(0), errors.New("redis down"))
		repo.On("GetByID", ctx, w.ID).Return(w, nil)

		got, err := wallet.NewService(repo, cache, logger.Discard()).GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.ID, got.ID)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWalletService_GetByID_InvalidationDuringLoad(t *testing.T) {
	ctx := context.Background()
	before := newWallet(wallet.StatusActive, 1000)
	after := *before
	after.CachedBalance = big.NewInt(400)

	cache := newVersionedCache()
	repo := new(MockWalletRepository)
	// The first load reads the row, then a posting commits and invalidates
	// before the snapshot is written
	repo.On("GetByID", ctx, before.ID).
		Run(func(mock.Arguments) { require.NoError(t, cache.Invalidate(ctx, before.ID)) }).
		Return(before, nil).Once()
	repo.On("GetByID", ctx, before.ID).Return(&after, nil)

	svc := wallet.NewService(repo, cache, logger.Discard())

	got, err := svc.GetByID(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", got.CachedBalance.String())

	_, cached, _ := cache.Get(ctx, before.ID)
	assert.False(t, cached, "the pre-posting row must not be cached")

	got, err = svc.GetByID(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, "400", got.CachedBalance.String())

	snap, cached, _ := cache.Get(ctx, before.ID)
	require.True(t, cached)
	assert.Equal(t, "400", snap.CachedBalance.String())
	repo.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestWalletService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("matching balances", func(t *testing.T) {
		id := uuid.New()
		repo := new(MockWalletRepository)
		repo.On("BalanceSnapshot", ctx, id).Return(big.NewInt(7500), big.NewInt(7500), nil)

		rec, err := wallet.NewService(repo, nil, logger.Discard()).Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Matches)
		assert.Equal(t, "7500", rec.CachedBalance.String())
	})

	t.Run("mismatch is reported, not repaired", func(t *testing.T) {
		id := uuid.New()
		repo := new(MockWalletRepository)
		repo.On("BalanceSnapshot", ctx, id).Return(big.NewInt(7500), big.NewInt(7000), nil)

		rec, err := wallet.NewService(repo, nil, logger.Discard()).Reconcile(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, wallet.ErrBalanceMismatch)
		require.NotNil(t, rec)
		assert.False(t, rec.Matches)
		assert.Equal(t, "7000", rec.LedgerBalance.String())
		repo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("posting between separate reads does not look like drift", func(t *testing.T) {
		// The row and the cache still show the balance before a 500 credit;
		// the store's single read already includes it on both sides
		w := newWallet(wallet.StatusActive, 7500)
		repo := new(MockWalletRepository)
		cache := new(MockCache)
		repo.On("GetByID", ctx, w.ID).Return(w, nil).Maybe()
		repo.On("SumLedgerEntries", ctx, w.ID).Return(big.NewInt(8000), nil).Maybe()
		cache.On("Get", ctx, w.ID).Return(w, true, nil).Maybe()
		repo.On("BalanceSnapshot", ctx, w.ID).Return(big.NewInt(8000), big.NewInt(8000), nil)

		rec, err := wallet.NewService(repo, cache, logger.Discard()).Reconcile(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, rec.Matches)
		assert.Equal(t, "8000", rec.CachedBalance.String())
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "SumLedgerEntries", mock.Anything, mock.Anything)
		cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		id := uuid.New()
		repo := new(MockWalletRepository)
		repo.On("BalanceSnapshot", ctx, id).Return(nil, nil, wallet.ErrWalletNotFound)

		_, err := wallet.NewService(repo, nil, logger.Discard()).Reconcile(ctx, id)
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}
