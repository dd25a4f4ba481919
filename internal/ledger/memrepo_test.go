package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// memRepo is an in-memory ledger.Repository. Units of work are serialized by
// uow and rolled back by restoring a snapshot taken at BeginTx.
type memRepo struct {
	uow sync.Mutex

	mu      sync.Mutex
	wallets map[uuid.UUID]*wallet.Wallet
	txs     map[uuid.UUID]*ledger.Transaction
	entries []*ledger.Entry

	snap *memSnapshot

	// failCreateEntry, when set, is consulted before every entry insert
	failCreateEntry func(e *ledger.Entry) error

	commits   int
	rollbacks int
}

type memSnapshot struct {
	wallets    map[uuid.UUID]*wallet.Wallet
	txs        map[uuid.UUID]*ledger.Transaction
	entryCount int
}

type inTxKey struct{}

var errNoTx = errors.New("memrepo: no unit of work")

func newMemRepo() *memRepo {
	return &memRepo{
		wallets: make(map[uuid.UUID]*wallet.Wallet),
		txs:     make(map[uuid.UUID]*ledger.Transaction),
	}
}

func (r *memRepo) addWallet(t *testing.T, status wallet.Status, balance int64) uuid.UUID {
	t.Helper()
	return r.addWalletIn(t, status, balance, "NGN")
}

func (r *memRepo) addWalletIn(t *testing.T, status wallet.Status, balance int64, currency string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	w := &wallet.Wallet{
		ID:            uuid.New(),
		OwnerType:     wallet.OwnerTypeUser,
		OwnerID:       uuid.New(),
		Currency:      currency,
		Status:        status,
		CachedBalance: big.NewInt(balance),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, w.Validate())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.ID] = cloneWallet(w)
	return w.ID
}

func (r *memRepo) balance(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wallets[id].Balance().String()
}

func (r *memRepo) setStatus(id uuid.UUID, status wallet.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[id].Status = status
}

func (r *memRepo) transactionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

func (r *memRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ledgerBalance sums credits minus debits for a wallet
func (r *memRepo) ledgerBalance(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := big.NewInt(0)
	for _, e := range r.entries {
		if e.WalletID == id {
			sum.Add(sum, e.SignedAmount())
		}
	}
	return sum.String()
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(inTxKey{}).(bool)
	return v
}

// Unit of work

func (r *memRepo) BeginTx(ctx context.Context) (context.Context, error) {
	if inTx(ctx) {
		return ctx, errors.New("memrepo: transaction already in progress")
	}
	r.uow.Lock()

	r.mu.Lock()
	snap := &memSnapshot{
		wallets:    make(map[uuid.UUID]*wallet.Wallet, len(r.wallets)),
		txs:        make(map[uuid.UUID]*ledger.Transaction, len(r.txs)),
		entryCount: len(r.entries),
	}
	for id, w := range r.wallets {
		snap.wallets[id] = cloneWallet(w)
	}
	for id, tx := range r.txs {
		snap.txs[id] = cloneTransaction(tx)
	}
	r.snap = snap
	r.mu.Unlock()

	return context.WithValue(ctx, inTxKey{}, true), nil
}

func (r *memRepo) CommitTx(ctx context.Context) error {
	if !inTx(ctx) {
		return errNoTx
	}
	r.mu.Lock()
	r.snap = nil
	r.commits++
	r.mu.Unlock()
	r.uow.Unlock()
	return nil
}

func (r *memRepo) RollbackTx(ctx context.Context) error {
	if !inTx(ctx) {
		return errNoTx
	}
	r.mu.Lock()
	r.wallets = r.snap.wallets
	r.txs = r.snap.txs
	r.entries = r.entries[:r.snap.entryCount]
	r.snap = nil
	r.rollbacks++
	r.mu.Unlock()
	r.uow.Unlock()
	return nil
}

// Transactions

func (r *memRepo) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.txs {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return ledger.ErrDuplicateIdempotencyKey
		}
		if existing.Reference == tx.Reference {
			return ledger.ErrReferenceCollision
		}
	}
	for _, id := range tx.WalletIDs() {
		if _, ok := r.wallets[id]; !ok {
			return wallet.ErrWalletNotFound
		}
	}

	r.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (r *memRepo) find(match func(tx *ledger.Transaction) bool) (*ledger.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if match(tx) {
			return cloneTransaction(tx), nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

func (r *memRepo) GetTransaction(_ context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return r.find(func(tx *ledger.Transaction) bool { return tx.ID == id })
}

func (r *memRepo) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	return r.GetTransaction(ctx, id)
}

func (r *memRepo) GetTransactionByIdempotencyKey(_ context.Context, key string) (*ledger.Transaction, error) {
	return r.find(func(tx *ledger.Transaction) bool { return tx.IdempotencyKey == key })
}

func (r *memRepo) GetTransactionByReference(_ context.Context, reference string) (*ledger.Transaction, error) {
	return r.find(func(tx *ledger.Transaction) bool { return tx.Reference == reference })
}

func (r *memRepo) GetTransactionByProviderReference(_ context.Context, ref string) (*ledger.Transaction, error) {
	return r.find(func(tx *ledger.Transaction) bool {
		return tx.ProviderReference != nil && *tx.ProviderReference == ref
	})
}

func (r *memRepo) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	r.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (r *memRepo) ListTransactionsByWallet(_ context.Context, walletID uuid.UUID, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*ledger.Transaction
	for _, tx := range r.txs {
		touches := false
		for _, id := range tx.WalletIDs() {
			if id == walletID {
				touches = true
			}
		}
		if !touches {
			continue
		}
		if filters.Type != nil && tx.Type != *filters.Type {
			continue
		}
		if filters.Status != nil && tx.Status != *filters.Status {
			continue
		}
		out = append(out, cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filters.Limit, filters.Offset), nil
}

// Entries

func (r *memRepo) CreateEntry(_ context.Context, e *ledger.Entry) error {
	if r.failCreateEntry != nil {
		if err := r.failCreateEntry(e); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *e
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *memRepo) GetEntriesByTransaction(_ context.Context, transactionID uuid.UUID) ([]*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ledger.Entry, 0)
	for _, e := range r.entries {
		if e.TransactionID == transactionID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memRepo) ListEntriesByWallet(_ context.Context, walletID uuid.UUID, filters ledger.EntryFilters) ([]*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range r.entries {
		if e.WalletID == walletID {
			copied := *e
			out = append(out, &copied)
		}
	}
	if filters.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, filters.Limit, filters.Offset), nil
}

// Wallet balances

func (r *memRepo) LockWallet(ctx context.Context, walletID uuid.UUID) (*wallet.Wallet, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	return cloneWallet(w), nil
}

func (r *memRepo) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance *big.Int) error {
	if !inTx(ctx) {
		return errNoTx
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return wallet.ErrWalletNotFound
	}
	if balance.Sign() < 0 {
		return ledger.ErrNegativeBalance
	}
	w.CachedBalance = new(big.Int).Set(balance)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneWallet(w *wallet.Wallet) *wallet.Wallet {
	c := *w
	c.CachedBalance = w.Balance()
	return &c
}

func cloneTransaction(tx *ledger.Transaction) *ledger.Transaction {
	c := *tx
	c.Amount = new(big.Int).Set(tx.Amount)
	c.ProviderResponse = cloneMap(tx.ProviderResponse)
	c.Metadata = cloneMap(tx.Metadata)
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) kinds() []ledger.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]ledger.EventKind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// recordingCache remembers every invalidated wallet
type recordingCache struct {
	mu          sync.Mutex
	invalidated []uuid.UUID
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
	return nil
}
