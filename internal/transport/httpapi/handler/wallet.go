package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/allocation"
	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// WalletServiceInterface defines the interface for wallet operations
type WalletServiceInterface interface {
	Create(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	ListByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID) ([]*wallet.Wallet, error)
	Freeze(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	Unfreeze(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	Close(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*wallet.Reconciliation, error)
}

// StatementReader lists the ledger activity of a wallet
type StatementReader interface {
	ListWalletEntries(ctx context.Context, walletID uuid.UUID, filters ledger.EntryFilters) ([]*ledger.Entry, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, filters ledger.TransactionFilters) ([]*ledger.Transaction, error)
}

// OrgMembership is the org role check
type OrgMembership interface {
	RequireRole(ctx context.Context, orgID, userID uuid.UUID, roles ...org.Role) (*org.Member, error)
}

// AllocationReader resolves allocations for members of their org
type AllocationReader interface {
	GetAllocation(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error)
}

// walletAccess decides who may see or administer a wallet:
// user wallets belong to their user, org and allocation wallets to the org's members
type walletAccess struct {
	orgs        OrgMembership
	allocations AllocationReader
}

func (a walletAccess) check(ctx context.Context, userID uuid.UUID, w *wallet.Wallet, manage bool) error {
	var roles []org.Role
	if manage {
		roles = []org.Role{org.RoleOwner, org.RoleAdmin}
	}

	switch w.OwnerType {
	case wallet.OwnerTypeUser:
		if w.OwnerID != userID {
			return errAccessDenied
		}
		return nil
	case wallet.OwnerTypeOrg:
		_, err := a.orgs.RequireRole(ctx, w.OwnerID, userID, roles...)
		return err
	case wallet.OwnerTypeAllocation:
		alloc, err := a.allocations.GetAllocation(ctx, w.OwnerID, userID)
		if err != nil {
			return err
		}
		if manage {
			_, err = a.orgs.RequireRole(ctx, alloc.OrgID, userID, roles...)
		}
		return err
	}
	return errAccessDenied
}

// WalletHandler handles wallet-related HTTP requests
type WalletHandler struct {
	wallets   WalletServiceInterface
	statement StatementReader
	access    walletAccess
	logger    *logger.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(wallets WalletServiceInterface, statement StatementReader, orgs OrgMembership, allocations AllocationReader, log *logger.Logger) *WalletHandler {
	return &WalletHandler{
		wallets:   wallets,
		statement: statement,
		access:    walletAccess{orgs: orgs, allocations: allocations},
		logger:    log.WithComponent("http.wallet"),
	}
}

// CreateWalletRequest opens the caller's wallet in a currency
type CreateWalletRequest struct {
	Currency string `json:"currency"`
}

// CreateWallet handles POST /wallets. Opening an existing wallet returns it.
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req CreateWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	wlt, err := h.wallets.Create(r.Context(), wallet.OwnerTypeUser, userID, req.Currency)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toWalletResponse(wlt))
}

// GetWallets handles GET /wallets
func (h *WalletHandler) GetWallets(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	wallets, err := h.wallets.ListByOwner(r.Context(), wallet.OwnerTypeUser, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"wallets": toWalletResponses(wallets)})
}

// GetWallet handles GET /wallets/{id}
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wlt, ok := h.load(w, r, false)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toWalletResponse(wlt))
}

// GetReconciliation handles GET /wallets/{id}/reconciliation
func (h *WalletHandler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	wlt, ok := h.load(w, r, false)
	if !ok {
		return
	}

	rec, err := h.wallets.Reconcile(r.Context(), wlt.ID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if !rec.Matches {
		h.logger.WithContext(r.Context()).Error("wallet balance drift detected",
			"wallet_id", rec.WalletID,
			"cached_balance", rec.CachedBalance.String(),
			"ledger_balance", rec.LedgerBalance.String(),
		)
	}

	respondJSON(w, http.StatusOK, ReconciliationResponse{
		WalletID:      rec.WalletID,
		CachedBalance: money.NewBigInt(rec.CachedBalance),
		LedgerBalance: money.NewBigInt(rec.LedgerBalance),
		Matches:       rec.Matches,
		CheckedAt:     rec.CheckedAt,
	})
}

// FreezeWallet handles POST /wallets/{id}/freeze
func (h *WalletHandler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.wallets.Freeze)
}

// UnfreezeWallet handles POST /wallets/{id}/unfreeze
func (h *WalletHandler) UnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.wallets.Unfreeze)
}

// CloseWallet handles POST /wallets/{id}/close. Only an empty wallet can be closed.
func (h *WalletHandler) CloseWallet(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.wallets.Close)
}

func (h *WalletHandler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (*wallet.Wallet, error)) {
	wlt, ok := h.load(w, r, true)
	if !ok {
		return
	}
	if wlt.OwnerType == wallet.OwnerTypeAllocation {
		// Allocation status and wallet status move together through the allocation routes
		respondAppError(w, r, h.logger, errAllocationWallet)
		return
	}

	updated, err := apply(r.Context(), wlt.ID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toWalletResponse(updated))
}

// GetEntries handles GET /wallets/{id}/entries, newest first unless order=asc
func (h *WalletHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	wlt, ok := h.load(w, r, false)
	if !ok {
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	entries, err := h.statement.ListWalletEntries(r.Context(), wlt.ID, ledger.EntryFilters{
		Limit:      limit,
		Offset:     offset,
		Descending: r.URL.Query().Get("order") != "asc",
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// GetTransactions handles GET /wallets/{id}/transactions with optional type and status filters
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	wlt, ok := h.load(w, r, false)
	if !ok {
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	filters := ledger.TransactionFilters{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("type"); v != "" {
		t := ledger.TransactionType(v)
		if !t.IsValid() {
			respondAppError(w, r, h.logger, ledger.ErrInvalidTransactionType)
			return
		}
		filters.Type = &t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s := ledger.TransactionStatus(v)
		if !s.IsValid() {
			respondAppError(w, r, h.logger, ledger.ErrInvalidTransactionStatus)
			return
		}
		filters.Status = &s
	}

	txs, err := h.statement.ListWalletTransactions(r.Context(), wlt.ID, filters)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx, nil))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

// load resolves the {id} wallet and checks the caller's access to it
func (h *WalletHandler) load(w http.ResponseWriter, r *http.Request, manage bool) (*wallet.Wallet, bool) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return nil, false
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return nil, false
	}

	wlt, err := h.wallets.GetByID(r.Context(), id)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return nil, false
	}
	if err := h.access.check(r.Context(), userID, wlt, manage); err != nil {
		respondAppError(w, r, h.logger, err)
		return nil, false
	}
	return wlt, true
}
