package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/allocation"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// TransactionReader reads transactions with their entries
type TransactionReader interface {
	GetTransactionWithEntries(ctx context.Context, id uuid.UUID) (*ledger.Result, error)
}

// WalletGetter looks wallets up by id
type WalletGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
}

// TransactionHandler handles transaction reads
type TransactionHandler struct {
	ledger  TransactionReader
	wallets WalletGetter
	access  walletAccess
	logger  *logger.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(ledgerSvc TransactionReader, wallets WalletGetter, orgs OrgMembership, allocations AllocationReader, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		ledger:  ledgerSvc,
		wallets: wallets,
		access:  walletAccess{orgs: orgs, allocations: allocations},
		logger:  log.WithComponent("http.transaction"),
	}
}

// GetTransaction handles GET /transactions/{id}.
// The initiator and anyone with access to either wallet may read it.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	result, err := h.ledger.GetTransactionWithEntries(r.Context(), id)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if !h.canRead(r.Context(), userID, result.Transaction) {
		// Same answer as a missing transaction, so ids cannot be enumerated
		respondAppError(w, r, h.logger, ledger.ErrTransactionNotFound)
		return
	}

	respondJSON(w, http.StatusOK, toResultResponse(result))
}

func (h *TransactionHandler) canRead(ctx context.Context, userID uuid.UUID, tx *ledger.Transaction) bool {
	if tx.InitiatedBy == userID {
		return true
	}
	for _, id := range []*uuid.UUID{tx.SourceWalletID, tx.DestinationWalletID} {
		if id == nil {
			continue
		}
		wlt, err := h.wallets.GetByID(ctx, *id)
		if err != nil {
			continue
		}
		if h.access.check(ctx, userID, wlt, false) == nil {
			return true
		}
	}
	return false
}

// compile-time check that the allocation service satisfies AllocationReader
var _ AllocationReader = (*allocation.Service)(nil)
