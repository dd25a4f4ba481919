package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/transfer"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// TransferServiceInterface moves money between users
type TransferServiceInterface interface {
	Transfer(ctx context.Context, req transfer.Request) (*ledger.Result, error)
}

// TransferHandler handles user-to-user transfers
type TransferHandler struct {
	transfers TransferServiceInterface
	logger    *logger.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(transfers TransferServiceInterface, log *logger.Logger) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		logger:    log.WithComponent("http.transfer"),
	}
}

// CreateTransferRequest represents the transfer request. Amount is in minor units.
type CreateTransferRequest struct {
	RecipientID    uuid.UUID     `json:"recipient_id"`
	Amount         *money.BigInt `json:"amount"`
	Currency       string        `json:"currency"`
	Description    string        `json:"description"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// CreateTransfer handles POST /transfers
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req CreateTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		respondAppError(w, r, h.logger, errMissingAmount)
		return
	}

	result, err := h.transfers.Transfer(r.Context(), transfer.Request{
		SenderID:       userID,
		RecipientID:    req.RecipientID,
		Amount:         req.Amount.Int,
		Currency:       req.Currency,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toResultResponse(result))
}
