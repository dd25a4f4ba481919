package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Amounts leave the API as minor-unit strings with a display copy in major units.

// WalletResponse represents a wallet response
type WalletResponse struct {
	ID           uuid.UUID        `json:"id"`
	OwnerType    wallet.OwnerType `json:"owner_type"`
	OwnerID      uuid.UUID        `json:"owner_id"`
	Currency     string           `json:"currency"`
	Status       wallet.Status    `json:"status"`
	Balance      *money.BigInt    `json:"balance"`
	BalanceMajor string           `json:"balance_major"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func toWalletResponse(w *wallet.Wallet) WalletResponse {
	return WalletResponse{
		ID:           w.ID,
		OwnerType:    w.OwnerType,
		OwnerID:      w.OwnerID,
		Currency:     w.Currency,
		Status:       w.Status,
		Balance:      money.NewBigInt(w.CachedBalance),
		BalanceMajor: money.FormatMajor(w.CachedBalance),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func toWalletResponses(ws []*wallet.Wallet) []WalletResponse {
	out := make([]WalletResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, toWalletResponse(w))
	}
	return out
}

// ReconciliationResponse compares a wallet's cached balance with its ledger
type ReconciliationResponse struct {
	WalletID      uuid.UUID     `json:"wallet_id"`
	CachedBalance *money.BigInt `json:"cached_balance"`
	LedgerBalance *money.BigInt `json:"ledger_balance"`
	Matches       bool          `json:"matches"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// TransactionResponse represents a transaction response
type TransactionResponse struct {
	ID                  uuid.UUID                `json:"id"`
	Reference           string                   `json:"reference"`
	IdempotencyKey      string                   `json:"idempotency_key"`
	Type                ledger.TransactionType   `json:"type"`
	Status              ledger.TransactionStatus `json:"status"`
	Amount              *money.BigInt            `json:"amount"`
	AmountMajor         string                   `json:"amount_major"`
	Currency            string                   `json:"currency"`
	InitiatedBy         uuid.UUID                `json:"initiated_by"`
	SourceWalletID      *uuid.UUID               `json:"source_wallet_id,omitempty"`
	DestinationWalletID *uuid.UUID               `json:"destination_wallet_id,omitempty"`
	ProviderReference   *string                  `json:"provider_reference,omitempty"`
	FailureReason       *string                  `json:"failure_reason,omitempty"`
	ReversalOf          *uuid.UUID               `json:"reversal_of,omitempty"`
	Description         string                   `json:"description,omitempty"`
	Metadata            map[string]interface{}   `json:"metadata,omitempty"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
	Entries             []EntryResponse          `json:"entries,omitempty"`
}

// EntryResponse represents one ledger entry
type EntryResponse struct {
	ID            string           `json:"id"`
	TransactionID uuid.UUID        `json:"transaction_id"`
	WalletID      uuid.UUID        `json:"wallet_id"`
	Direction     ledger.Direction `json:"direction"`
	Amount        *money.BigInt    `json:"amount"`
	Currency      string           `json:"currency"`
	BalanceAfter  *money.BigInt    `json:"balance_after"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toTransactionResponse(tx *ledger.Transaction, entries []*ledger.Entry) TransactionResponse {
	resp := TransactionResponse{
		ID:                  tx.ID,
		Reference:           tx.Reference,
		IdempotencyKey:      tx.IdempotencyKey,
		Type:                tx.Type,
		Status:              tx.Status,
		Amount:              money.NewBigInt(tx.Amount),
		AmountMajor:         money.FormatMajor(tx.Amount),
		Currency:            tx.Currency,
		InitiatedBy:         tx.InitiatedBy,
		SourceWalletID:      tx.SourceWalletID,
		DestinationWalletID: tx.DestinationWalletID,
		ProviderReference:   tx.ProviderReference,
		FailureReason:       tx.FailureReason,
		ReversalOf:          tx.ReversalOf,
		Description:         tx.Description,
		Metadata:            tx.Metadata,
		CreatedAt:           tx.CreatedAt,
		UpdatedAt:           tx.UpdatedAt,
		CompletedAt:         tx.CompletedAt,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	return resp
}

func toResultResponse(result *ledger.Result) TransactionResponse {
	return toTransactionResponse(result.Transaction, result.Entries)
}

func toEntryResponse(e *ledger.Entry) EntryResponse {
	return EntryResponse{
		ID:            e.ID.String(),
		TransactionID: e.TransactionID,
		WalletID:      e.WalletID,
		Direction:     e.Direction,
		Amount:        money.NewBigInt(e.Amount),
		Currency:      e.Currency,
		BalanceAfter:  money.NewBigInt(e.BalanceAfter),
		CreatedAt:     e.CreatedAt,
	}
}
