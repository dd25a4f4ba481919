package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/payments"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// PaymentServiceInterface covers deposits, withdrawals and provider events
type PaymentServiceInterface interface {
	InitializeDeposit(ctx context.Context, req payments.DepositRequest) (*ledger.Transaction, error)
	RequestWithdrawal(ctx context.Context, req payments.WithdrawalRequest) (*ledger.Result, error)
	HandleEvent(ctx context.Context, event payments.Event) (*payments.HandleResult, error)
}

// PaymentHandler handles deposits, withdrawals and provider webhooks
type PaymentHandler struct {
	payments      PaymentServiceInterface
	webhookSecret string
	logger        *logger.Logger
}

// NewPaymentHandler creates a new payment handler.
// An empty webhookSecret accepts unsigned webhooks; config forbids that in production.
func NewPaymentHandler(svc PaymentServiceInterface, webhookSecret string, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:      svc,
		webhookSecret: webhookSecret,
		logger:        log.WithComponent("http.payment"),
	}
}

// CreateDepositRequest starts a deposit. Amount is in minor units.
type CreateDepositRequest struct {
	Amount         *money.BigInt          `json:"amount"`
	Currency       string                 `json:"currency"`
	Email          string                 `json:"email"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// CreateDeposit handles POST /deposits. The returned reference is what the payer
// hands to the provider; the provider's webhook completes the deposit.
func (h *PaymentHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req CreateDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		respondAppError(w, r, h.logger, errMissingAmount)
		return
	}

	tx, err := h.payments.InitializeDeposit(r.Context(), payments.DepositRequest{
		UserID:         userID,
		Amount:         req.Amount.Int,
		Currency:       req.Currency,
		Email:          req.Email,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toTransactionResponse(tx, nil))
}

// CreateWithdrawalRequest moves money to an external account. Amount is in minor units.
type CreateWithdrawalRequest struct {
	Amount         *money.BigInt          `json:"amount"`
	Currency       string                 `json:"currency"`
	Destination    map[string]interface{} `json:"destination"`
	Description    string                 `json:"description"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// CreateWithdrawal handles POST /withdrawals. The wallet is debited now;
// the provider's webhook completes or compensates the withdrawal.
func (h *PaymentHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req CreateWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		respondAppError(w, r, h.logger, errMissingAmount)
		return
	}

	result, err := h.payments.RequestWithdrawal(r.Context(), payments.WithdrawalRequest{
		UserID:         userID,
		Amount:         req.Amount.Int,
		Currency:       req.Currency,
		Destination:    req.Destination,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, toResultResponse(result))
}

// WebhookResponse acknowledges a provider event
type WebhookResponse struct {
	Status    payments.EventStatus `json:"status"`
	EventID   string               `json:"event_id"`
	Duplicate bool                 `json:"duplicate"`
}

// HandleWebhook handles POST /webhooks/{provider}.
// Any non-2xx answer makes the provider redeliver, so only failures worth retrying get one.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondAppError(w, r, h.logger, errInvalidBody)
		return
	}

	if h.webhookSecret != "" {
		if err := payments.VerifySignature(h.webhookSecret, body, r.Header.Get(payments.SignatureHeader)); err != nil {
			h.logger.WithContext(r.Context()).Warn("webhook signature rejected", "provider", chi.URLParam(r, "provider"))
			respondAppError(w, r, h.logger, err)
			return
		}
	}

	event, err := payments.ParseEvent(chi.URLParam(r, "provider"), body)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	result, err := h.payments.HandleEvent(r.Context(), *event)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, WebhookResponse{
		Status:    result.Event.Status,
		EventID:   result.Event.EventID,
		Duplicate: result.Duplicate,
	})
}
