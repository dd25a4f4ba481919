package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Service moves money between users' wallets
type Service struct {
	ledger  Ledger
	wallets WalletRepository
	logger  *logger.Logger
}

// NewService creates a new transfer service
func NewService(ledgerSvc Ledger, wallets WalletRepository, log *logger.Logger) *Service {
	return &Service{
		ledger:  ledgerSvc,
		wallets: wallets,
		logger:  log.WithComponent("transfer"),
	}
}

// Transfer posts a TRANSFER from the sender's wallet to the recipient's wallet
// in the same currency. Replaying an idempotency key returns the first result.
func (s *Service) Transfer(ctx context.Context, req Request) (*ledger.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}

	source, err := s.wallets.GetByOwner(ctx, wallet.OwnerTypeUser, req.SenderID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender wallet: %w", err)
	}

	dest, err := s.wallets.GetByOwner(ctx, wallet.OwnerTypeUser, req.RecipientID, currency)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, ErrRecipientWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient wallet: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Transfer"
	}

	result, err := s.ledger.PostTransaction(ctx, ledger.Intent{
		Type:                ledger.TxTypeTransfer,
		Amount:              req.Amount,
		Currency:            currency,
		InitiatedBy:         req.SenderID,
		SourceWalletID:      &source.ID,
		DestinationWalletID: &dest.ID,
		Description:         description,
		IdempotencyKey:      req.IdempotencyKey,
		Metadata: map[string]interface{}{
			"recipient_user_id": req.RecipientID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transfer failed: %w", err)
	}

	s.logger.WithContext(ctx).Info("transfer posted",
		"transaction_id", result.Transaction.ID,
		"sender_id", req.SenderID,
		"recipient_id", req.RecipientID,
		"amount", result.Transaction.Amount.String(),
	)
	return result, nil
}
