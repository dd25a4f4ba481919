package transfer

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

var (
	// Validation errors
	ErrMissingSender    = apperrors.InvalidArgument("sender is required")
	ErrMissingRecipient = apperrors.InvalidArgument("recipient is required")
	ErrSelfTransfer     = apperrors.InvalidArgument("cannot transfer to yourself")
	ErrInvalidAmount    = apperrors.InvalidArgument("amount must be a positive integer in minor units")

	// Lookup errors
	ErrRecipientWalletNotFound = apperrors.NotFound("recipient wallet")
)
