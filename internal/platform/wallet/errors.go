package wallet

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

var (
	// Validation errors
	ErrInvalidOwnerType = apperrors.InvalidArgument("invalid wallet owner type")
	ErrInvalidOwnerID   = apperrors.InvalidArgument("invalid wallet owner ID")
	ErrInvalidCurrency  = apperrors.InvalidArgument("currency must be a 3-letter code")
	ErrInvalidStatus    = apperrors.InvalidArgument("invalid wallet status")
	ErrNegativeBalance  = apperrors.InvalidArgument("wallet balance cannot be negative")

	// Repository errors
	ErrWalletNotFound = apperrors.NotFound("wallet")

	// Status errors
	ErrWalletClosed        = apperrors.New(apperrors.CodeWalletNotUsable, "wallet is closed")
	ErrNonZeroBalance      = apperrors.InvalidState("wallet with a non-zero balance cannot be closed")
	ErrInvalidStatusChange = apperrors.InvalidState("wallet status transition not allowed")

	// ErrBalanceMismatch means the cached balance diverged from the ledger. It is never repaired automatically.
	ErrBalanceMismatch = apperrors.New(apperrors.CodeInternal, "cached balance does not match ledger")
)
