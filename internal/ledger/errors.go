package ledger

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

// Intent errors
var (
	ErrInvalidIntent            = apperrors.InvalidArgument("invalid transaction intent")
	ErrInvalidTransactionType   = apperrors.InvalidArgument("invalid transaction type")
	ErrInvalidTransactionStatus = apperrors.InvalidArgument("invalid transaction status")
	ErrInvalidAmount            = apperrors.InvalidArgument("amount must be a positive integer in minor units")
	ErrMissingWallet            = apperrors.InvalidArgument("a source or destination wallet is required")
	ErrSameWallet               = apperrors.InvalidArgument("source and destination wallets must differ")
	ErrMissingIdempotencyKey    = apperrors.InvalidArgument("idempotency key is required")
	ErrCurrencyMismatch         = apperrors.InvalidArgument("transaction currency does not match wallet currency")
)

// Entry errors
var (
	ErrInvalidDirection = apperrors.InvalidArgument("invalid debit/credit direction")
	ErrNegativeBalance  = apperrors.InvalidArgument("balance cannot be negative")
)

// Posting errors
var (
	ErrInsufficientBalance = apperrors.New(apperrors.CodeInsufficientBalance, "insufficient balance")
	ErrWalletNotUsable     = apperrors.New(apperrors.CodeWalletNotUsable, "wallet is not usable")
)

// Lifecycle errors
var (
	ErrTransactionNotFound     = apperrors.NotFound("transaction")
	ErrTransactionInProgress   = apperrors.Conflict("transaction already in progress")
	ErrDuplicateIdempotencyKey = apperrors.Conflict("idempotency key already used by a concurrent request")
	ErrReferenceCollision      = apperrors.Conflict("transaction reference collision")
	ErrIdempotencyKeyUsed      = apperrors.InvalidState("idempotency key belongs to a transaction that did not complete")
	ErrInvalidTransition       = apperrors.InvalidState("transaction status transition not allowed")
	ErrNothingToReverse        = apperrors.InvalidState("transaction has no ledger entries to reverse")
	ErrProviderReferenceSet    = apperrors.Conflict("transaction already carries a different provider reference")
)

// Unit-of-work errors
var (
	ErrNoUnitOfWork = apperrors.New(apperrors.CodeInternal, "operation requires an active unit of work")
)
