package payments

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

var (
	// Validation errors
	ErrInvalidUserID    = apperrors.InvalidArgument("user ID is required")
	ErrInvalidAmount    = apperrors.InvalidArgument("amount must be a positive integer in minor units")
	ErrMissingEventID   = apperrors.InvalidArgument("provider event ID is required")
	ErrMissingEventType = apperrors.InvalidArgument("provider event type is required")
	ErrMalformedEvent   = apperrors.InvalidArgument("malformed provider event")

	// Signature errors
	ErrMissingSignature = apperrors.New(apperrors.CodeUnauthorized, "missing webhook signature")
	ErrInvalidSignature = apperrors.New(apperrors.CodeUnauthorized, "invalid webhook signature")

	// Repository errors
	ErrEventNotFound  = apperrors.NotFound("provider event")
	ErrDuplicateEvent = apperrors.Conflict("provider event already recorded")

	// Dispatch errors
	ErrUnexpectedTransactionType = apperrors.InvalidState("event does not apply to this transaction type")
)
