package allocation

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

var (
	// Validation errors
	ErrInvalidName       = apperrors.InvalidArgument("allocation name is required")
	ErrInvalidAmount     = apperrors.InvalidArgument("amount must be a positive integer in minor units")
	ErrInvalidManager    = apperrors.InvalidArgument("manager must be an active member of the organization")
	ErrInvalidParent     = apperrors.InvalidArgument("parent allocation must belong to the same organization")
	ErrNoParent          = apperrors.InvalidArgument("allocation has no parent")
	ErrInvalidRuleType   = apperrors.InvalidArgument("invalid allocation rule type")
	ErrInvalidRuleConfig = apperrors.InvalidArgument("invalid allocation rule configuration")
	ErrMissingRecipient  = apperrors.InvalidArgument("recipient is required")

	// Repository errors
	ErrAllocationNotFound = apperrors.NotFound("allocation")
	ErrRuleNotFound       = apperrors.NotFound("allocation rule")
	ErrRuleExists         = apperrors.Conflict("allocation already has a rule of this type")

	// State errors
	ErrAllocationNotActive = apperrors.InvalidState("allocation is not active")
	ErrAllocationClosed    = apperrors.InvalidState("allocation is closed")
	ErrCyclicHierarchy     = apperrors.New(apperrors.CodeInternal, "allocation hierarchy contains a cycle")

	// Authorization and rule errors
	ErrNotManager       = apperrors.Forbidden("only the allocation's managers may do this")
	ErrRuleViolated     = apperrors.Forbidden("spend violates an allocation rule")
	ErrApprovalRequired = apperrors.Forbidden("spend requires approval by an authorized role")
)
