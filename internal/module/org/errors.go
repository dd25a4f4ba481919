package org

import apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"

var (
	// Validation errors
	ErrInvalidName   = apperrors.InvalidArgument("organization name is required")
	ErrInvalidSlug   = apperrors.InvalidArgument("slug must be 2-64 lowercase letters, digits or dashes")
	ErrInvalidRole   = apperrors.InvalidArgument("invalid member role")
	ErrInvalidUserID = apperrors.InvalidArgument("user ID is required")

	// Repository errors
	ErrOrgNotFound    = apperrors.NotFound("organization")
	ErrMemberNotFound = apperrors.NotFound("organization member")
	ErrSlugTaken      = apperrors.Conflict("organization slug already taken")
	ErrAlreadyMember  = apperrors.Conflict("user is already a member")

	// Authorization errors
	ErrNotMember        = apperrors.Forbidden("not a member of this organization")
	ErrInsufficientRole = apperrors.Forbidden("role does not allow this action")

	// Membership rules
	ErrLastOwner = apperrors.InvalidState("an organization must keep at least one owner")
)
