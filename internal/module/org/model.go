package org

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a member's role within an organization
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// MemberStatus is the lifecycle status of a membership
type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
	MemberStatusRemoved   MemberStatus = "REMOVED"
)

// Org is an organization. It owns one wallet per currency.
type Org struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a user's membership of an organization
type Member struct {
	OrgID     uuid.UUID    `json:"org_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Role      Role         `json:"role"`
	Status    MemberStatus `json:"status"`
	AddedBy   uuid.UUID    `json:"added_by"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsActive reports whether the membership currently grants access
func (m *Member) IsActive() bool {
	return m.Status == MemberStatusActive
}

// HasRole reports whether the member holds one of roles. No roles means any role.
func (m *Member) HasRole(roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if m.Role == r {
			return true
		}
	}
	return false
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Slugify derives a URL-safe slug from a name: "Acme Ltd." → "acme-ltd"
func Slugify(name string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

// validSlug reports whether s is a well-formed slug
func validSlug(s string) bool {
	return len(s) >= 2 && len(s) <= 64 && slugPattern.MatchString(s)
}
