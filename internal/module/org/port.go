package org

import (
	"context"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// Repository defines the interface for organization data access
type Repository interface {
	CreateOrg(ctx context.Context, o *Org) error
	GetOrg(ctx context.Context, id uuid.UUID) (*Org, error)
	// LockOrg reads the org row under a lock held until the unit of work ends.
	// Membership changes serialize on it.
	LockOrg(ctx context.Context, id uuid.UUID) (*Org, error)
	// ListOrgsByUser returns the organizations the user is an active member of
	ListOrgsByUser(ctx context.Context, userID uuid.UUID) ([]*Org, error)

	GetMember(ctx context.Context, orgID, userID uuid.UUID) (*Member, error)
	// SaveMember inserts the membership or overwrites role and status of an existing one
	SaveMember(ctx context.Context, m *Member) error
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Member, error)
	// CountActiveOwners counts ACTIVE members with the OWNER role
	CountActiveOwners(ctx context.Context, orgID uuid.UUID) (int, error)
}

// Wallets creates and finds organization wallets
type Wallets interface {
	Create(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
	GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error)
}

// UnitOfWork runs fn atomically; every repository call made with the ctx it passes joins it
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
