package org

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Roles allowed to manage members and allocations
var managingRoles = []Role{RoleOwner, RoleAdmin}

// Service provides business logic for organizations and their members
type Service struct {
	repo    Repository
	wallets Wallets
	uow     UnitOfWork
	logger  *logger.Logger
}

// NewService creates a new org service
func NewService(repo Repository, wallets Wallets, uow UnitOfWork, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		wallets: wallets,
		uow:     uow,
		logger:  log.WithComponent("org"),
	}
}

// CreateOrgRequest describes a new organization
type CreateOrgRequest struct {
	CreatorID uuid.UUID
	Name      string
	Slug      string // derived from Name when empty
	Currency  string
}

// CreateOrg creates the organization, its wallet and the creator's OWNER membership atomically
func (s *Service) CreateOrg(ctx context.Context, req CreateOrgRequest) (*Org, *wallet.Wallet, error) {
	if req.CreatorID == uuid.Nil {
		return nil, nil, ErrInvalidUserID
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, ErrInvalidName
	}
	slug := req.Slug
	if slug == "" {
		slug = Slugify(name)
	}
	if !validSlug(slug) {
		return nil, nil, ErrInvalidSlug
	}

	now := time.Now().UTC()
	o := &Org{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedBy: req.CreatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var w *wallet.Wallet
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateOrg(ctx, o); err != nil {
			return fmt.Errorf("failed to create org: %w", err)
		}

		owner := &Member{
			OrgID:     o.ID,
			UserID:    req.CreatorID,
			Role:      RoleOwner,
			Status:    MemberStatusActive,
			AddedBy:   req.CreatorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.SaveMember(ctx, owner); err != nil {
			return fmt.Errorf("failed to add owner: %w", err)
		}

		var err error
		w, err = s.wallets.Create(ctx, wallet.OwnerTypeOrg, o.ID, req.Currency)
		if err != nil {
			return fmt.Errorf("failed to create org wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithContext(ctx).Info("org created", "org_id", o.ID, "slug", o.Slug, "wallet_id", w.ID)
	return o, w, nil
}

// GetOrg returns an organization the user is an active member of
func (s *Service) GetOrg(ctx context.Context, orgID, userID uuid.UUID) (*Org, error) {
	if _, err := s.RequireRole(ctx, orgID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetOrg(ctx, orgID)
}

// GetOrgWallet returns the organization's wallet in a currency
func (s *Service) GetOrgWallet(ctx context.Context, orgID uuid.UUID, currency string) (*wallet.Wallet, error) {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return s.wallets.GetByOwner(ctx, wallet.OwnerTypeOrg, orgID, strings.ToUpper(currency))
}

// ListUserOrgs returns the organizations a user actively belongs to
func (s *Service) ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]*Org, error) {
	return s.repo.ListOrgsByUser(ctx, userID)
}

// ListMembers returns every membership of the org, to any active member
func (s *Service) ListMembers(ctx context.Context, orgID, actorID uuid.UUID) ([]*Member, error) {
	if _, err := s.RequireRole(ctx, orgID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, orgID)
}

// RequireRole returns the actor's membership if it is ACTIVE and holds one of roles.
// With no roles, any active membership passes.
func (s *Service) RequireRole(ctx context.Context, orgID, userID uuid.UUID, roles ...Role) (*Member, error) {
	m, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !m.IsActive() {
		return nil, ErrNotMember
	}
	if !m.HasRole(roles...) {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientRole, m.Role)
	}
	return m, nil
}

// AddMember adds a user to the org, or re-activates a removed membership.
// Owners and admins may add members; only owners may grant OWNER or ADMIN.
func (s *Service) AddMember(ctx context.Context, orgID, actorID, userID uuid.UUID, role Role) (*Member, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var added *Member
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockOrg(ctx, orgID); err != nil {
			return err
		}
		actor, err := s.RequireRole(ctx, orgID, actorID, managingRoles...)
		if err != nil {
			return err
		}
		if err := canGrant(actor, role); err != nil {
			return err
		}

		now := time.Now().UTC()
		existing, err := s.repo.GetMember(ctx, orgID, userID)
		switch {
		case err == nil && existing.Status != MemberStatusRemoved:
			return ErrAlreadyMember
		case err == nil:
			existing.Role = role
			existing.Status = MemberStatusActive
			existing.AddedBy = actorID
			existing.UpdatedAt = now
			added = existing
		case errors.Is(err, ErrMemberNotFound):
			added = &Member{
				OrgID:     orgID,
				UserID:    userID,
				Role:      role,
				Status:    MemberStatusActive,
				AddedBy:   actorID,
				CreatedAt: now,
				UpdatedAt: now,
			}
		default:
			return fmt.Errorf("failed to get member: %w", err)
		}

		return s.repo.SaveMember(ctx, added)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("member added", "org_id", orgID, "user_id", userID, "role", role)
	return added, nil
}

// UpdateMemberRole changes a member's role. The last active owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, actorID, userID uuid.UUID, role Role) (*Member, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var updated *Member
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockOrg(ctx, orgID); err != nil {
			return err
		}
		actor, err := s.RequireRole(ctx, orgID, actorID, managingRoles...)
		if err != nil {
			return err
		}

		target, err := s.repo.GetMember(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if target.Status == MemberStatusRemoved {
			return ErrMemberNotFound
		}
		if err := canGrant(actor, role); err != nil {
			return err
		}
		if err := canGrant(actor, target.Role); err != nil {
			return err
		}
		if target.Role == RoleOwner && role != RoleOwner {
			if err := s.keepsAnOwner(ctx, orgID, target); err != nil {
				return err
			}
		}

		target.Role = role
		target.UpdatedAt = time.Now().UTC()
		updated = target
		return s.repo.SaveMember(ctx, target)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("member role updated", "org_id", orgID, "user_id", userID, "role", role)
	return updated, nil
}

// RemoveMember marks a membership REMOVED. The last active owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, userID uuid.UUID) error {
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockOrg(ctx, orgID); err != nil {
			return err
		}
		actor, err := s.RequireRole(ctx, orgID, actorID, managingRoles...)
		if err != nil {
			return err
		}

		target, err := s.repo.GetMember(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if target.Status == MemberStatusRemoved {
			return nil
		}
		if err := canGrant(actor, target.Role); err != nil {
			return err
		}
		if target.Role == RoleOwner {
			if err := s.keepsAnOwner(ctx, orgID, target); err != nil {
				return err
			}
		}

		target.Status = MemberStatusRemoved
		target.UpdatedAt = time.Now().UTC()
		return s.repo.SaveMember(ctx, target)
	})
	if err != nil {
		return err
	}

	s.logger.WithContext(ctx).Info("member removed", "org_id", orgID, "user_id", userID)
	return nil
}

// keepsAnOwner fails when target is the only active owner left
func (s *Service) keepsAnOwner(ctx context.Context, orgID uuid.UUID, target *Member) error {
	if !target.IsActive() {
		return nil
	}
	owners, err := s.repo.CountActiveOwners(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

// canGrant checks that actor may hand out or take away role
func canGrant(actor *Member, role Role) error {
	if (role == RoleOwner || role == RoleAdmin) && actor.Role != RoleOwner {
		return fmt.Errorf("%w: only owners manage %s members", ErrInsufficientRole, role)
	}
	return nil
}
