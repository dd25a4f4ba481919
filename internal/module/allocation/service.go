package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// Org roles that administer every allocation of their org
var adminRoles = []org.Role{org.RoleOwner, org.RoleAdmin}

// Service manages allocations: the budget tree, its funding, and rule-checked spending
type Service struct {
	repo    Repository
	members MemberDirectory
	ledger  Ledger
	wallets Wallets
	uow     UnitOfWork
	logger  *logger.Logger
	clock   func() time.Time
}

// NewService creates a new allocation service
func NewService(repo Repository, members MemberDirectory, ledgerSvc Ledger, wallets Wallets, uow UnitOfWork, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		members: members,
		ledger:  ledgerSvc,
		wallets: wallets,
		uow:     uow,
		logger:  log.WithComponent("allocation"),
		clock:   time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// CreateAllocation creates an allocation and its wallet. Only org owners and admins may.
func (s *Service) CreateAllocation(ctx context.Context, req CreateRequest) (*Allocation, *wallet.Wallet, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, ErrInvalidName
	}

	if _, err := s.members.RequireRole(ctx, req.OrgID, req.ActorID, adminRoles...); err != nil {
		return nil, nil, err
	}
	if _, err := s.members.RequireRole(ctx, req.OrgID, req.ManagerID); err != nil {
		if errors.Is(err, org.ErrNotMember) {
			return nil, nil, ErrInvalidManager
		}
		return nil, nil, err
	}

	if req.ParentAllocationID != nil {
		parent, err := s.repo.GetByID(ctx, *req.ParentAllocationID)
		if errors.Is(err, ErrAllocationNotFound) || (err == nil && parent.OrgID != req.OrgID) {
			return nil, nil, ErrInvalidParent
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get parent allocation: %w", err)
		}
		if parent.Status == StatusClosed {
			return nil, nil, fmt.Errorf("%w: parent %s", ErrAllocationClosed, parent.ID)
		}
	}

	now := s.now()
	a := &Allocation{
		ID:                 uuid.New(),
		OrgID:              req.OrgID,
		ParentAllocationID: req.ParentAllocationID,
		Name:               name,
		ManagerID:          req.ManagerID,
		Status:             StatusActive,
		CreatedBy:          req.ActorID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var w *wallet.Wallet
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.wallets.Create(ctx, wallet.OwnerTypeAllocation, a.ID, req.Currency)
		if err != nil {
			return fmt.Errorf("failed to create allocation wallet: %w", err)
		}
		a.WalletID = w.ID
		if err := s.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("failed to create allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithContext(ctx).Info("allocation created",
		"allocation_id", a.ID,
		"org_id", a.OrgID,
		"wallet_id", a.WalletID,
	)
	return a, w, nil
}

// GetAllocation returns an allocation to any active member of its org
func (s *Service) GetAllocation(ctx context.Context, id, actorID uuid.UUID) (*Allocation, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireRole(ctx, a.OrgID, actorID); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAllocationWallet returns the wallet of an allocation
func (s *Service) GetAllocationWallet(ctx context.Context, id, actorID uuid.UUID) (*wallet.Wallet, error) {
	a, err := s.GetAllocation(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	return s.wallets.GetByID(ctx, a.WalletID)
}

// ListOrgAllocations returns every allocation of an org
func (s *Service) ListOrgAllocations(ctx context.Context, orgID, actorID uuid.UUID) ([]*Allocation, error) {
	if _, err := s.members.RequireRole(ctx, orgID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListByOrg(ctx, orgID)
}

// Ancestors returns the chain of parents of an allocation, nearest first
func (s *Service) Ancestors(ctx context.Context, a *Allocation) ([]*Allocation, error) {
	var chain []*Allocation
	seen := map[uuid.UUID]bool{a.ID: true}

	for next := a.ParentAllocationID; next != nil; {
		if seen[*next] || len(chain) >= maxDepth {
			return nil, fmt.Errorf("%w: at %s", ErrCyclicHierarchy, *next)
		}
		seen[*next] = true

		parent, err := s.repo.GetByID(ctx, *next)
		if err != nil {
			return nil, fmt.Errorf("failed to get ancestor %s: %w", *next, err)
		}
		chain = append(chain, parent)
		next = parent.ParentAllocationID
	}

	return chain, nil
}

// authorizeManager admits org owners and admins, the allocation's manager, and
// the manager of any ancestor allocation. It returns the actor's org role.
func (s *Service) authorizeManager(ctx context.Context, a *Allocation, actorID uuid.UUID) (org.Role, error) {
	m, err := s.members.RequireRole(ctx, a.OrgID, actorID)
	if err != nil {
		return "", err
	}
	if m.HasRole(adminRoles...) || a.ManagerID == actorID {
		return m.Role, nil
	}

	ancestors, err := s.Ancestors(ctx, a)
	if err != nil {
		return "", err
	}
	for _, anc := range ancestors {
		if anc.ManagerID == actorID {
			return m.Role, nil
		}
	}
	return "", ErrNotManager
}

// FundFromOrg moves money from the org wallet into the allocation. Owners and admins only.
func (s *Service) FundFromOrg(ctx context.Context, req FundRequest) (*ledger.Result, error) {
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	a, err := s.fundable(ctx, req.AllocationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireRole(ctx, a.OrgID, req.ActorID, adminRoles...); err != nil {
		return nil, err
	}

	dest, err := s.wallets.GetByID(ctx, a.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation wallet: %w", err)
	}
	source, err := s.wallets.GetByOwner(ctx, wallet.OwnerTypeOrg, a.OrgID, dest.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get org wallet: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Fund allocation: " + a.Name
	}

	return s.topUp(ctx, a, req, source, dest, description, "org")
}

// FundFromParent moves money from the parent allocation into a child allocation.
// The parent's managers, up the tree, and org owners and admins may do this.
func (s *Service) FundFromParent(ctx context.Context, req FundRequest) (*ledger.Result, error) {
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	a, err := s.fundable(ctx, req.AllocationID)
	if err != nil {
		return nil, err
	}
	if a.ParentAllocationID == nil {
		return nil, ErrNoParent
	}

	parent, err := s.repo.GetByID(ctx, *a.ParentAllocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent allocation: %w", err)
	}
	if parent.Status != StatusActive {
		return nil, fmt.Errorf("%w: parent %s is %s", ErrAllocationNotActive, parent.ID, parent.Status)
	}
	if _, err := s.authorizeManager(ctx, parent, req.ActorID); err != nil {
		return nil, err
	}

	source, err := s.wallets.GetByID(ctx, parent.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent wallet: %w", err)
	}
	dest, err := s.wallets.GetByID(ctx, a.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation wallet: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Sub-allocation funding: " + a.Name
	}

	return s.topUp(ctx, a, req, source, dest, description, "parent")
}

// fundable loads an allocation that can still receive money
func (s *Service) fundable(ctx context.Context, id uuid.UUID) (*Allocation, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusClosed {
		return nil, fmt.Errorf("%w: %s", ErrAllocationClosed, a.ID)
	}
	return a, nil
}

func (s *Service) topUp(ctx context.Context, a *Allocation, req FundRequest, source, dest *wallet.Wallet, description, from string) (*ledger.Result, error) {
	result, err := s.ledger.PostTransaction(ctx, ledger.Intent{
		Type:                ledger.TxTypeAllocationTopup,
		Amount:              req.Amount,
		Currency:            dest.Currency,
		InitiatedBy:         req.ActorID,
		SourceWalletID:      &source.ID,
		DestinationWalletID: &dest.ID,
		Description:         description,
		IdempotencyKey:      req.IdempotencyKey,
		Metadata: map[string]interface{}{
			"allocation_id": a.ID.String(),
			"funded_from":   from,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fund allocation: %w", err)
	}

	s.logger.WithContext(ctx).Info("allocation funded",
		"allocation_id", a.ID,
		"from", from,
		"amount", req.Amount.String(),
		"transaction_id", result.Transaction.ID,
	)
	return result, nil
}

// Spend pays a user out of an ACTIVE allocation. The allocation's enabled rules are
// checked while its wallet is locked, so concurrent spends cannot both slip under a limit.
func (s *Service) Spend(ctx context.Context, req SpendRequest) (*ledger.Result, error) {
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if req.RecipientUserID == uuid.Nil {
		return nil, ErrMissingRecipient
	}

	a, err := s.repo.GetByID(ctx, req.AllocationID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrAllocationNotActive, a.ID, a.Status)
	}

	role, err := s.authorizeManager(ctx, a, req.ActorID)
	if err != nil {
		return nil, err
	}

	source, err := s.wallets.GetByID(ctx, a.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation wallet: %w", err)
	}
	dest, err := s.wallets.Create(ctx, wallet.OwnerTypeUser, req.RecipientUserID, source.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient wallet: %w", err)
	}

	guard := func(ctx context.Context) error {
		rules, err := s.repo.ListRules(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("failed to load allocation rules: %w", err)
		}
		return evaluate(rules, &SpendContext{
			Amount:          req.Amount,
			RecipientUserID: req.RecipientUserID,
			SpenderRole:     role,
			Now:             s.now(),
			SpentSince: func(since time.Time) (*big.Int, error) {
				return s.repo.SumDebitsSince(ctx, source.ID, since)
			},
		})
	}

	description := req.Description
	if description == "" {
		description = "Spend from allocation: " + a.Name
	}

	result, err := s.ledger.PostTransaction(ctx, ledger.Intent{
		Type:                ledger.TxTypeTransfer,
		Amount:              req.Amount,
		Currency:            source.Currency,
		InitiatedBy:         req.ActorID,
		SourceWalletID:      &source.ID,
		DestinationWalletID: &dest.ID,
		Description:         description,
		IdempotencyKey:      req.IdempotencyKey,
		Guard:               guard,
		Metadata: map[string]interface{}{
			"allocation_id":     a.ID.String(),
			"recipient_user_id": req.RecipientUserID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("allocation spend failed: %w", err)
	}

	s.logger.WithContext(ctx).Info("allocation spend posted",
		"allocation_id", a.ID,
		"recipient_id", req.RecipientUserID,
		"amount", req.Amount.String(),
		"transaction_id", result.Transaction.ID,
	)
	return result, nil
}

// Freeze stops spending and funding-out from an allocation; its wallet still receives money
func (s *Service) Freeze(ctx context.Context, id, actorID uuid.UUID) (*Allocation, error) {
	return s.setStatus(ctx, id, actorID, StatusFrozen)
}

// Unfreeze re-enables a frozen allocation
func (s *Service) Unfreeze(ctx context.Context, id, actorID uuid.UUID) (*Allocation, error) {
	return s.setStatus(ctx, id, actorID, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id, actorID uuid.UUID, to Status) (*Allocation, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireRole(ctx, a.OrgID, actorID, adminRoles...); err != nil {
		return nil, err
	}
	if a.Status == StatusClosed {
		return nil, fmt.Errorf("%w: %s", ErrAllocationClosed, a.ID)
	}
	if a.Status == to {
		return a, nil
	}

	now := s.now()
	err = s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, a.ID, to, now); err != nil {
			return err
		}
		if to == StatusFrozen {
			_, err = s.wallets.Freeze(ctx, a.WalletID)
		} else {
			_, err = s.wallets.Unfreeze(ctx, a.WalletID)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change allocation status: %w", err)
	}

	s.logger.WithContext(ctx).Info("allocation status changed", "allocation_id", a.ID, "from", a.Status, "to", to)
	a.Status = to
	a.UpdatedAt = now
	return a, nil
}

// AddRule attaches a rule to an allocation. The config is decoded and validated now.
func (s *Service) AddRule(ctx context.Context, allocationID, actorID uuid.UUID, ruleType RuleType, rawConfig json.RawMessage) (*Rule, error) {
	a, err := s.repo.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireRole(ctx, a.OrgID, actorID, adminRoles...); err != nil {
		return nil, err
	}

	cfg, err := DecodeRuleConfig(ruleType, rawConfig)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Rule{
		ID:           uuid.New(),
		AllocationID: a.ID,
		Type:         ruleType,
		Config:       cfg,
		Enabled:      true,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateRule(ctx, r); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("allocation rule added", "allocation_id", a.ID, "rule_id", r.ID, "type", r.Type)
	return r, nil
}

// UpdateRule replaces a rule's config and/or toggles it. Nil arguments leave a field as is.
func (s *Service) UpdateRule(ctx context.Context, ruleID, actorID uuid.UUID, rawConfig json.RawMessage, enabled *bool) (*Rule, error) {
	r, a, err := s.ruleForAdmin(ctx, ruleID, actorID)
	if err != nil {
		return nil, err
	}

	if len(rawConfig) > 0 {
		cfg, err := DecodeRuleConfig(r.Type, rawConfig)
		if err != nil {
			return nil, err
		}
		r.Config = cfg
	}
	if enabled != nil {
		r.Enabled = *enabled
	}
	r.UpdatedAt = s.now()

	if err := s.repo.UpdateRule(ctx, r); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("allocation rule updated", "allocation_id", a.ID, "rule_id", r.ID, "enabled", r.Enabled)
	return r, nil
}

// DeleteRule removes a rule
func (s *Service) DeleteRule(ctx context.Context, ruleID, actorID uuid.UUID) error {
	r, a, err := s.ruleForAdmin(ctx, ruleID, actorID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, r.ID); err != nil {
		return err
	}

	s.logger.WithContext(ctx).Info("allocation rule deleted", "allocation_id", a.ID, "rule_id", r.ID)
	return nil
}

// ListRules returns the rules of an allocation
func (s *Service) ListRules(ctx context.Context, allocationID, actorID uuid.UUID) ([]*Rule, error) {
	if _, err := s.GetAllocation(ctx, allocationID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListRules(ctx, allocationID)
}

func (s *Service) ruleForAdmin(ctx context.Context, ruleID, actorID uuid.UUID) (*Rule, *Allocation, error) {
	r, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.repo.GetByID(ctx, r.AllocationID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.members.RequireRole(ctx, a.OrgID, actorID, adminRoles...); err != nil {
		return nil, nil, err
	}
	return r, a, nil
}
