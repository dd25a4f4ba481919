package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/allocation"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// AllocationServiceInterface defines the interface for allocation operations
type AllocationServiceInterface interface {
	CreateAllocation(ctx context.Context, req allocation.CreateRequest) (*allocation.Allocation, *wallet.Wallet, error)
	GetAllocation(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error)
	GetAllocationWallet(ctx context.Context, id, actorID uuid.UUID) (*wallet.Wallet, error)
	ListOrgAllocations(ctx context.Context, orgID, actorID uuid.UUID) ([]*allocation.Allocation, error)
	FundFromOrg(ctx context.Context, req allocation.FundRequest) (*ledger.Result, error)
	FundFromParent(ctx context.Context, req allocation.FundRequest) (*ledger.Result, error)
	Spend(ctx context.Context, req allocation.SpendRequest) (*ledger.Result, error)
	Freeze(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error)
	Unfreeze(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error)
	AddRule(ctx context.Context, allocationID, actorID uuid.UUID, ruleType allocation.RuleType, rawConfig json.RawMessage) (*allocation.Rule, error)
	UpdateRule(ctx context.Context, ruleID, actorID uuid.UUID, rawConfig json.RawMessage, enabled *bool) (*allocation.Rule, error)
	DeleteRule(ctx context.Context, ruleID, actorID uuid.UUID) error
	ListRules(ctx context.Context, allocationID, actorID uuid.UUID) ([]*allocation.Rule, error)
}

// AllocationHandler handles allocation requests
type AllocationHandler struct {
	allocations AllocationServiceInterface
	logger      *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(allocations AllocationServiceInterface, log *logger.Logger) *AllocationHandler {
	return &AllocationHandler{
		allocations: allocations,
		logger:      log.WithComponent("http.allocation"),
	}
}

// CreateAllocationRequest represents the allocation creation request
type CreateAllocationRequest struct {
	Name               string     `json:"name"`
	ManagerID          uuid.UUID  `json:"manager_id"`
	ParentAllocationID *uuid.UUID `json:"parent_allocation_id"`
	Currency           string     `json:"currency"`
}

// AllocationResponse is an allocation with its wallet
type AllocationResponse struct {
	*allocation.Allocation
	Wallet *WalletResponse `json:"wallet,omitempty"`
}

// FundAllocationRequest funds an allocation from the org wallet or its parent
type FundAllocationRequest struct {
	Source         string        `json:"source"` // "org" or "parent"
	Amount         *money.BigInt `json:"amount"`
	Description    string        `json:"description"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// SpendRequest pays a user out of an allocation
type SpendRequest struct {
	RecipientID    uuid.UUID     `json:"recipient_id"`
	Amount         *money.BigInt `json:"amount"`
	Description    string        `json:"description"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// RuleRequest creates a rule; on update Type is ignored and Config and Enabled are optional
type RuleRequest struct {
	Type    allocation.RuleType `json:"type"`
	Config  json.RawMessage     `json:"config"`
	Enabled *bool               `json:"enabled"`
}

// CreateAllocation handles POST /orgs/{id}/allocations
func (h *AllocationHandler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	var req CreateAllocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	a, wlt, err := h.allocations.CreateAllocation(r.Context(), allocation.CreateRequest{
		OrgID:              orgID,
		ActorID:            userID,
		Name:               req.Name,
		ManagerID:          req.ManagerID,
		ParentAllocationID: req.ParentAllocationID,
		Currency:           req.Currency,
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	wr := toWalletResponse(wlt)
	respondJSON(w, http.StatusCreated, AllocationResponse{Allocation: a, Wallet: &wr})
}

// GetOrgAllocations handles GET /orgs/{id}/allocations
func (h *AllocationHandler) GetOrgAllocations(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	allocations, err := h.allocations.ListOrgAllocations(r.Context(), orgID, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if allocations == nil {
		allocations = []*allocation.Allocation{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"allocations": allocations})
}

// GetAllocation handles GET /allocations/{id}
func (h *AllocationHandler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	a, err := h.allocations.GetAllocation(r.Context(), id, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	wlt, err := h.allocations.GetAllocationWallet(r.Context(), id, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	wr := toWalletResponse(wlt)
	respondJSON(w, http.StatusOK, AllocationResponse{Allocation: a, Wallet: &wr})
}

// FundAllocation handles POST /allocations/{id}/fund
func (h *AllocationHandler) FundAllocation(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	var req FundAllocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		respondAppError(w, r, h.logger, errMissingAmount)
		return
	}

	fund := allocation.FundRequest{
		AllocationID:   id,
		ActorID:        userID,
		Amount:         req.Amount.Int,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	}

	var result *ledger.Result
	var err error
	switch req.Source {
	case "", "org":
		result, err = h.allocations.FundFromOrg(r.Context(), fund)
	case "parent":
		result, err = h.allocations.FundFromParent(r.Context(), fund)
	default:
		err = errUnknownFundSrc
	}
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toResultResponse(result))
}

// Spend handles POST /allocations/{id}/spend
func (h *AllocationHandler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	var req SpendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if req.Amount == nil {
		respondAppError(w, r, h.logger, errMissingAmount)
		return
	}

	result, err := h.allocations.Spend(r.Context(), allocation.SpendRequest{
		AllocationID:    id,
		ActorID:         userID,
		RecipientUserID: req.RecipientID,
		Amount:          req.Amount.Int,
		Description:     req.Description,
		IdempotencyKey:  idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toResultResponse(result))
}

// FreezeAllocation handles POST /allocations/{id}/freeze
func (h *AllocationHandler) FreezeAllocation(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.allocations.Freeze)
}

// UnfreezeAllocation handles POST /allocations/{id}/unfreeze
func (h *AllocationHandler) UnfreezeAllocation(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.allocations.Unfreeze)
}

func (h *AllocationHandler) setStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error)) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	a, err := apply(r.Context(), id, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// GetRules handles GET /allocations/{id}/rules
func (h *AllocationHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	rules, err := h.allocations.ListRules(r.Context(), id, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if rules == nil {
		rules = []*allocation.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// AddRule handles POST /allocations/{id}/rules
func (h *AllocationHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.params(w, r, "id")
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	rule, err := h.allocations.AddRule(r.Context(), id, userID, req.Type, req.Config)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /allocation-rules/{ruleID}
func (h *AllocationHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ruleID, ok := h.params(w, r, "ruleID")
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	rule, err := h.allocations.UpdateRule(r.Context(), ruleID, userID, req.Config, req.Enabled)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /allocation-rules/{ruleID}
func (h *AllocationHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ruleID, ok := h.params(w, r, "ruleID")
	if !ok {
		return
	}

	if err := h.allocations.DeleteRule(r.Context(), ruleID, userID); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AllocationHandler) params(w http.ResponseWriter, r *http.Request, name string) (userID, id uuid.UUID, ok bool) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return uuid.Nil, uuid.Nil, false
	}
	id, err = pathUUID(r, name)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}
