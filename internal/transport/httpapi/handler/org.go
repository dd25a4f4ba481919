package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// OrgServiceInterface defines the interface for organization operations
type OrgServiceInterface interface {
	CreateOrg(ctx context.Context, req org.CreateOrgRequest) (*org.Org, *wallet.Wallet, error)
	GetOrg(ctx context.Context, orgID, userID uuid.UUID) (*org.Org, error)
	ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]*org.Org, error)
	ListMembers(ctx context.Context, orgID, actorID uuid.UUID) ([]*org.Member, error)
	AddMember(ctx context.Context, orgID, actorID, userID uuid.UUID, role org.Role) (*org.Member, error)
	UpdateMemberRole(ctx context.Context, orgID, actorID, userID uuid.UUID, role org.Role) (*org.Member, error)
	RemoveMember(ctx context.Context, orgID, actorID, userID uuid.UUID) error
}

// OrgHandler handles organization and membership requests
type OrgHandler struct {
	orgs    OrgServiceInterface
	wallets WalletServiceInterface
	logger  *logger.Logger
}

// NewOrgHandler creates a new org handler
func NewOrgHandler(orgs OrgServiceInterface, wallets WalletServiceInterface, log *logger.Logger) *OrgHandler {
	return &OrgHandler{
		orgs:    orgs,
		wallets: wallets,
		logger:  log.WithComponent("http.org"),
	}
}

// CreateOrgRequest represents the org creation request
type CreateOrgRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Currency string `json:"currency"`
}

// OrgResponse is an org with its wallet
type OrgResponse struct {
	*org.Org
	Wallet *WalletResponse `json:"wallet,omitempty"`
}

// MemberRequest adds a member or changes a member's role
type MemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Role   org.Role  `json:"role"`
}

// CreateOrg handles POST /orgs
func (h *OrgHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req CreateOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	o, wlt, err := h.orgs.CreateOrg(r.Context(), org.CreateOrgRequest{
		CreatorID: userID,
		Name:      req.Name,
		Slug:      req.Slug,
		Currency:  req.Currency,
	})
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	wr := toWalletResponse(wlt)
	respondJSON(w, http.StatusCreated, OrgResponse{Org: o, Wallet: &wr})
}

// GetOrgs handles GET /orgs
func (h *OrgHandler) GetOrgs(w http.ResponseWriter, r *http.Request) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	orgs, err := h.orgs.ListUserOrgs(r.Context(), userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if orgs == nil {
		orgs = []*org.Org{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orgs": orgs})
}

// GetOrg handles GET /orgs/{id}, including the org's wallets
func (h *OrgHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r)
	if !ok {
		return
	}

	o, err := h.orgs.GetOrg(r.Context(), orgID, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	wallets, err := h.wallets.ListByOwner(r.Context(), wallet.OwnerTypeOrg, o.ID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"org":     o,
		"wallets": toWalletResponses(wallets),
	})
}

// GetMembers handles GET /orgs/{id}/members
func (h *OrgHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r)
	if !ok {
		return
	}

	members, err := h.orgs.ListMembers(r.Context(), orgID, userID)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	if members == nil {
		members = []*org.Member{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

// AddMember handles POST /orgs/{id}/members
func (h *OrgHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r)
	if !ok {
		return
	}

	var req MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	m, err := h.orgs.AddMember(r.Context(), orgID, userID, req.UserID, req.Role)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// UpdateMember handles PUT /orgs/{id}/members/{userID}
func (h *OrgHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r)
	if !ok {
		return
	}
	memberID, err := pathUUID(r, "userID")
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	var req MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	m, err := h.orgs.UpdateMemberRole(r.Context(), orgID, userID, memberID, req.Role)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// RemoveMember handles DELETE /orgs/{id}/members/{userID}
func (h *OrgHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.params(w, r)
	if !ok {
		return
	}
	memberID, err := pathUUID(r, "userID")
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}

	if err := h.orgs.RemoveMember(r.Context(), orgID, userID, memberID); err != nil {
		respondAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrgHandler) params(w http.ResponseWriter, r *http.Request) (userID, orgID uuid.UUID, ok bool) {
	userID, err := actor(r)
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return uuid.Nil, uuid.Nil, false
	}
	orgID, err = pathUUID(r, "id")
	if err != nil {
		respondAppError(w, r, h.logger, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, orgID, true
}
