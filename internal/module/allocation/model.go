package allocation

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of an allocation
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusFrozen Status = "FROZEN"
	StatusClosed Status = "CLOSED"
)

// Allocation is a budget carved out of an organization, with its own wallet.
// Allocations form a tree through ParentAllocationID.
type Allocation struct {
	ID                 uuid.UUID  `json:"id"`
	OrgID              uuid.UUID  `json:"org_id"`
	ParentAllocationID *uuid.UUID `json:"parent_allocation_id,omitempty"`
	Name               string     `json:"name"`
	ManagerID          uuid.UUID  `json:"manager_id"` // user managing the budget
	WalletID           uuid.UUID  `json:"wallet_id"`
	Status             Status     `json:"status"`
	CreatedBy          uuid.UUID  `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CreateRequest describes a new allocation
type CreateRequest struct {
	OrgID              uuid.UUID
	ActorID            uuid.UUID
	Name               string
	ManagerID          uuid.UUID
	ParentAllocationID *uuid.UUID
	Currency           string
}

// FundRequest moves money into an allocation
type FundRequest struct {
	AllocationID   uuid.UUID
	ActorID        uuid.UUID
	Amount         *big.Int // minor units
	Description    string
	IdempotencyKey string
}

// SpendRequest pays a user out of an allocation, subject to its rules
type SpendRequest struct {
	AllocationID    uuid.UUID
	ActorID         uuid.UUID
	RecipientUserID uuid.UUID
	Amount          *big.Int // minor units
	Description     string
	IdempotencyKey  string
}

// maxDepth bounds ancestor walks; a longer chain means the tree is corrupt
const maxDepth = 32
