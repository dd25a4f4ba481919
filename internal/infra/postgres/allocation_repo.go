package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/fundflow/internal/module/allocation"
)

// AllocationRepository implements allocation.Repository using PostgreSQL
type AllocationRepository struct {
	pool *pgxpool.Pool
}

// NewAllocationRepository creates a new PostgreSQL allocation repository
func NewAllocationRepository(pool *pgxpool.Pool) *AllocationRepository {
	return &AllocationRepository{pool: pool}
}

const (
	allocationColumns = `id, org_id, parent_allocation_id, name, manager_id, wallet_id, status, created_by, created_at, updated_at`
	ruleColumns       = `id, allocation_id, type, config, enabled, created_by, created_at, updated_at`
)

// Create inserts a new allocation
func (r *AllocationRepository) Create(ctx context.Context, a *allocation.Allocation) error {
	query := `INSERT INTO allocations (` + allocationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	q := queryerFor(ctx, r.pool)
	_, err := q.Exec(ctx, query,
		a.ID,
		a.OrgID,
		a.ParentAllocationID,
		a.Name,
		a.ManagerID,
		a.WalletID,
		string(a.Status),
		a.CreatedBy,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		if constraint, ok := violatedConstraint(err, pgUniqueViolation); ok && constraint == "allocations_wallet_key" {
			return storageError("allocation wallet already bound", err)
		}
		if _, ok := violatedConstraint(err, pgForeignKeyViolation); ok {
			return fmt.Errorf("%w: %v", allocation.ErrInvalidParent, err)
		}
		return storageError("failed to create allocation", err)
	}
	return nil
}

// GetByID retrieves an allocation by ID
func (r *AllocationRepository) GetByID(ctx context.Context, id uuid.UUID) (*allocation.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE id = $1`

	q := queryerFor(ctx, r.pool)
	a, err := scanAllocation(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, allocation.ErrAllocationNotFound
		}
		return nil, storageError("failed to get allocation", err)
	}
	return a, nil
}

// ListByOrg returns every allocation of an organization, oldest first
func (r *AllocationRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*allocation.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE org_id = $1 ORDER BY created_at, id`

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, orgID)
	if err != nil {
		return nil, storageError("failed to list allocations", err)
	}
	defer rows.Close()

	var allocations []*allocation.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, storageError("failed to scan allocation", err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating allocations", err)
	}
	return allocations, nil
}

// UpdateStatus sets the status of an allocation
func (r *AllocationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status allocation.Status, at time.Time) error {
	query := `UPDATE allocations SET status = $2, updated_at = $3 WHERE id = $1`

	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, query, id, string(status), at.UTC())
	if err != nil {
		return storageError("failed to update allocation status", err)
	}
	if tag.RowsAffected() == 0 {
		return allocation.ErrAllocationNotFound
	}
	return nil
}

// CreateRule inserts a rule; a second rule of the same type on an allocation is rejected
func (r *AllocationRepository) CreateRule(ctx context.Context, rule *allocation.Rule) error {
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `INSERT INTO allocation_rules (` + ruleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	q := queryerFor(ctx, r.pool)
	_, err = q.Exec(ctx, query,
		rule.ID,
		rule.AllocationID,
		string(rule.Type),
		config,
		rule.Enabled,
		rule.CreatedBy,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt.UTC(),
	)
	if err != nil {
		if constraint, ok := violatedConstraint(err, pgUniqueViolation); ok && constraint == "allocation_rules_allocation_type_key" {
			return fmt.Errorf("%w: %s", allocation.ErrRuleExists, rule.Type)
		}
		if _, ok := violatedConstraint(err, pgForeignKeyViolation); ok {
			return allocation.ErrAllocationNotFound
		}
		return storageError("failed to create allocation rule", err)
	}
	return nil
}

// GetRule retrieves a rule by ID
func (r *AllocationRepository) GetRule(ctx context.Context, id uuid.UUID) (*allocation.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM allocation_rules WHERE id = $1`

	q := queryerFor(ctx, r.pool)
	rule, err := scanRule(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, allocation.ErrRuleNotFound
		}
		return nil, storageError("failed to get allocation rule", err)
	}
	return rule, nil
}

// UpdateRule stores a rule's config and enabled flag
func (r *AllocationRepository) UpdateRule(ctx context.Context, rule *allocation.Rule) error {
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `UPDATE allocation_rules SET config = $2, enabled = $3, updated_at = $4 WHERE id = $1`

	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, query, rule.ID, config, rule.Enabled, rule.UpdatedAt.UTC())
	if err != nil {
		return storageError("failed to update allocation rule", err)
	}
	if tag.RowsAffected() == 0 {
		return allocation.ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule
func (r *AllocationRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM allocation_rules WHERE id = $1`, id)
	if err != nil {
		return storageError("failed to delete allocation rule", err)
	}
	if tag.RowsAffected() == 0 {
		return allocation.ErrRuleNotFound
	}
	return nil
}

// ListRules returns the rules of an allocation in creation order
func (r *AllocationRepository) ListRules(ctx context.Context, allocationID uuid.UUID) ([]*allocation.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM allocation_rules WHERE allocation_id = $1 ORDER BY created_at, id`

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, allocationID)
	if err != nil {
		return nil, storageError("failed to list allocation rules", err)
	}
	defer rows.Close()

	rules := []*allocation.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storageError("failed to scan allocation rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating allocation rules", err)
	}
	return rules, nil
}

// SumDebitsSince sums the DEBIT entries of a wallet created at or after since
func (r *AllocationRepository) SumDebitsSince(ctx context.Context, walletID uuid.UUID, since time.Time) (*big.Int, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM ledger_entries
		WHERE wallet_id = $1 AND direction = 'DEBIT' AND created_at >= $2
	`

	var sumStr string
	q := queryerFor(ctx, r.pool)
	if err := q.QueryRow(ctx, query, walletID, since.UTC()).Scan(&sumStr); err != nil {
		return nil, storageError("failed to sum wallet debits", err)
	}
	return parseBigInt(sumStr, "debit sum")
}

func scanAllocation(row pgx.Row) (*allocation.Allocation, error) {
	var a allocation.Allocation
	var status string
	if err := row.Scan(
		&a.ID,
		&a.OrgID,
		&a.ParentAllocationID,
		&a.Name,
		&a.ManagerID,
		&a.WalletID,
		&status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = allocation.Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanRule(row pgx.Row) (*allocation.Rule, error) {
	var rule allocation.Rule
	var ruleType string
	var config []byte
	if err := row.Scan(
		&rule.ID,
		&rule.AllocationID,
		&ruleType,
		&config,
		&rule.Enabled,
		&rule.CreatedBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Type = allocation.RuleType(ruleType)

	cfg, err := allocation.DecodeRuleConfig(rule.Type, config)
	if err != nil {
		return nil, fmt.Errorf("stored rule %s: %w", rule.ID, err)
	}
	rule.Config = cfg
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
