package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/fundflow/internal/module/org"
)

// OrgRepository implements org.Repository using PostgreSQL
type OrgRepository struct {
	pool *pgxpool.Pool
}

// NewOrgRepository creates a new PostgreSQL org repository
func NewOrgRepository(pool *pgxpool.Pool) *OrgRepository {
	return &OrgRepository{pool: pool}
}

const (
	orgColumns    = `id, name, slug, created_by, created_at, updated_at`
	memberColumns = `org_id, user_id, role, status, added_by, created_at, updated_at`
)

// CreateOrg inserts a new organization
func (r *OrgRepository) CreateOrg(ctx context.Context, o *org.Org) error {
	query := `INSERT INTO orgs (` + orgColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	q := queryerFor(ctx, r.pool)
	_, err := q.Exec(ctx, query, o.ID, o.Name, o.Slug, o.CreatedBy, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		if constraint, ok := violatedConstraint(err, pgUniqueViolation); ok && constraint == "orgs_slug_key" {
			return fmt.Errorf("%w: %s", org.ErrSlugTaken, o.Slug)
		}
		return storageError("failed to create org", err)
	}
	return nil
}

// GetOrg retrieves an organization by ID
func (r *OrgRepository) GetOrg(ctx context.Context, id uuid.UUID) (*org.Org, error) {
	return r.getOrg(ctx, `SELECT `+orgColumns+` FROM orgs WHERE id = $1`, id)
}

// LockOrg retrieves an organization with row-level locking (SELECT FOR UPDATE)
func (r *OrgRepository) LockOrg(ctx context.Context, id uuid.UUID) (*org.Org, error) {
	if err := requireTx(ctx, "lock org"); err != nil {
		return nil, err
	}
	return r.getOrg(ctx, `SELECT `+orgColumns+` FROM orgs WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrgRepository) getOrg(ctx context.Context, query string, id uuid.UUID) (*org.Org, error) {
	q := queryerFor(ctx, r.pool)
	o, err := scanOrg(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrOrgNotFound
		}
		return nil, storageError("failed to get org", err)
	}
	return o, nil
}

// ListOrgsByUser returns the organizations the user is an active member of
func (r *OrgRepository) ListOrgsByUser(ctx context.Context, userID uuid.UUID) ([]*org.Org, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.created_by, o.created_at, o.updated_at
		FROM orgs o
		JOIN org_members m ON m.org_id = o.id
		WHERE m.user_id = $1 AND m.status = 'ACTIVE'
		ORDER BY o.created_at
	`

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, storageError("failed to list orgs", err)
	}
	defer rows.Close()

	var orgs []*org.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, storageError("failed to scan org", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating orgs", err)
	}
	return orgs, nil
}

// GetMember retrieves a membership
func (r *OrgRepository) GetMember(ctx context.Context, orgID, userID uuid.UUID) (*org.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM org_members WHERE org_id = $1 AND user_id = $2`

	q := queryerFor(ctx, r.pool)
	m, err := scanMember(q.QueryRow(ctx, query, orgID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrMemberNotFound
		}
		return nil, storageError("failed to get member", err)
	}
	return m, nil
}

// SaveMember inserts a membership or updates role, status and added_by of an existing one
func (r *OrgRepository) SaveMember(ctx context.Context, m *org.Member) error {
	query := `
		INSERT INTO org_members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (org_id, user_id) DO UPDATE
		SET role = EXCLUDED.role,
			status = EXCLUDED.status,
			added_by = EXCLUDED.added_by,
			updated_at = EXCLUDED.updated_at
	`

	q := queryerFor(ctx, r.pool)
	_, err := q.Exec(ctx, query,
		m.OrgID,
		m.UserID,
		string(m.Role),
		string(m.Status),
		m.AddedBy,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)
	if err != nil {
		if _, ok := violatedConstraint(err, pgForeignKeyViolation); ok {
			return fmt.Errorf("%w: %v", org.ErrOrgNotFound, err)
		}
		return storageError("failed to save member", err)
	}
	return nil
}

// ListMembers returns every membership of an organization, oldest first
func (r *OrgRepository) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*org.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM org_members WHERE org_id = $1 ORDER BY created_at, user_id`

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, orgID)
	if err != nil {
		return nil, storageError("failed to list members", err)
	}
	defer rows.Close()

	var members []*org.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, storageError("failed to scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating members", err)
	}
	return members, nil
}

// CountActiveOwners counts the active owners of an organization
func (r *OrgRepository) CountActiveOwners(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM org_members WHERE org_id = $1 AND role = 'OWNER' AND status = 'ACTIVE'`

	var n int
	q := queryerFor(ctx, r.pool)
	if err := q.QueryRow(ctx, query, orgID).Scan(&n); err != nil {
		return 0, storageError("failed to count owners", err)
	}
	return n, nil
}

func scanOrg(row pgx.Row) (*org.Org, error) {
	var o org.Org
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func scanMember(row pgx.Row) (*org.Member, error) {
	var m org.Member
	var role, status string
	if err := row.Scan(&m.OrgID, &m.UserID, &role, &status, &m.AddedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = org.Role(role)
	m.Status = org.MemberStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}
