package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/fundflow/internal/module/payments"
)

// ProviderEventRepository implements payments.EventRepository using PostgreSQL
type ProviderEventRepository struct {
	pool *pgxpool.Pool
}

// NewProviderEventRepository creates a new PostgreSQL provider event repository
func NewProviderEventRepository(pool *pgxpool.Pool) *ProviderEventRepository {
	return &ProviderEventRepository{pool: pool}
}

const providerEventColumns = `id, provider, event_id, event_type, reference, payload, status, error, transaction_id, received_at, processed_at`

// Create inserts a received event
func (r *ProviderEventRepository) Create(ctx context.Context, ev *payments.ProviderEvent) error {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO provider_events (` + providerEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	q := queryerFor(ctx, r.pool)
	_, err = q.Exec(ctx, query,
		ev.ID,
		ev.Provider,
		ev.EventID,
		ev.EventType,
		ev.Reference,
		payloadJSON,
		string(ev.Status),
		ev.Error,
		ev.TransactionID,
		ev.ReceivedAt.UTC(),
		ev.ProcessedAt,
	)
	if err != nil {
		if constraint, ok := violatedConstraint(err, pgUniqueViolation); ok && constraint == "provider_events_provider_event_id_key" {
			return fmt.Errorf("%w: %s/%s", payments.ErrDuplicateEvent, ev.Provider, ev.EventID)
		}
		return storageError("failed to record provider event", err)
	}

	return nil
}

// GetByEventID retrieves an event by its provider-assigned ID
func (r *ProviderEventRepository) GetByEventID(ctx context.Context, provider, eventID string) (*payments.ProviderEvent, error) {
	query := `SELECT ` + providerEventColumns + ` FROM provider_events WHERE provider = $1 AND event_id = $2`

	q := queryerFor(ctx, r.pool)
	ev, err := scanProviderEvent(q.QueryRow(ctx, query, provider, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payments.ErrEventNotFound
		}
		return nil, storageError("failed to get provider event", err)
	}
	return ev, nil
}

// UpdateOutcome stores the result of handling an event
func (r *ProviderEventRepository) UpdateOutcome(ctx context.Context, ev *payments.ProviderEvent) error {
	query := `
		UPDATE provider_events
		SET status = $2, error = $3, transaction_id = $4, processed_at = $5
		WHERE id = $1
	`

	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, query, ev.ID, string(ev.Status), ev.Error, ev.TransactionID, ev.ProcessedAt)
	if err != nil {
		return storageError("failed to update provider event", err)
	}
	if tag.RowsAffected() == 0 {
		return payments.ErrEventNotFound
	}
	return nil
}

// List returns events newest first
func (r *ProviderEventRepository) List(ctx context.Context, filters payments.EventFilters) ([]*payments.ProviderEvent, error) {
	var conditions []string
	var args []interface{}

	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + providerEventColumns + ` FROM provider_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filters.Limit, filters.Offset)
	query += fmt.Sprintf(` ORDER BY received_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("failed to list provider events", err)
	}
	defer rows.Close()

	var events []*payments.ProviderEvent
	for rows.Next() {
		ev, err := scanProviderEvent(rows)
		if err != nil {
			return nil, storageError("failed to scan provider event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating provider events", err)
	}

	return events, nil
}

func scanProviderEvent(row pgx.Row) (*payments.ProviderEvent, error) {
	var ev payments.ProviderEvent
	var status string
	var payloadJSON []byte

	err := row.Scan(
		&ev.ID,
		&ev.Provider,
		&ev.EventID,
		&ev.EventType,
		&ev.Reference,
		&payloadJSON,
		&status,
		&ev.Error,
		&ev.TransactionID,
		&ev.ReceivedAt,
		&ev.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Status = payments.EventStatus(status)
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	if ev.ProcessedAt != nil {
		at := ev.ProcessedAt.UTC()
		ev.ProcessedAt = &at
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
	}

	return &ev, nil
}
