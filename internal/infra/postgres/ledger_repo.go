package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// LedgerRepository implements the repository interface using PostgreSQL
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const transactionColumns = `
	id, reference, idempotency_key, type, status, amount, currency, initiated_by,
	source_wallet_id, destination_wallet_id, provider_reference, provider_response,
	failure_reason, reversal_of, description, metadata, created_at, updated_at, completed_at`

const entryColumns = `
	id, transaction_id, wallet_id, direction, amount, currency, balance_after, created_at`

// Transaction operations

// CreateTransaction inserts a transaction record
func (r *LedgerRepository) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	providerResponseJSON, err := marshalJSON(tx.ProviderResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal provider response: %w", err)
	}
	metadataJSON, err := marshalJSON(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	q := queryerFor(ctx, r.pool)
	_, err = q.Exec(ctx, query,
		tx.ID,
		tx.Reference,
		tx.IdempotencyKey,
		string(tx.Type),
		string(tx.Status),
		tx.Amount.String(),
		tx.Currency,
		tx.InitiatedBy,
		tx.SourceWalletID,
		tx.DestinationWalletID,
		tx.ProviderReference,
		providerResponseJSON,
		tx.FailureReason,
		tx.ReversalOf,
		tx.Description,
		metadataJSON,
		tx.CreatedAt,
		tx.UpdatedAt,
		tx.CompletedAt,
	)
	if err != nil {
		return mapTransactionWriteError("failed to create transaction", err)
	}

	return nil
}

// mapTransactionWriteError turns constraint violations into the ledger's domain errors
func mapTransactionWriteError(message string, err error) error {
	if constraint, ok := violatedConstraint(err, pgUniqueViolation); ok {
		switch constraint {
		case "transactions_idempotency_key_key":
			return fmt.Errorf("%w: %v", ledger.ErrDuplicateIdempotencyKey, err)
		case "transactions_reference_key":
			return fmt.Errorf("%w: %v", ledger.ErrReferenceCollision, err)
		case "transactions_provider_reference_key":
			return fmt.Errorf("%w: %v", ledger.ErrProviderReferenceSet, err)
		}
	}
	if _, ok := violatedConstraint(err, pgForeignKeyViolation); ok {
		return fmt.Errorf("%w: %v", wallet.ErrWalletNotFound, err)
	}
	return storageError(message, err)
}

// GetTransaction retrieves a transaction by ID
func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "id = $1", id, false)
}

// GetTransactionForUpdate retrieves a transaction with row-level locking (SELECT FOR UPDATE).
// It must run inside a unit of work; the lock is held until it ends.
func (r *LedgerRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	if err := requireTx(ctx, "lock transaction"); err != nil {
		return nil, err
	}
	return r.getTransaction(ctx, "id = $1", id, true)
}

// GetTransactionByIdempotencyKey retrieves a transaction by its idempotency key
func (r *LedgerRepository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "idempotency_key = $1", key, false)
}

// GetTransactionByReference retrieves a transaction by its human-readable reference
func (r *LedgerRepository) GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "reference = $1", reference, false)
}

// GetTransactionByProviderReference retrieves a transaction by the provider's reference
func (r *LedgerRepository) GetTransactionByProviderReference(ctx context.Context, providerReference string) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "provider_reference = $1", providerReference, false)
}

func (r *LedgerRepository) getTransaction(ctx context.Context, where string, arg any, forUpdate bool) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where
	if forUpdate {
		query += " FOR UPDATE"
	}

	q := queryerFor(ctx, r.pool)
	tx, err := scanTransaction(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, storageError("failed to get transaction", err)
	}

	return tx, nil
}

// UpdateTransaction persists the mutable fields of a transaction
func (r *LedgerRepository) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	providerResponseJSON, err := marshalJSON(tx.ProviderResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal provider response: %w", err)
	}
	metadataJSON, err := marshalJSON(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE transactions
		SET status = $2,
			provider_reference = $3,
			provider_response = $4,
			failure_reason = $5,
			metadata = $6,
			updated_at = $7,
			completed_at = $8
		WHERE id = $1
	`

	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, query,
		tx.ID,
		string(tx.Status),
		tx.ProviderReference,
		providerResponseJSON,
		tx.FailureReason,
		metadataJSON,
		tx.UpdatedAt,
		tx.CompletedAt,
	)
	if err != nil {
		return mapTransactionWriteError("failed to update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}

	return nil
}

// ListTransactionsByWallet lists the transactions that debit or credit a wallet, newest first
func (r *LedgerRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	filters = filters.Normalize()

	conditions := []string{"(source_wallet_id = $1 OR destination_wallet_id = $1)"}
	args := []any{walletID}

	if filters.Type != nil {
		args = append(args, string(*filters.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, filters.Limit, filters.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, transactionColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("failed to query transactions", err)
	}
	defer rows.Close()

	var transactions []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storageError("failed to scan transaction", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating transactions", err)
	}

	return transactions, nil
}

// scanTransaction scans a single transaction from a row
func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var txType, status, amountStr string
	var providerResponseJSON, metadataJSON []byte

	err := row.Scan(
		&tx.ID,
		&tx.Reference,
		&tx.IdempotencyKey,
		&txType,
		&status,
		&amountStr,
		&tx.Currency,
		&tx.InitiatedBy,
		&tx.SourceWalletID,
		&tx.DestinationWalletID,
		&tx.ProviderReference,
		&providerResponseJSON,
		&tx.FailureReason,
		&tx.ReversalOf,
		&tx.Description,
		&metadataJSON,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = ledger.TransactionType(txType)
	tx.Status = ledger.TransactionStatus(status)

	amount, err := parseBigInt(amountStr, "amount")
	if err != nil {
		return nil, err
	}
	tx.Amount = amount

	if len(providerResponseJSON) > 0 {
		if err := json.Unmarshal(providerResponseJSON, &tx.ProviderResponse); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider response: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	if tx.CompletedAt != nil {
		completedAt := tx.CompletedAt.UTC()
		tx.CompletedAt = &completedAt
	}

	return &tx, nil
}

// Entry operations (append-only)

// CreateEntry appends a ledger entry. Entries are never updated or deleted.
func (r *LedgerRepository) CreateEntry(ctx context.Context, entry *ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	q := queryerFor(ctx, r.pool)
	_, err := q.Exec(ctx, query,
		entry.ID.String(),
		entry.TransactionID,
		entry.WalletID,
		string(entry.Direction),
		entry.Amount.String(),
		entry.Currency,
		entry.BalanceAfter.String(),
		entry.CreatedAt,
	)
	if err != nil {
		if _, ok := violatedConstraint(err, pgForeignKeyViolation); ok {
			return fmt.Errorf("%w: %v", wallet.ErrWalletNotFound, err)
		}
		return storageError("failed to create entry", err)
	}

	return nil
}

// GetEntriesByTransaction retrieves all entries of a transaction in posting order
func (r *LedgerRepository) GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY id ASC
	`

	return r.queryEntries(ctx, query, transactionID)
}

// ListEntriesByWallet returns a page of a wallet's entries ordered by creation
func (r *LedgerRepository) ListEntriesByWallet(ctx context.Context, walletID uuid.UUID, filters ledger.EntryFilters) ([]*ledger.Entry, error) {
	filters = filters.Normalize()

	order := "ASC"
	if filters.Descending {
		order = "DESC"
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY id ` + order + `
		LIMIT $2 OFFSET $3
	`

	return r.queryEntries(ctx, query, walletID, filters.Limit, filters.Offset)
}

func (r *LedgerRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*ledger.Entry, error) {
	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("failed to query entries", err)
	}
	defer rows.Close()

	entries := make([]*ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageError("failed to scan entry", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating entries", err)
	}

	return entries, nil
}

// scanEntry scans a single entry from a row
func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var entry ledger.Entry
	var id, direction, amountStr, balanceAfterStr string

	err := row.Scan(
		&id,
		&entry.TransactionID,
		&entry.WalletID,
		&direction,
		&amountStr,
		&entry.Currency,
		&balanceAfterStr,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID, err = ulid.ParseStrict(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry id %q: %w", id, err)
	}
	entry.Direction = ledger.Direction(direction)

	if entry.Amount, err = parseBigInt(amountStr, "amount"); err != nil {
		return nil, err
	}
	if entry.BalanceAfter, err = parseBigInt(balanceAfterStr, "balance_after"); err != nil {
		return nil, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	return &entry, nil
}

// Wallet balance operations

// LockWallet reads a wallet with row-level locking (SELECT FOR UPDATE)
func (r *LedgerRepository) LockWallet(ctx context.Context, walletID uuid.UUID) (*wallet.Wallet, error) {
	if err := requireTx(ctx, "lock wallet"); err != nil {
		return nil, err
	}

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	q := queryerFor(ctx, r.pool)
	w, err := scanWallet(q.QueryRow(ctx, query, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, storageError("failed to lock wallet", err)
	}

	return w, nil
}

// UpdateWalletBalance overwrites the cached balance of a locked wallet
func (r *LedgerRepository) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance *big.Int) error {
	if err := requireTx(ctx, "update wallet balance"); err != nil {
		return err
	}
	if balance == nil || balance.Sign() < 0 {
		return ledger.ErrNegativeBalance
	}

	query := `
		UPDATE wallets
		SET cached_balance = $2, updated_at = NOW()
		WHERE id = $1
	`

	q := queryerFor(ctx, r.pool)
	tag, err := q.Exec(ctx, query, walletID, balance.String())
	if err != nil {
		if _, ok := violatedConstraint(err, pgCheckViolation); ok {
			return fmt.Errorf("%w: %v", ledger.ErrNegativeBalance, err)
		}
		return storageError("failed to update wallet balance", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrWalletNotFound
	}

	return nil
}

// Unit of work

// BeginTx starts a new database transaction and stores it in the context
func (r *LedgerRepository) BeginTx(ctx context.Context) (context.Context, error) {
	return beginTx(ctx, r.pool)
}

// CommitTx commits the database transaction from the context
func (r *LedgerRepository) CommitTx(ctx context.Context) error {
	return commitTx(ctx)
}

// RollbackTx rolls back the database transaction from the context
func (r *LedgerRepository) RollbackTx(ctx context.Context) error {
	return rollbackTx(ctx)
}

func parseBigInt(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse %s: %s", field, s)
	}
	return v, nil
}

// marshalJSON stores nil maps as SQL NULL
func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
