package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
)

// WalletRepository implements the wallet repository using PostgreSQL
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new PostgreSQL wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

const walletColumns = `id, owner_type, owner_id, currency, status, cached_balance, created_at, updated_at`

// Create inserts the wallet, or returns the one that already exists for the same
// owner and currency. Concurrent creators all get the same row.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) (*wallet.Wallet, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	insert := `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT wallets_owner_currency_key DO NOTHING
	`

	q := queryerFor(ctx, r.pool)
	_, err := q.Exec(ctx, insert,
		w.ID,
		string(w.OwnerType),
		w.OwnerID,
		w.Currency,
		string(w.Status),
		w.Balance().String(),
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return nil, storageError("failed to create wallet", err)
	}

	return r.GetByOwner(ctx, w.OwnerType, w.OwnerID, w.Currency)
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByOwner retrieves the wallet of an owner in a currency
func (r *WalletRepository) GetByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID, currency string) (*wallet.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_type = $1 AND owner_id = $2 AND currency = $3
	`
	return r.getOne(ctx, query, string(ownerType), ownerID, currency)
}

func (r *WalletRepository) getOne(ctx context.Context, query string, args ...any) (*wallet.Wallet, error) {
	q := queryerFor(ctx, r.pool)
	w, err := scanWallet(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, storageError("failed to get wallet", err)
	}
	return w, nil
}

// ListByOwner retrieves all wallets of an owner
func (r *WalletRepository) ListByOwner(ctx context.Context, ownerType wallet.OwnerType, ownerID uuid.UUID) ([]*wallet.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY currency ASC
	`

	q := queryerFor(ctx, r.pool)
	rows, err := q.Query(ctx, query, string(ownerType), ownerID)
	if err != nil {
		return nil, storageError("failed to list wallets", err)
	}
	defer rows.Close()

	wallets := make([]*wallet.Wallet, 0)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, storageError("failed to scan wallet", err)
		}
		wallets = append(wallets, w)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating wallets", err)
	}

	return wallets, nil
}

// SetStatus changes the status of a wallet that is not CLOSED
func (r *WalletRepository) SetStatus(ctx context.Context, id uuid.UUID, status wallet.Status) (*wallet.Wallet, error) {
	if !status.IsValid() || status == wallet.StatusClosed {
		return nil, fmt.Errorf("%w: %q", wallet.ErrInvalidStatus, status)
	}

	query := `
		UPDATE wallets
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'CLOSED'
		RETURNING ` + walletColumns

	q := queryerFor(ctx, r.pool)
	w, err := scanWallet(q.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.explainMiss(ctx, id, wallet.ErrWalletClosed)
		}
		return nil, storageError("failed to set wallet status", err)
	}

	return w, nil
}

// Close marks the wallet CLOSED if its cached balance is zero.
// The balance check and the update are one statement, so a concurrent posting
// either lands before the close or sees a CLOSED wallet.
func (r *WalletRepository) Close(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `
		UPDATE wallets
		SET status = 'CLOSED', updated_at = NOW()
		WHERE id = $1 AND cached_balance = 0
		RETURNING ` + walletColumns

	q := queryerFor(ctx, r.pool)
	w, err := scanWallet(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.explainMiss(ctx, id, wallet.ErrNonZeroBalance)
		}
		return nil, storageError("failed to close wallet", err)
	}

	return w, nil
}

// explainMiss distinguishes a missing wallet from one the guarded update skipped
func (r *WalletRepository) explainMiss(ctx context.Context, id uuid.UUID, skipped error) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return skipped
}

// SumLedgerEntries returns credits minus debits over every entry of the wallet
func (r *WalletRepository) SumLedgerEntries(ctx context.Context, id uuid.UUID) (*big.Int, error) {
	query := `
		SELECT COALESCE(SUM(
			CASE
				WHEN direction = 'CREDIT' THEN amount
				WHEN direction = 'DEBIT' THEN -amount
			END
		), 0)::text
		FROM ledger_entries
		WHERE wallet_id = $1
	`

	var sumStr string
	q := queryerFor(ctx, r.pool)
	if err := q.QueryRow(ctx, query, id).Scan(&sumStr); err != nil {
		return nil, storageError("failed to sum ledger entries", err)
	}

	return parseBigInt(sumStr, "ledger balance")
}

// BalanceSnapshot returns the cached balance and the entry sum as seen by one statement
func (r *WalletRepository) BalanceSnapshot(ctx context.Context, id uuid.UUID) (*big.Int, *big.Int, error) {
	query := `
		SELECT w.cached_balance::text,
			COALESCE((
				SELECT SUM(
					CASE
						WHEN e.direction = 'CREDIT' THEN e.amount
						WHEN e.direction = 'DEBIT' THEN -e.amount
					END
				)
				FROM ledger_entries e
				WHERE e.wallet_id = w.id
			), 0)::text
		FROM wallets w
		WHERE w.id = $1
	`

	var cachedStr, sumStr string
	q := queryerFor(ctx, r.pool)
	if err := q.QueryRow(ctx, query, id).Scan(&cachedStr, &sumStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, wallet.ErrWalletNotFound
		}
		return nil, nil, storageError("failed to read balance snapshot", err)
	}

	cached, err := parseBigInt(cachedStr, "cached balance")
	if err != nil {
		return nil, nil, err
	}
	sum, err := parseBigInt(sumStr, "ledger balance")
	if err != nil {
		return nil, nil, err
	}
	return cached, sum, nil
}

// scanWallet scans a single wallet from a row
func scanWallet(row pgx.Row) (*wallet.Wallet, error) {
	var w wallet.Wallet
	var ownerType, status, balanceStr string

	err := row.Scan(
		&w.ID,
		&ownerType,
		&w.OwnerID,
		&w.Currency,
		&status,
		&balanceStr,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.OwnerType = wallet.OwnerType(ownerType)
	w.Status = wallet.Status(status)
	if w.CachedBalance, err = parseBigInt(balanceStr, "cached_balance"); err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()

	return &w, nil
}
