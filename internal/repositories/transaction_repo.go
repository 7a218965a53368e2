package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medivoyage/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `id, escrow_id, type, amount, currency, status, method, description, reference, fee, metadata, created_at, updated_at`

func scanTransaction(row pgx.Row, t *models.PaymentTransaction) error {
	var metaBytes []byte
	if err := row.Scan(&t.ID, &t.EscrowID, &t.Type, &t.Amount, &t.Currency, &t.Status, &t.Method,
		&t.Description, &t.Reference, &t.Fee, &metaBytes, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &t.Metadata)
	}
	return nil
}

// Create inserts a ledger entry. The partial unique indexes on live deposits
// and settling refunds are the race arbiter: when two concurrent inserts
// collide, the loser's unique violation is mapped to the domain error here.
func (r *TransactionRepo) Create(ctx context.Context, db DB, t *models.PaymentTransaction) error {
	if db == nil {
		db = r.pool
	}
	metaBytes, _ := json.Marshal(t.Metadata)
	err := db.QueryRow(ctx, `
		INSERT INTO payment_transactions (id, escrow_id, type, amount, currency, status, method, description, reference, fee, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.EscrowID, t.Type, t.Amount, t.Currency, t.Status, t.Method, t.Description, t.Reference, t.Fee, metaBytes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)

	return mapLedgerInsertError(err)
}

// mapLedgerInsertError turns a unique violation on one of the live-transaction
// indexes into the domain error the losing writer should see.
func mapLedgerInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "uq_transactions_live_deposit":
			return fmt.Errorf("%w: a deposit is already pending or completed", models.ErrAlreadyFunded)
		case "uq_transactions_settling_refund":
			return fmt.Errorf("%w: a refund is already processing", models.ErrInvalidState)
		}
	}
	return err
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE id = $1`, id), &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.PaymentTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM payment_transactions WHERE escrow_id = $1 ORDER BY created_at
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.PaymentTransaction
	for rows.Next() {
		var t models.PaymentTransaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListProcessing returns deposit and refund transactions awaiting settlement,
// oldest first, for the settlement poller.
func (r *TransactionRepo) ListProcessing(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM payment_transactions
		WHERE status = 'processing' AND type IN ('deposit', 'refund')
		ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.PaymentTransaction
	for rows.Next() {
		var t models.PaymentTransaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// UpdateStatus flips a ledger entry to a new status, guarded on the current
// one so terminal entries stay immutable.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, db DB, id uuid.UUID, from, to string) error {
	if db == nil {
		db = r.pool
	}
	if !models.IsValidTxStatusChange(from, to) {
		return fmt.Errorf("%w: transaction cannot move from %s to %s", models.ErrInvalidState, from, to)
	}
	tag, err := db.Exec(ctx, `
		UPDATE payment_transactions SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s no longer %s", models.ErrInvalidState, id, from)
	}
	return nil
}

// HasActiveDeposit reports whether a deposit is already processing or has
// completed for the escrow. Failed deposits do not count; those may be retried.
func (r *TransactionRepo) HasActiveDeposit(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE escrow_id = $1 AND type = 'deposit' AND status IN ('pending', 'processing', 'completed')
		)
	`, escrowID).Scan(&exists)
	return exists, err
}

// HasProcessingDeposit reports whether a deposit is still awaiting settlement.
func (r *TransactionRepo) HasProcessingDeposit(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE escrow_id = $1 AND type = 'deposit' AND status IN ('pending', 'processing')
		)
	`, escrowID).Scan(&exists)
	return exists, err
}

// HasProcessingRefund reports whether a refund is already awaiting settlement.
func (r *TransactionRepo) HasProcessingRefund(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE escrow_id = $1 AND type = 'refund' AND status IN ('pending', 'processing')
		)
	`, escrowID).Scan(&exists)
	return exists, err
}

// SetReference records the gateway reference assigned at charge initiation.
func (r *TransactionRepo) SetReference(ctx context.Context, id uuid.UUID, reference string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_transactions SET reference = $1, updated_at = now() WHERE id = $2
	`, reference, id)
	return err
}

// HasCompletedDeposit reports whether the escrow has been funded.
func (r *TransactionRepo) HasCompletedDeposit(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE escrow_id = $1 AND type = 'deposit' AND status = 'completed'
		)
	`, escrowID).Scan(&exists)
	return exists, err
}
