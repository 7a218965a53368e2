package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medivoyage/backend/internal/models"
	"github.com/shopspring/decimal"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

const disputeColumns = `id, escrow_id, opened_by_id, status, reason, description, evidence, resolution, adjusted_amount, opened_at, resolved_at`

func scanDispute(row pgx.Row, d *models.DisputeCase) error {
	return row.Scan(&d.ID, &d.EscrowID, &d.OpenedByID, &d.Status, &d.Reason, &d.Description,
		&d.Evidence, &d.Resolution, &d.AdjustedAmount, &d.OpenedAt, &d.ResolvedAt)
}

func (r *DisputeRepo) Create(ctx context.Context, db DB, d *models.DisputeCase) error {
	if db == nil {
		db = r.pool
	}
	return db.QueryRow(ctx, `
		INSERT INTO dispute_cases (id, escrow_id, opened_by_id, status, reason, description, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING opened_at
	`, d.ID, d.EscrowID, d.OpenedByID, d.Status, d.Reason, d.Description, d.Evidence).Scan(&d.OpenedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, escrowID, disputeID uuid.UUID) (*models.DisputeCase, error) {
	var d models.DisputeCase
	err := scanDispute(r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM dispute_cases WHERE id = $1 AND escrow_id = $2
	`, disputeID, escrowID), &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrDisputeNotFound, disputeID)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.DisputeCase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM dispute_cases WHERE escrow_id = $1 ORDER BY opened_at
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.DisputeCase
	for rows.Next() {
		var d models.DisputeCase
		if err := scanDispute(rows, &d); err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// CountOpen counts disputes still blocking the escrow.
func (r *DisputeRepo) CountOpen(ctx context.Context, db DB, escrowID uuid.UUID) (int, error) {
	if db == nil {
		db = r.pool
	}
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM dispute_cases
		WHERE escrow_id = $1 AND status IN ('opened', 'under_review', 'escalated')
	`, escrowID).Scan(&n)
	return n, err
}

// UpdateStatus moves a dispute between non-terminal statuses, guarded on the
// current status.
func (r *DisputeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dispute_cases SET status = $1 WHERE id = $2 AND status = ANY($3)
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: dispute %s cannot move to %s", models.ErrInvalidState, id, to)
	}
	return nil
}

// Resolve closes the dispute with resolution text and an optional settlement
// amount. Already-resolved disputes are left untouched.
func (r *DisputeRepo) Resolve(ctx context.Context, db DB, id uuid.UUID, resolution string, amount *decimal.Decimal) error {
	if db == nil {
		db = r.pool
	}
	tag, err := db.Exec(ctx, `
		UPDATE dispute_cases
		SET status = 'resolved', resolution = $1, adjusted_amount = $2, resolved_at = now()
		WHERE id = $3 AND status IN ('opened', 'under_review', 'escalated')
	`, resolution, amount, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: dispute %s already resolved", models.ErrInvalidState, id)
	}
	return nil
}
