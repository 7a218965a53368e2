package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medivoyage/backend/internal/models"
)

// DB is the subset of pgxpool.Pool and pgx.Tx the repositories need, so
// guarded updates can run either standalone or inside a service transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `
	id, quote_id, patient_id, surgeon_id, hospital_id,
	amount, currency, status,
	escrow_fee, processing_fee, conversion_fee,
	accepted_methods,
	two_factor_enabled, ip_allowlist, device_verification, session_timeout_minutes, last_activity,
	auto_release_days, dispute_window_days, refund_policy,
	created_at, updated_at, expires_at`

func scanEscrow(row pgx.Row, e *models.Escrow) error {
	return row.Scan(
		&e.ID, &e.QuoteID, &e.PatientID, &e.SurgeonID, &e.HospitalID,
		&e.Amount, &e.Currency, &e.Status,
		&e.EscrowFee, &e.ProcessingFee, &e.CurrencyConversionFee,
		&e.AcceptedMethods,
		&e.Security.TwoFactorEnabled, &e.Security.IPAllowlist, &e.Security.DeviceVerification,
		&e.Security.SessionTimeoutMinutes, &e.Security.LastActivity,
		&e.Terms.AutoReleaseDays, &e.Terms.DisputeWindowDays, &e.Terms.RefundPolicy,
		&e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt,
	)
}

// Create inserts the escrow together with its milestone rows atomically.
func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO escrows (
			id, quote_id, patient_id, surgeon_id, hospital_id,
			amount, currency, status,
			escrow_fee, processing_fee, conversion_fee,
			accepted_methods,
			two_factor_enabled, ip_allowlist, device_verification, session_timeout_minutes,
			auto_release_days, dispute_window_days, refund_policy,
			expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`, e.ID, e.QuoteID, e.PatientID, e.SurgeonID, e.HospitalID,
		e.Amount, e.Currency, e.Status,
		e.EscrowFee, e.ProcessingFee, e.CurrencyConversionFee,
		e.AcceptedMethods,
		e.Security.TwoFactorEnabled, e.Security.IPAllowlist, e.Security.DeviceVerification, e.Security.SessionTimeoutMinutes,
		e.Terms.AutoReleaseDays, e.Terms.DisputeWindowDays, e.Terms.RefundPolicy,
		e.ExpiresAt,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return mapEscrowInsertError(err, e.QuoteID)
	}

	for i := range e.Milestones {
		m := &e.Milestones[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO escrow_milestones (id, escrow_id, name, position, percent, requirements, documents, estimated_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, m.ID, m.EscrowID, m.Name, m.Position, m.Percent, m.Requirements, m.Documents, m.EstimatedDate)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// mapEscrowInsertError turns the quote_id unique violation into a validation
// error so a racing duplicate create does not surface as an internal error.
func mapEscrowInsertError(err error, quoteID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: escrow already exists for quote %s", models.ErrValidation, quoteID)
	}
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadMilestones(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) GetByQuoteID(ctx context.Context, quoteID string) (*models.Escrow, error) {
	var e models.Escrow
	err := scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE quote_id = $1`, quoteID), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: quote %s", models.ErrNotFound, quoteID)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadMilestones(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) loadMilestones(ctx context.Context, e *models.Escrow) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, name, position, percent, released, released_at,
		       requirements, documents, estimated_date, actual_date
		FROM escrow_milestones WHERE escrow_id = $1 ORDER BY position
	`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	e.Milestones = nil
	for rows.Next() {
		var m models.Milestone
		if err := rows.Scan(&m.ID, &m.EscrowID, &m.Name, &m.Position, &m.Percent, &m.Released, &m.ReleasedAt,
			&m.Requirements, &m.Documents, &m.EstimatedDate, &m.ActualDate); err != nil {
			return err
		}
		e.Milestones = append(e.Milestones, m)
	}
	return rows.Err()
}

type EscrowFilter struct {
	PatientID  *uuid.UUID
	SurgeonID  *uuid.UUID
	HospitalID *uuid.UUID
	Status     *string
	Limit      int
	Offset     int
}

// List returns escrow records without their milestone sub-collections.
func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", argIdx))
		args = append(args, *f.PatientID)
		argIdx++
	}
	if f.SurgeonID != nil {
		where = append(where, fmt.Sprintf("surgeon_id = $%d", argIdx))
		args = append(args, *f.SurgeonID)
		argIdx++
	}
	if f.HospitalID != nil {
		where = append(where, fmt.Sprintf("hospital_id = $%d", argIdx))
		args = append(args, *f.HospitalID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := scanEscrow(rows, &e); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// LockStatus reads the escrow status under a row lock. Within a transaction
// it serializes against concurrent status flips: a racing guarded UPDATE
// blocks until this transaction commits.
func (r *EscrowRepo) LockStatus(ctx context.Context, db DB, id uuid.UUID) (string, error) {
	if db == nil {
		db = r.pool
	}
	var status string
	err := db.QueryRow(ctx, `SELECT status FROM escrows WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return status, err
}

// UpdateStatus performs a guarded status flip. Exactly one of two racing
// writers sees a row change; the loser gets ErrInvalidState.
func (r *EscrowRepo) UpdateStatus(ctx context.Context, db DB, id uuid.UUID, from, to string) error {
	if db == nil {
		db = r.pool
	}
	tag, err := db.Exec(ctx, `
		UPDATE escrows SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: escrow %s no longer %s", models.ErrInvalidState, id, from)
	}
	return nil
}

// ReleaseMilestone marks the milestone released if and only if it is still
// unreleased. Zero rows affected means another writer won the race.
func (r *EscrowRepo) ReleaseMilestone(ctx context.Context, db DB, escrowID uuid.UUID, name string) error {
	if db == nil {
		db = r.pool
	}
	tag, err := db.Exec(ctx, `
		UPDATE escrow_milestones
		SET released = true, released_at = now(), actual_date = now()
		WHERE escrow_id = $1 AND name = $2 AND released = false
	`, escrowID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrAlreadyReleased, name)
	}
	return nil
}

func (r *EscrowRepo) UpdateSecurity(ctx context.Context, id uuid.UUID, s models.SecuritySettings) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET two_factor_enabled = $1, ip_allowlist = $2, device_verification = $3,
		    session_timeout_minutes = $4, last_activity = now(), updated_at = now()
		WHERE id = $5
	`, s.TwoFactorEnabled, s.IPAllowlist, s.DeviceVerification, s.SessionTimeoutMinutes, id)
	return err
}

// AddPaymentMethod appends the method unless it is already accepted.
func (r *EscrowRepo) AddPaymentMethod(ctx context.Context, id uuid.UUID, method string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET accepted_methods = array_append(accepted_methods, $1), updated_at = now()
		WHERE id = $2 AND NOT ($1 = ANY(accepted_methods))
	`, method, id)
	return err
}

func (r *EscrowRepo) TouchActivity(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE escrows SET last_activity = now(), updated_at = now() WHERE id = $1`, id)
	return err
}

// ListExpiredUnfunded finds escrows never funded whose expiry has passed,
// for the expiry sweep. An escrow with a deposit still settling is not
// expired: the charge may yet complete and activate it.
func (r *EscrowRepo) ListExpiredUnfunded(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM escrows e
		WHERE status IN ('created', 'pending_payment')
		  AND expires_at IS NOT NULL AND expires_at < now()
		  AND NOT EXISTS (
			SELECT 1 FROM payment_transactions t
			WHERE t.escrow_id = e.id AND t.type = 'deposit' AND t.status IN ('pending', 'processing')
		  )
		ORDER BY expires_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAutoReleaseDue finds active escrows whose next unreleased milestone is
// past its estimated date plus the per-escrow auto-release grace period and
// which carry no open dispute.
func (r *EscrowRepo) ListAutoReleaseDue(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id
		FROM escrows e
		JOIN escrow_milestones m ON m.escrow_id = e.id
		WHERE e.status = 'active'
		  AND m.released = false
		  AND m.position = (
			SELECT MIN(position) FROM escrow_milestones
			WHERE escrow_id = e.id AND released = false
		  )
		  AND m.estimated_date + (e.auto_release_days || ' days')::interval < now()
		  AND NOT EXISTS (
			SELECT 1 FROM dispute_cases d
			WHERE d.escrow_id = e.id AND d.status IN ('opened', 'under_review', 'escalated')
		  )
		ORDER BY m.estimated_date LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
